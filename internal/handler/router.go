package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/avtomat-kz/avtomat-api/internal/middleware"
	"github.com/avtomat-kz/avtomat-api/internal/models"
)

// Handlers groups every HTTP handler. WebApp is optional.
type Handlers struct {
	Auth         *AuthHandler
	WebApp       *WebAppHandler
	Applications *ApplicationHandler
	Dashboard    *DashboardHandler
	Analytics    *AnalyticsHandler
	Catalog      *CatalogHandler
	Health       *HealthHandler
	Metrics      *MetricsHandler
}

// Register mounts all routes on r. Staff routes require a valid token and a staff role;
// Mini App routes require signed init data.
func Register(r *gin.Engine, h Handlers, tokens middleware.TokenValidator) {
	r.GET("/health", h.Health.Health)
	r.GET("/ready", h.Health.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group("/api/v1")
	api.POST("/auth/login", h.Auth.Login)
	api.GET("/cities", h.Catalog.Cities)
	api.GET("/schools", h.Catalog.Schools)
	api.GET("/instructors", h.Catalog.Instructors)

	if h.WebApp != nil {
		api.POST("/auth/telegram", h.WebApp.Authenticate)
		webapp := api.Group("/webapp", middleware.WebApp(h.WebApp.verifier))
		webapp.POST("/applications", h.WebApp.CreateApplication)
		webapp.GET("/applications/:id", h.WebApp.GetApplication)
	}

	staff := api.Group("")
	staff.Use(middleware.JWT(tokens), middleware.RequireRoles(models.RoleAdmin, models.RoleSchool, models.RoleInstructor), middleware.WithResponseMeta())
	staff.GET("/auth/me", h.Auth.Me)
	staff.GET("/dashboard", h.Dashboard.Stats)

	apps := staff.Group("/applications")
	apps.GET("", h.Applications.List)
	apps.GET("/export", h.Applications.Export)
	apps.GET("/:id", h.Applications.Get)
	apps.PATCH("/:id/status", h.Applications.UpdateStatus)
	apps.POST("/:id/send-response", h.Applications.SendResponse)

	analytics := staff.Group("/analytics")
	analytics.GET("/trust/leaderboard", h.Analytics.Leaderboard)
	analytics.GET("/discipline/:user_id", middleware.RequireRoles(models.RoleAdmin), h.Analytics.Discipline)
	trust := analytics.Group("/trust", middleware.RequireRoles(models.RoleAdmin, models.RoleSchool))
	trust.GET("", h.Analytics.Trust)
	trust.POST("/refresh", h.Analytics.RefreshTrust)
}
