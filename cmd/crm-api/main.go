package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/avtomat-kz/avtomat-api/api/swagger"
	"github.com/avtomat-kz/avtomat-api/internal/handler"
	"github.com/avtomat-kz/avtomat-api/internal/middleware"
	"github.com/avtomat-kz/avtomat-api/internal/repository"
	"github.com/avtomat-kz/avtomat-api/internal/service"
	"github.com/avtomat-kz/avtomat-api/internal/telegram"
	"github.com/avtomat-kz/avtomat-api/pkg/cache"
	"github.com/avtomat-kz/avtomat-api/pkg/config"
	"github.com/avtomat-kz/avtomat-api/pkg/database"
	"github.com/avtomat-kz/avtomat-api/pkg/export"
	"github.com/avtomat-kz/avtomat-api/pkg/logger"
	corsmiddleware "github.com/avtomat-kz/avtomat-api/pkg/middleware/cors"
	reqidmiddleware "github.com/avtomat-kz/avtomat-api/pkg/middleware/requestid"
)

// @title AvtoMat CRM API
// @version 1.0.0
// @description Staff panel for driving school and instructor applications
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "crm-api")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("crm api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	location, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Bot.Timezone, err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := handler.NewValidator()

	users := repository.NewUserRepository(db)
	cities := repository.NewCityRepository(db)
	schools := repository.NewSchoolRepository(db)
	instructors := repository.NewInstructorRepository(db)
	applications := repository.NewApplicationRepository(db)
	events := repository.NewAnalyticsRepository(db)

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient), metrics, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.Enabled && redisClient != nil)
	catalog := service.NewCatalogService(cities, schools, instructors, logr)
	analytics := service.NewAnalyticsService(events, applications, schools, metrics, logr)
	refresher := service.NewScoreRefresher(analytics, service.ScoreRefresherConfig{
		Workers:       cfg.Scoring.Workers,
		MaxRetries:    cfg.Scoring.MaxRetries,
		SweepInterval: cfg.Scoring.SweepInterval,
		Logger:        logr,
	})
	dashboard := service.NewDashboardService(applications, schools, cacheSvc, cfg.Dashboard.CacheTTL, logr)
	auth := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "avtomat-crm",
	})
	exporter := service.NewExportService(applications, export.NewSpreadsheetCSVExporter(), export.NewPDFExporter(cfg.Export.FontPath), location, logr)

	// manual confirmations and the Mini App need the bot token; without it send-response
	// reports delivered=false and the Mini App routes are not mounted
	var sender *service.NotificationService
	if cfg.Telegram.Token != "" {
		client, err := telegram.NewClient(telegram.Config{Token: cfg.Telegram.Token, APIEndpoint: cfg.Telegram.APIEndpoint, Logger: logr})
		if err != nil {
			return err
		}
		sender = service.NewNotificationService(applications, schools, instructors, client, metrics, service.NotificationConfig{
			Workers:    cfg.Notify.Workers,
			MaxRetries: cfg.Notify.MaxRetries,
			RetryDelay: cfg.Notify.RetryDelay,
			Location:   location,
			Logger:     logr,
		})
	} else {
		logr.Warn("TELEGRAM_BOT_TOKEN not set, manual confirmations and mini app disabled")
	}
	var confirmations interface {
		Send(ctx context.Context, applicationID int64) error
	}
	if sender != nil {
		confirmations = sender
	}
	appSvc := service.NewApplicationService(applications, refresher, confirmations, dashboard, logr)

	var webApp *handler.WebAppHandler
	if sender != nil {
		factory := service.NewApplicationFactory(users, cities, applications, metrics, logr)
		webAppSvc := service.NewWebAppService(service.WebAppDeps{
			Students:     users,
			Factory:      factory,
			Applications: applications,
			Tracker:      analytics,
			Notifier:     sender,
			Trust:        refresher,
			Logger:       logr,
		})
		verifier := service.NewInitDataVerifier(cfg.Telegram.Token, cfg.Telegram.InitDataTTL)
		webApp = handler.NewWebAppHandler(webAppSvc, verifier, validate)

		sender.Start(ctx)
		defer sender.Stop()
	}

	refresher.Start(ctx)
	defer refresher.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	// an empty list already allows every origin
	origins := cfg.CORS.AllowedOrigins
	if o := corsmiddleware.Origin(cfg.Bot.MiniAppURL); o != "" && len(origins) > 0 {
		origins = append(append([]string{}, origins...), o)
	}
	r.Use(corsmiddleware.New(origins))
	r.Use(middleware.Metrics(metrics))

	pingers := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		pingers["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	handler.Register(r, handler.Handlers{
		Auth:         handler.NewAuthHandler(auth),
		WebApp:       webApp,
		Applications: handler.NewApplicationHandler(appSvc, exporter, validate),
		Dashboard:    handler.NewDashboardHandler(dashboard),
		Analytics:    handler.NewAnalyticsHandler(analytics, catalog),
		Catalog:      handler.NewCatalogHandler(catalog),
		Health:       handler.NewHealthHandler(pingers),
		Metrics:      handler.NewMetricsHandler(metrics.Handler()),
	}, auth)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
