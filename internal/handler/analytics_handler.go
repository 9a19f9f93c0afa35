package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/avtomat-kz/avtomat-api/internal/middleware"
	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/response"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

type trustAnalytics interface {
	TrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error)
	RefreshTrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error)
	RefreshAllTrustIndices(ctx context.Context) error
	TrustLeaderboard(ctx context.Context, limit int) ([]models.TrustLeader, error)
	DisciplineIndex(ctx context.Context, userID int64) (*models.DisciplineIndex, error)
}

type schoolOwnership interface {
	OwnedSchool(ctx context.Context, userID int64) (*models.School, error)
}

// AnalyticsHandler exposes trust and discipline index endpoints.
type AnalyticsHandler struct {
	analytics trustAnalytics
	schools   schoolOwnership
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(analytics trustAnalytics, schools schoolOwnership) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, schools: schools}
}

// targetSchool resolves which school a request is about. School owners always get
// their own school; admins must name one with school_id unless optional is set.
func (h *AnalyticsHandler) targetSchool(c *gin.Context, who models.StaffIdentity, optional bool) (int64, bool) {
	if !who.SeesAll() {
		school, err := h.schools.OwnedSchool(c.Request.Context(), who.UserID)
		if err != nil {
			response.Error(c, err)
			return 0, false
		}
		if raw := c.Query("school_id"); raw != "" && raw != strconv.FormatInt(school.ID, 10) {
			response.Error(c, appErrors.ErrForbidden)
			return 0, false
		}
		return school.ID, true
	}
	raw := c.Query("school_id")
	if raw == "" {
		if optional {
			return 0, true
		}
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "school_id is required"))
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "school_id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// Trust godoc
// @Summary Trust index of a school
// @Description School owners see their own school; admins pass school_id
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param school_id query int false "School ID (admin only)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/analytics/trust [get]
func (h *AnalyticsHandler) Trust(c *gin.Context) {
	who, ok := staffIdentity(c)
	if !ok {
		return
	}
	schoolID, ok := h.targetSchool(c, who, false)
	if !ok {
		return
	}
	idx, err := h.analytics.TrustIndex(c.Request.Context(), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, idx, nil)
}

// RefreshTrust godoc
// @Summary Recompute trust indices
// @Description Recomputes one school, or every active school when an admin omits school_id
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param school_id query int false "School ID"
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /api/v1/analytics/trust/refresh [post]
func (h *AnalyticsHandler) RefreshTrust(c *gin.Context) {
	who, ok := staffIdentity(c)
	if !ok {
		return
	}
	schoolID, ok := h.targetSchool(c, who, true)
	if !ok {
		return
	}
	if schoolID == 0 {
		if err := h.analytics.RefreshAllTrustIndices(c.Request.Context()); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "some trust indices were not refreshed"))
			return
		}
		response.JSON(c, http.StatusOK, gin.H{"refreshed": "all"}, nil, middleware.ResponseMeta(c))
		return
	}
	idx, err := h.analytics.RefreshTrustIndex(c.Request.Context(), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, idx, nil, middleware.ResponseMeta(c))
}

// Leaderboard godoc
// @Summary Best trusted schools
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of schools (default 10, max 100)"
// @Success 200 {object} response.Envelope
// @Router /api/v1/analytics/trust/leaderboard [get]
func (h *AnalyticsHandler) Leaderboard(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultLeaderboardSize)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	leaders, err := h.analytics.TrustLeaderboard(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, leaders, nil)
}

// Discipline godoc
// @Summary Discipline index of a student
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param user_id path int true "Student user ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/analytics/discipline/{user_id} [get]
func (h *AnalyticsHandler) Discipline(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	idx, err := h.analytics.DisciplineIndex(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, idx, nil, middleware.ResponseMeta(c))
}
