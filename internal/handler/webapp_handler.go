package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/avtomat-kz/avtomat-api/internal/middleware"
	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/response"
)

type webAppService interface {
	Authenticate(ctx context.Context, user models.WebAppUser) (*models.WebAppProfile, error)
	Submit(ctx context.Context, user models.WebAppUser, req models.WebAppApplicationRequest) (*models.ApplicationDetail, error)
	Get(ctx context.Context, user models.WebAppUser, id int64) (*models.ApplicationDetail, error)
}

// WebAppHandler serves the Telegram Mini App.
type WebAppHandler struct {
	service  webAppService
	verifier middleware.InitDataVerifier
	validate *validator.Validate
}

// NewWebAppHandler constructs the handler and registers its validation tags on validate.
func NewWebAppHandler(svc webAppService, verifier middleware.InitDataVerifier, validate *validator.Validate) *WebAppHandler {
	if validate == nil {
		validate = validator.New()
	}
	registerTags(validate)
	return &WebAppHandler{service: svc, verifier: verifier, validate: validate}
}

// Authenticate godoc
// @Summary Authenticate Mini App user
// @Description Verifies Telegram init data and registers the student
// @Tags MiniApp
// @Accept json
// @Produce json
// @Param payload body models.TelegramAuthRequest true "Init data"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /api/v1/auth/telegram [post]
func (h *WebAppHandler) Authenticate(c *gin.Context) {
	var req models.TelegramAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid auth payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "init_data is required"))
		return
	}

	user, err := h.verifier.Verify(req.InitData)
	if err != nil {
		response.Error(c, err)
		return
	}
	profile, err := h.service.Authenticate(c.Request.Context(), *user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// CreateApplication godoc
// @Summary Submit application from the Mini App
// @Tags MiniApp
// @Accept json
// @Produce json
// @Param X-Telegram-Init-Data header string true "Init data"
// @Param payload body models.WebAppApplicationRequest true "Application"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/webapp/applications [post]
func (h *WebAppHandler) CreateApplication(c *gin.Context) {
	user, ok := webAppUser(c)
	if !ok {
		return
	}
	var req models.WebAppApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, err.Error()))
		return
	}

	detail, err := h.service.Submit(c.Request.Context(), user, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, detail, nil)
}

// GetApplication godoc
// @Summary Get own application
// @Tags MiniApp
// @Produce json
// @Param X-Telegram-Init-Data header string true "Init data"
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/webapp/applications/{id} [get]
func (h *WebAppHandler) GetApplication(c *gin.Context) {
	user, ok := webAppUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), user, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

func webAppUser(c *gin.Context) (models.WebAppUser, bool) {
	user, ok := middleware.WebAppUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return user, ok
}
