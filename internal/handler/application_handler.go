package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/avtomat-kz/avtomat-api/internal/middleware"
	"github.com/avtomat-kz/avtomat-api/internal/models"
	"github.com/avtomat-kz/avtomat-api/internal/service"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/response"
)

type applicationService interface {
	List(ctx context.Context, who models.StaffIdentity, req service.ApplicationListRequest) ([]models.ApplicationDetail, *models.Pagination, error)
	Get(ctx context.Context, who models.StaffIdentity, id int64) (*models.ApplicationDetail, error)
	UpdateStatus(ctx context.Context, who models.StaffIdentity, id int64, raw string) (*models.ApplicationDetail, error)
	SendResponse(ctx context.Context, who models.StaffIdentity, id int64) (bool, error)
}

type applicationExporter interface {
	Applications(ctx context.Context, who models.StaffIdentity, status, format string) (*service.ExportFile, error)
}

// ApplicationHandler serves the staff application panel.
type ApplicationHandler struct {
	service  applicationService
	exporter applicationExporter
	validate *validator.Validate
}

// NewApplicationHandler constructs the handler.
func NewApplicationHandler(svc applicationService, exporter applicationExporter, validate *validator.Validate) *ApplicationHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &ApplicationHandler{service: svc, exporter: exporter, validate: validate}
}

// List godoc
// @Summary List applications
// @Description Applications visible to the caller, newest first
// @Tags Applications
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter (new, confirmed, paid, completed, cancelled)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	who, ok := staffIdentity(c)
	if !ok {
		return
	}
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	size, ok := queryInt(c, "page_size", 0)
	if !ok {
		return
	}

	items, pagination, err := h.service.List(c.Request.Context(), who, service.ApplicationListRequest{
		Status:   c.Query("status"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.ResponseMeta(c))
}

// Get godoc
// @Summary Get application
// @Tags Applications
// @Produce json
// @Security BearerAuth
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	who, ok := staffIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), who, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// UpdateStatus godoc
// @Summary Change application status
// @Description Moves the application along its lifecycle
// @Tags Applications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Application ID"
// @Param payload body models.UpdateStatusRequest true "New status"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /api/v1/applications/{id}/status [patch]
func (h *ApplicationHandler) UpdateStatus(c *gin.Context) {
	who, ok := staffIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "status is required"))
		return
	}

	updated, err := h.service.UpdateStatus(c.Request.Context(), who, id, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// SendResponse godoc
// @Summary Resend confirmation to the student
// @Tags Applications
// @Produce json
// @Security BearerAuth
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/applications/{id}/send-response [post]
func (h *ApplicationHandler) SendResponse(c *gin.Context) {
	who, ok := staffIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	delivered, err := h.service.SendResponse(c.Request.Context(), who, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"delivered": delivered}, nil)
}

// Export godoc
// @Summary Export applications
// @Description Downloads visible applications as CSV or PDF
// @Tags Applications
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Param status query string false "Status filter"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /api/v1/applications/export [get]
func (h *ApplicationHandler) Export(c *gin.Context) {
	who, ok := staffIdentity(c)
	if !ok {
		return
	}
	if h.exporter == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	file, err := h.exporter.Applications(c.Request.Context(), who, c.Query("status"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
