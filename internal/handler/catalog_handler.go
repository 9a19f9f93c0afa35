package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/response"
)

type catalogService interface {
	Cities(ctx context.Context) ([]models.City, error)
	SchoolsInCity(ctx context.Context, cityName string) ([]models.School, error)
	InstructorsInCity(ctx context.Context, cityName string, autoType models.AutoType) ([]models.Instructor, error)
}

// CatalogHandler serves the public reference data used by the Mini App.
type CatalogHandler struct {
	catalog catalogService
}

// NewCatalogHandler constructs the handler.
func NewCatalogHandler(catalog catalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Cities godoc
// @Summary Active cities
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /api/v1/cities [get]
func (h *CatalogHandler) Cities(c *gin.Context) {
	cities, err := h.catalog.Cities(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cities, nil)
}

// Schools godoc
// @Summary Active schools of a city
// @Tags Catalog
// @Produce json
// @Param city query string true "City name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/schools [get]
func (h *CatalogHandler) Schools(c *gin.Context) {
	city := strings.TrimSpace(c.Query("city"))
	if city == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "city is required"))
		return
	}
	schools, err := h.catalog.SchoolsInCity(c.Request.Context(), city)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schools, nil)
}

// Instructors godoc
// @Summary Active instructors of a city
// @Tags Catalog
// @Produce json
// @Param city query string true "City name"
// @Param auto_type query string false "automatic or manual"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/instructors [get]
func (h *CatalogHandler) Instructors(c *gin.Context) {
	city := strings.TrimSpace(c.Query("city"))
	if city == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "city is required"))
		return
	}
	instructors, err := h.catalog.InstructorsInCity(c.Request.Context(), city, models.AutoType(c.Query("auto_type")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, instructors, nil)
}
