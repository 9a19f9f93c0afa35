package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/avtomat-kz/avtomat-api/internal/middleware"
	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/response"
)

// staffIdentity writes a 401 and returns false when the request is anonymous.
func staffIdentity(c *gin.Context) (models.StaffIdentity, bool) {
	who, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
	}
	return who, ok
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter, falling back to def.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, name+" must be a non-negative integer"))
		return 0, false
	}
	return v, true
}
