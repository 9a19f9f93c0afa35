package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/response"
)

const (
	// InitDataHeader carries the raw Mini App init data.
	InitDataHeader = "X-Telegram-Init-Data"

	contextWebAppUserKey = "webAppUser"
)

// InitDataVerifier validates Mini App init data.
type InitDataVerifier interface {
	Verify(raw string) (*models.WebAppUser, error)
}

// WebApp authenticates Mini App requests. The init data is read from
// X-Telegram-Init-Data or from an "Authorization: tma <init data>" header.
func WebApp(verifier InitDataVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(InitDataHeader)
		if raw == "" {
			if scheme, rest, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok && strings.EqualFold(scheme, "tma") {
				raw = strings.TrimSpace(rest)
			}
		}
		if raw == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "init data is required"))
			c.Abort()
			return
		}

		user, err := verifier.Verify(raw)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(contextWebAppUserKey, *user)
		c.Next()
	}
}

// WebAppUser returns the verified Mini App user of the request, if any.
func WebAppUser(c *gin.Context) (models.WebAppUser, bool) {
	value, exists := c.Get(contextWebAppUserKey)
	if !exists {
		return models.WebAppUser{}, false
	}
	user, ok := value.(models.WebAppUser)
	return user, ok
}
