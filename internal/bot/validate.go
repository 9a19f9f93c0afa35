package bot

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

const timeLayout = "2006-01-02 15:04"

var (
	errBadPhone = errors.New("phone must be +7 followed by 10 digits")
	errBadName  = errors.New("name is too short")
	errBadTime  = errors.New("time must be YYYY-MM-DD HH:MM")
)

// normalizePhone validates a typed Kazakhstan number and returns it as +7XXXXXXXXXX.
func normalizePhone(raw string) (string, error) {
	phone, ok := models.NormalizePhone(raw)
	if !ok {
		return "", errBadPhone
	}
	return phone, nil
}

// contactPhone canonicalises a number shared through the messenger, which is trusted.
func contactPhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "+") {
		return raw
	}
	return "+" + raw
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) < 2 {
		return "", errBadName
	}
	return name, nil
}

// parseTimeSlot returns nil for "любое" (any time).
func parseTimeSlot(raw string, loc *time.Location) (*time.Time, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "любое" {
		return nil, nil
	}
	t, err := time.ParseInLocation(timeLayout, text, loc)
	if err != nil {
		return nil, errBadTime
	}
	return &t, nil
}
