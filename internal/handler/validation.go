package handler

import (
	"github.com/go-playground/validator/v10"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

// NewValidator returns a validator with the project's custom tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	registerTags(v)
	return v
}

func registerTags(v *validator.Validate) {
	// kzphone accepts numbers models.NormalizePhone can canonicalise
	_ = v.RegisterValidation("kzphone", func(fl validator.FieldLevel) bool {
		_, ok := models.NormalizePhone(fl.Field().String())
		return ok
	})
}
