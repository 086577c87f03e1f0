// Package validation checks request payloads against their struct tags.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Strob0t/supportdesk/internal/domain"
)

// Validator wraps the go-playground validator. Field names in errors are
// the JSON names clients send.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Struct validates s and returns a *domain.ValidationError describing every
// failing field.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	return &domain.ValidationError{Fields: FormatErrors(verrs)}
}

// FormatErrors turns validator errors into client-facing messages keyed by
// field name.
func FormatErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = "is required"
		case "email":
			out[field] = "must be a valid email address"
		case "min":
			out[field] = fmt.Sprintf("must be at least %s characters", e.Param())
		case "max":
			out[field] = fmt.Sprintf("must be at most %s characters", e.Param())
		case "oneof":
			out[field] = fmt.Sprintf("must be one of: %s", e.Param())
		default:
			out[field] = "is invalid"
		}
	}
	return out
}
