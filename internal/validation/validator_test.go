package validation

import (
	"errors"
	"testing"

	"github.com/Strob0t/supportdesk/internal/domain"
)

type sample struct {
	Email  string `json:"email" validate:"required,email"`
	Status string `json:"status" validate:"omitempty,oneof=offline available"`
	Text   string `json:"text" validate:"max=5"`
}

func TestStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name   string
		in     sample
		fields map[string]string
	}{
		{"valid", sample{Email: "a@example.com", Status: "available", Text: "hi"}, nil},
		{"missing email", sample{}, map[string]string{"email": "is required"}},
		{"bad email", sample{Email: "nope"}, map[string]string{"email": "must be a valid email address"}},
		{"bad status and long text", sample{Email: "a@example.com", Status: "busy", Text: "toolong"}, map[string]string{
			"status": "must be one of: offline available",
			"text":   "must be at most 5 characters",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.in)
			if tt.fields == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %T", err)
			}
			if len(ve.Fields) != len(tt.fields) {
				t.Fatalf("fields = %v, want %v", ve.Fields, tt.fields)
			}
			for k, want := range tt.fields {
				if ve.Fields[k] != want {
					t.Errorf("field %s = %q, want %q", k, ve.Fields[k], want)
				}
			}
		})
	}
}
