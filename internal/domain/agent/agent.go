// Package agent defines the human support agent of a tenant.
package agent

import "time"

// Availability is an agent's routing status.
type Availability string

const (
	StatusOffline   Availability = "offline"
	StatusAvailable Availability = "available"
	StatusBusy      Availability = "busy"
)

// Valid reports whether a is a known availability.
func (a Availability) Valid() bool {
	switch a {
	case StatusOffline, StatusAvailable, StatusBusy:
		return true
	}
	return false
}

// Agent is a human operator belonging to exactly one tenant.
type Agent struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Username     string       `json:"username"`
	DisplayName  string       `json:"display_name,omitempty"`
	PasswordHash string       `json:"-"`
	Status       Availability `json:"status"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CreateRequest is the input for creating an agent account.
type CreateRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=64"`
	Password    string `json:"password" validate:"required,min=8,max=128"` //nolint:gosec // request field, not a hardcoded secret
	DisplayName string `json:"display_name" validate:"max=128"`
}

// LoginRequest is the input for verifying agent credentials.
type LoginRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"` //nolint:gosec // request field, not a hardcoded secret
}

// StatusRequest is the input for an agent changing its own availability.
// Busy is only set by accepting a conversation.
type StatusRequest struct {
	Status Availability `json:"status" validate:"required,oneof=offline available"`
}

// ActiveRequest toggles whether an agent account may sign in.
type ActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}
