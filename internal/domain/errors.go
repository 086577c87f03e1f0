// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity was in a state that does not allow the
// requested change, usually because a concurrent request changed it first.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates malformed input rejected before touching storage.
var ErrValidation = errors.New("validation failed")

// ErrForbidden indicates the caller's claims do not cover the target entity.
var ErrForbidden = errors.New("forbidden")

// ErrConfiguration indicates missing or invalid provisioning data, such as a
// tenant without a storage address. Never retried.
var ErrConfiguration = errors.New("configuration error")

// ErrUnavailable indicates a dependency (tenant store, answering service)
// could not be reached.
var ErrUnavailable = errors.New("service unavailable")

// ErrTimeout indicates a dependency did not answer within its bound.
var ErrTimeout = errors.New("timeout")

// ErrUpstream indicates a dependency answered with an error or an
// unusable response.
var ErrUpstream = errors.New("upstream error")

// ErrNotReady indicates the assistant's knowledge base is not provisioned yet.
var ErrNotReady = errors.New("knowledge base not ready")

// ConflictError is a conflict that carries the entity's current status as
// re-read after the failed conditional write.
type ConflictError struct {
	Entity  string
	ID      string
	Current string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: conflict, current status %q", e.Entity, e.ID, e.Current)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ValidationError describes which fields failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for f, msg := range e.Fields {
			return fmt.Sprintf("validation failed: %s: %s", f, msg)
		}
	}
	return fmt.Sprintf("validation failed: %d fields", len(e.Fields))
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CurrentStatus extracts the status carried by a ConflictError, if any.
func CurrentStatus(err error) (string, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Current, true
	}
	return "", false
}
