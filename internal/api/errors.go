package api

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend request failures. Check with errors.Is;
// the concrete *Error carries status and detail for display.
var (
	// ErrUnauthorized indicates the token was missing, expired, or rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
)

// Error is a structured backend error response.
type Error struct {
	Status int
	Detail string
}

// Error implements error.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// Is maps well-known status codes onto the package sentinels so callers
// can branch with errors.Is without inspecting status codes.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == 401
	case ErrNotFound:
		return e.Status == 404
	}
	return false
}
