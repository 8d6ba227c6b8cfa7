// Package common defines shared sentinel errors used across the service.
// Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Request outcome errors. Each category maps to a distinct status at the
	// transport edge; the wrapped message is what the caller sees.
	ErrorUnauthenticated = errors.New("unauthenticated")
	ErrorForbidden       = errors.New("forbidden")
	ErrorBadRequest      = errors.New("bad request")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")
)

// BadRequestError wraps ErrorBadRequest with a caller-visible message.
func BadRequestError(msg string) error {
	return fmt.Errorf("%w: %s", ErrorBadRequest, msg)
}

// NotFoundError wraps ErrorNotFound with the standard entity message,
// e.g. `entity "User" (42) was not found`.
func NotFoundError(entity string, key any) error {
	return fmt.Errorf("%w: entity %q (%v) was not found", ErrorNotFound, entity, key)
}

// UnauthenticatedError wraps ErrorUnauthenticated with a message.
func UnauthenticatedError(msg string) error {
	return fmt.Errorf("%w: %s", ErrorUnauthenticated, msg)
}

// ForbiddenError wraps ErrorForbidden with a message.
func ForbiddenError(msg string) error {
	return fmt.Errorf("%w: %s", ErrorForbidden, msg)
}
