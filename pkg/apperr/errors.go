// Package apperr defines the error categories shared by every tenantguard
// component and their mapping onto HTTP responses.
//
// Components wrap one of the sentinel errors with fmt.Errorf("...: %w", ErrX)
// so callers can branch with errors.Is while the wrapped text stays internal.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means the credential was missing, malformed, expired or revoked.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNoMembership means the user has no membership in the requested organization.
	ErrNoMembership = errors.New("no membership")
	// ErrForbidden means a required permission is missing.
	ErrForbidden = errors.New("missing permission")
	// ErrCrossTenant means the target resource belongs to another organization.
	ErrCrossTenant = errors.New("cross-tenant access")
	// ErrEscalationAttempt means the caller tried to grant permissions it does not hold.
	ErrEscalationAttempt = errors.New("privilege escalation attempt")
	// ErrNotFound means the resource does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput means a write payload failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidQuery means list parameters failed validation.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrConflict means the write would break a uniqueness rule.
	ErrConflict = errors.New("conflict")
	// ErrInternal marks store and infrastructure failures.
	ErrInternal = errors.New("internal error")
)

// FieldError carries the offending field for InvalidInput and InvalidQuery errors.
type FieldError struct {
	Kind    error
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}

// InvalidInput builds a FieldError of kind ErrInvalidInput.
func InvalidInput(field, message string) error {
	return &FieldError{Kind: ErrInvalidInput, Field: field, Message: message}
}

// InvalidQuery builds a FieldError of kind ErrInvalidQuery.
func InvalidQuery(field, message string) error {
	return &FieldError{Kind: ErrInvalidQuery, Field: field, Message: message}
}

// Field returns the field detail of err, if any.
func Field(err error) (*FieldError, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// HTTPStatus maps an error onto the status code returned to the caller.
// Membership, permission and tenant denials map to 403; handlers that hide
// resource existence translate them to 404 themselves.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNoMembership),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrCrossTenant),
		errors.Is(err, ErrEscalationAttempt):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the coarse category text that is safe to show to any
// caller. Wrapped detail never leaves the process through this function.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, ErrNoMembership),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrCrossTenant),
		errors.Is(err, ErrEscalationAttempt):
		return "access denied"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid input"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid query"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal server error"
	}
}
