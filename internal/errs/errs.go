// Package errs defines the error taxonomy shared by the sync pipeline.
// Component errors wrap one of these sentinels so callers can classify
// failures with errors.Is without knowing the concrete component.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrAuth covers missing, expired or rejected credentials.
	ErrAuth = errors.New("auth error")
	// ErrProviderFetch covers network or API failures from a metrics provider.
	ErrProviderFetch = errors.New("provider fetch error")
	// ErrValidation covers malformed input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound covers missing gardens, accounts and integrations.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers lost optimistic-lock races.
	ErrConflict = errors.New("conflict")
)

// HTTPStatus maps an error to the status code handlers should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrProviderFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
