// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"net/http"

	"github.com/harbinger-io/harbinger/internal/adapters/repository"
	"github.com/harbinger-io/harbinger/internal/app"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// statusFor translates service errors into HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidVIN), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, app.ErrJobNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, app.ErrJobActive), errors.Is(err, app.ErrNotRunning), errors.Is(err, app.ErrNoSegments):
		return http.StatusConflict, "conflict"
	case errors.Is(err, app.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}
