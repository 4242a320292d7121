package controlplane

import (
	"errors"
	"net/http"

	"github.com/onejob/onejob/internal/ranking"
)

// ErrInvalidInput rejects malformed requests before they reach the store.
var ErrInvalidInput = errors.New("invalid input")

// ErrorResponse is the JSON body of every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// errorKind names err for API clients.
func errorKind(err error) string {
	if errors.Is(err, ErrInvalidInput) {
		return "invalid_input"
	}
	if k := ranking.Kind(err); k != "" {
		return k
	}
	return "internal"
}

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ranking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ranking.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ranking.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
