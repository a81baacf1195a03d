package server

import (
	"net/http"

	"github.com/teranos/pressline/errors"
)

// statusFor maps an error to its HTTP status. Sentinels from the errors
// package decide; everything else is a 500.
func statusFor(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
