package httpapi

import (
	"encoding/json"
	"net/http"

	"workerd/internal/manager"
	"workerd/internal/worker"
	"workerd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps well-known engine errors to HTTP status codes. Transport
// failures are distinguishable from handler failures: crashes and timeouts
// map to gateway-style statuses, while handler errors never reach here
// (they travel inside a 200 response body).
func statusFor(err error) int {
	switch {
	case manager.IsModelNotFound(err), manager.IsNotLoaded(err):
		return http.StatusNotFound
	case worker.IsConfiguration(err):
		return http.StatusBadRequest
	case worker.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case worker.IsInsufficientResources(err):
		return http.StatusServiceUnavailable
	case worker.IsPredictTimeout(err):
		return http.StatusGatewayTimeout
	case worker.IsStartup(err), worker.IsCrashed(err):
		return http.StatusBadGateway
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}
