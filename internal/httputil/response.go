package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/R3E-Network/dapp_registry/internal/errors"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError maps err onto its HTTP status and error body. Errors outside the
// registry taxonomy are reported as INTERNAL without their message.
func WriteError(w http.ResponseWriter, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("internal error", err)
	}
	body := ErrorResponse{Error: string(serviceErr.Code), Message: serviceErr.Message}
	WriteJSON(w, errors.HTTPStatus(serviceErr.Code), body)
}
