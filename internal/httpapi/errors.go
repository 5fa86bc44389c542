package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/flowmessage/chat-app/internal/store"
)

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps a domain error to an HTTP status. Validation failures are
// the caller's fault (400), missing entities are 404, and everything else is
// an internal error whose details are logged but not leaked to the client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case store.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, context.DeadlineExceeded):
		log.Printf("httpapi: storage timeout: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage timeout"})
	default:
		log.Printf("httpapi: internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
