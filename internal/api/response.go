// Package api provides the HTTP collaborator for the patient simulator.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ami4go/ICAPP/internal/flow"
	"github.com/ami4go/ICAPP/internal/models"
	"github.com/ami4go/ICAPP/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal the response to JSON first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		// Use pre-marshaled fallback response - if this fails, we have bigger problems
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	// Write headers and response only after successful JSON marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeErrorResponse maps a service error to an HTTP status and writes it.
func writeErrorResponse(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	msg := "Internal server error"
	switch {
	case errors.Is(err, flow.ErrSessionNotFound), errors.Is(err, store.ErrRecordNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, flow.ErrSessionClosed):
		status, msg = http.StatusConflict, err.Error()
	case isValidationError(err):
		status, msg = http.StatusBadRequest, err.Error()
	}
	if status == http.StatusInternalServerError {
		slog.Error("Server."+op+": request failed", "error", err)
	} else {
		slog.Warn("Server."+op+": request rejected", "error", err, "status", status)
	}
	writeJSONResponse(w, status, models.Error(msg))
}

func isValidationError(err error) bool {
	for _, target := range []error{
		models.ErrEmptySessionID, models.ErrEmptyMessage, models.ErrMessageTooLong,
		models.ErrEmptyUsername, models.ErrUsernameTooLong,
		models.ErrDiagnosisTooLong, models.ErrPrescriptionTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// decodeJSONBody decodes a request body into v, rejecting payloads over maxBodyBytes.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
