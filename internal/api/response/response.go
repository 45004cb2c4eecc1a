// Package response writes the JSON envelopes shared by every endpoint.
// Errors always serialize as {statusCode, error, message}.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jmrl23/keygate/internal/apperr"
)

// ErrorEnvelope is the uniform error body.
type ErrorEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// JSON writes data with a 200.
func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

// NoContent writes an empty 200 body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}

// Error maps err to the error envelope. Declared errors (apperr) keep
// their status and message; anything else is logged and reported as a
// generic 500.
func Error(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("unhandled error", "error", err)
		message = "An unexpected error occurred"
	}
	ErrorStatus(w, status, message)
}

// ErrorStatus writes the error envelope for an explicit status.
func ErrorStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorEnvelope{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
