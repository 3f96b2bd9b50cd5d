package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m3rciful/privybot/core/conversation"
	"github.com/m3rciful/privybot/core/dispatch"
	"github.com/m3rciful/privybot/core/queue"
	"github.com/m3rciful/privybot/core/service"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"status": "error", "error": message})
}

// StatusFor maps an error to the HTTP status reported to API callers.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, dispatch.ErrCredential):
		return http.StatusUnauthorized
	case errors.Is(err, dispatch.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed), errors.Is(err, errNotConfigured),
		errors.Is(err, service.ErrNoTranscripts):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrUnknownTransport),
		errors.Is(err, conversation.ErrInvalidIdentifier):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	Error(w, StatusFor(err), err.Error())
}
