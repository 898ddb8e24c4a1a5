package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteInternalError writes a 500 carrying only an opaque error id. The
// id is returned so the caller can log the real error against it.
func WriteInternalError(w http.ResponseWriter) string {
	errorID := common.NewErrorID()
	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"status":   "error",
		"error":    "internal error",
		"error_id": errorID,
	})
	return errorID
}

// WriteRateLimited writes the 429 payload the clients key off of.
func WriteRateLimited(w http.ResponseWriter, decision interfaces.Decision) error {
	retryAfter := int(time.Until(decision.ResetAt).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}
	return WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"status":              "error",
		"error":               "rate limit exceeded",
		"limit":               decision.Limit,
		"retry_after_seconds": retryAfter,
		"reset_at":            decision.ResetAt.UTC().Format(time.RFC3339),
	})
}
