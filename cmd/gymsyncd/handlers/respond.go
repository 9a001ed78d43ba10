// Package handlers provides the localhost REST API consumed by the
// gym-management UI: record CRUD plus sync status and control.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fitdesk/gymsync/internal/errors"
	"github.com/fitdesk/gymsync/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

// writeError maps the sync error taxonomy to HTTP statuses. Validation
// errors are the caller's fault; storage errors are surfaced loudly as
// 500s rather than masked.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsValidation(err):
		status = http.StatusBadRequest
	case errors.IsNetwork(err):
		status = http.StatusServiceUnavailable
	case errors.CodeOf(err) == errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.CodeOf(err) == errors.ErrServer:
		if s := errors.StatusOf(err); s >= 400 {
			status = http.StatusBadGateway
		}
	}

	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
