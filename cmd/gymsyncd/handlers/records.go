package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fitdesk/gymsync/internal/dataservice"
	"github.com/fitdesk/gymsync/internal/errors"
	"github.com/fitdesk/gymsync/internal/models"
)

// RecordsHandler exposes record CRUD over the data service facade. The
// UI talks only to these endpoints; whether a write went straight to
// the remote store or into the pending queue is invisible here.
type RecordsHandler struct {
	svc *dataservice.Service
}

// NewRecordsHandler creates a RecordsHandler.
func NewRecordsHandler(svc *dataservice.Service) *RecordsHandler {
	return &RecordsHandler{svc: svc}
}

// List handles GET /api/records/{table}.
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]

	records, err := h.svc.GetRecords(table)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"table":   table,
		"records": records,
		"offline": h.svc.IsOffline(),
	})
}

// Create handles POST /api/records/{table}.
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]

	var data models.Record
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, errors.NewValidation("invalid request body: "+err.Error()))
		return
	}

	id, err := h.svc.CreateRecord(r.Context(), table, data)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"queued":  h.svc.IsOffline(),
		"pending": h.svc.GetPendingSyncCount(),
	})
}

// Update handles PATCH /api/records/{table}/{id}.
func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, errors.NewValidation("invalid request body: "+err.Error()))
		return
	}

	if err := h.svc.UpdateRecord(r.Context(), vars["table"], vars["id"], fields); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"queued":  h.svc.IsOffline(),
		"pending": h.svc.GetPendingSyncCount(),
	})
}

// Delete handles DELETE /api/records/{table}/{id}.
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.svc.DeleteRecord(r.Context(), vars["table"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"queued":  h.svc.IsOffline(),
		"pending": h.svc.GetPendingSyncCount(),
	})
}
