package handlers

import (
	"net/http"

	"github.com/fitdesk/gymsync/internal/dataservice"
)

// SyncBroadcaster pushes sync lifecycle events to connected UI clients.
type SyncBroadcaster interface {
	BroadcastSyncStarted()
	BroadcastSyncCompleted(pending int)
	BroadcastSyncFailed(errMsg string)
}

// SyncHandler exposes sync status and control endpoints.
type SyncHandler struct {
	svc   *dataservice.Service
	wsHub SyncBroadcaster
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(svc *dataservice.Service) *SyncHandler {
	return &SyncHandler{svc: svc}
}

// SetBroadcaster sets the WebSocket hub for sync event pushes.
func (h *SyncHandler) SetBroadcaster(hub SyncBroadcaster) {
	h.wsHub = hub
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// TriggerSync handles POST /api/sync/now.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.wsHub != nil {
		h.wsHub.BroadcastSyncStarted()
	}

	if err := h.svc.ForceSync(r.Context()); err != nil {
		if h.wsHub != nil {
			h.wsHub.BroadcastSyncFailed(err.Error())
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Failed handles GET /api/sync/failed.
func (h *SyncHandler) Failed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"failed": h.svc.FailedOperations(),
	})
}

// ClearFailed handles DELETE /api/sync/failed.
func (h *SyncHandler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearFailedOperations(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Health handles GET /api/health.
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gymsyncd",
		"offline": h.svc.IsOffline(),
		"pending": h.svc.GetPendingSyncCount(),
	})
}
