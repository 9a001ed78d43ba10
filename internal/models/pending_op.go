// Package models provides data model definitions for the gymsync core.
package models

import (
	"encoding/json"
	"strings"
)

// OpType is the kind of queued mutation.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// PendingOperation is a queued mutation not yet confirmed by the remote
// store. Operations are replayed strictly in Seq order (FIFO) and are
// removed from the queue only after the remote gateway confirms success.
type PendingOperation struct {
	ID             string          `json:"id"`
	Type           OpType          `json:"type"`
	Table          string          `json:"table"`
	RecordID       string          `json:"record_id,omitempty"` // temp id for create, server id otherwise
	Data           Record          `json:"data,omitempty"`
	URL            string          `json:"url"`
	Method         string          `json:"method"`
	Body           json.RawMessage `json:"body,omitempty"`
	Seq            int64           `json:"seq"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	EnqueuedAt     int64           `json:"enqueued_at"`
}

// RetargetRecord points the operation at a new record id. Used when a
// queued create is confirmed and the server assigns the real id: later
// queued operations for the same record still reference the temporary
// local id and must be rewritten before they are replayed, or an
// id-filtered remote store would match nothing and drop the mutation.
// Rewrites RecordID, the id filter in the request URL, and any id
// embedded in the payload.
func (op *PendingOperation) RetargetRecord(newID string) {
	oldID := op.RecordID
	if oldID == "" || newID == "" || oldID == newID {
		return
	}

	op.RecordID = newID
	op.URL = strings.ReplaceAll(op.URL, "id=eq."+oldID, "id=eq."+newID)

	if op.Data != nil && op.Data.ID() == oldID {
		op.Data = op.Data.Clone()
		op.Data.SetID(newID)
	}

	if len(op.Body) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(op.Body, &payload); err == nil {
			if id, ok := payload["id"].(string); ok && id == oldID {
				payload["id"] = newID
				if body, err := json.Marshal(payload); err == nil {
					op.Body = body
				}
			}
		}
	}
}

// FailedOperation records a permanently failed operation so the UI can
// surface it in a diagnostics view without blocking the rest of the
// queue.
type FailedOperation struct {
	Op       PendingOperation `json:"op"`
	Reason   string           `json:"reason"`
	FailedAt int64            `json:"failed_at"`
}
