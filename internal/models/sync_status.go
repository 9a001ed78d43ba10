// Package models provides data model definitions for the gymsync core.
package models

// SyncStatus is the process-wide sync state surfaced to UI indicators.
// Only LastSyncTime survives a restart; the rest is rebuilt at startup.
type SyncStatus struct {
	Online       bool   `json:"online"`
	State        string `json:"state"` // idle, syncing, offline
	PendingCount int    `json:"pending_count"`
	FailedCount  int    `json:"failed_count"`
	LastSyncTime int64  `json:"last_sync_time,omitempty"` // unix seconds, zero when never synced
}
