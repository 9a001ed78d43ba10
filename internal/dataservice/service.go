// Package dataservice exposes the CRUD facade consumed by the rest of
// the application. Reads come from the local cache snapshot, optionally
// refreshed from the remote store; writes either execute immediately
// (online) or are queued with an optimistic local apply (offline), so
// callers never special-case offline mode.
package dataservice

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fitdesk/gymsync/internal/cache"
	"github.com/fitdesk/gymsync/internal/connectivity"
	"github.com/fitdesk/gymsync/internal/errors"
	"github.com/fitdesk/gymsync/internal/gateway"
	"github.com/fitdesk/gymsync/internal/localstore"
	"github.com/fitdesk/gymsync/internal/logging"
	"github.com/fitdesk/gymsync/internal/models"
	"github.com/fitdesk/gymsync/internal/queue"
	"github.com/fitdesk/gymsync/internal/syncengine"
	"github.com/fitdesk/gymsync/internal/uuid"
)

// Service is the sync/data facade. It owns an explicit lifecycle
// (New/Start/Close) instead of module-level state, so independent
// instances can coexist in tests.
type Service struct {
	store    *localstore.Store
	snapshot *cache.Snapshot
	queue    *queue.PendingQueue
	gateway  *gateway.Gateway
	monitor  *connectivity.Monitor
	engine   *syncengine.Engine
}

// New assembles a Service from its parts.
func New(store *localstore.Store, snapshot *cache.Snapshot, q *queue.PendingQueue,
	gw *gateway.Gateway, monitor *connectivity.Monitor, engine *syncengine.Engine) *Service {

	s := &Service{
		store:    store,
		snapshot: snapshot,
		queue:    q,
		gateway:  gw,
		monitor:  monitor,
		engine:   engine,
	}

	// A completed sync is the authoritative reconciliation point:
	// refetch and replace rather than merging, so duplicated or
	// orphaned optimistic rows cannot linger.
	engine.OnSyncComplete(func() {
		go s.refreshAll(context.Background())
	})

	return s
}

// Start launches the background connectivity probe and sync timer.
func (s *Service) Start(ctx context.Context) {
	s.monitor.Start(ctx)
	s.engine.Start(ctx)
}

// Close stops background work and closes the local store.
func (s *Service) Close() error {
	s.engine.Stop()
	s.monitor.Stop()
	return s.store.Close()
}

// GetRecords returns the cached rows for table. While online the cache
// is refreshed from the remote store in the background (refresh on
// read; no staleness timer).
func (s *Service) GetRecords(table string) ([]models.Record, error) {
	if !models.IsKnownTable(table) {
		return nil, errors.NewValidation("unknown table: " + table)
	}

	records, err := s.snapshot.Records(table)
	if err != nil {
		return nil, err
	}

	if s.monitor.Online() {
		go s.refreshTable(context.Background(), table)
	}
	return records, nil
}

// CreateRecord creates a record in table. Online it resolves with the
// server-assigned id; offline (or when the immediate attempt fails with
// a network error) the write is queued and a temporary local id is
// returned, immediately visible via GetRecords.
func (s *Service) CreateRecord(ctx context.Context, table string, data models.Record) (string, error) {
	if err := validateWrite(table, data); err != nil {
		return "", err
	}

	rec := data.Clone()
	rec.StampCreatedAt()

	if s.monitor.Online() {
		created, err := s.gateway.CreateRecord(ctx, table, rec)
		if err == nil {
			if aerr := s.snapshot.ApplyCreate(table, created); aerr != nil {
				logging.Error("Failed to cache created record", aerr,
					map[string]any{"table": table})
			}
			return created.ID(), nil
		}
		if !errors.IsNetwork(err) {
			return "", err
		}
		s.monitor.SetOnline(false)
	}

	rec.SetID(uuid.NewLocal())

	// The replay body omits the temporary id: a remote store honoring
	// client-supplied ids would otherwise persist it and defeat the
	// server-id swap on confirmation.
	payload := rec.Clone()
	delete(payload, "id")
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.NewValidation("payload is not serializable: " + err.Error())
	}

	op := models.PendingOperation{
		Type:     models.OpCreate,
		Table:    table,
		RecordID: rec.ID(),
		Data:     rec,
		URL:      s.gateway.EndpointFor(table),
		Method:   http.MethodPost,
		Body:     body,
	}
	if _, err := s.queue.Enqueue(op); err != nil {
		return "", err
	}
	if err := s.snapshot.ApplyCreate(table, rec); err != nil {
		return "", err
	}
	return rec.ID(), nil
}

// UpdateRecord applies fields to the record with the given id.
func (s *Service) UpdateRecord(ctx context.Context, table, id string, fields map[string]any) error {
	if err := validateWrite(table, fields); err != nil {
		return err
	}
	if id == "" {
		return errors.NewValidation("record id must not be empty")
	}

	if s.monitor.Online() {
		err := s.gateway.UpdateRecord(ctx, table, id, fields)
		if err == nil {
			return s.snapshot.ApplyUpdate(table, id, fields)
		}
		if !errors.IsNetwork(err) {
			return err
		}
		s.monitor.SetOnline(false)
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return errors.NewValidation("payload is not serializable: " + err.Error())
	}

	op := models.PendingOperation{
		Type:     models.OpUpdate,
		Table:    table,
		RecordID: id,
		Data:     models.Record(fields),
		URL:      s.gateway.EndpointFor(table) + "?id=eq." + id,
		Method:   http.MethodPatch,
		Body:     body,
	}
	if _, err := s.queue.Enqueue(op); err != nil {
		return err
	}
	return s.snapshot.ApplyUpdate(table, id, fields)
}

// DeleteRecord deletes the record with the given id.
func (s *Service) DeleteRecord(ctx context.Context, table, id string) error {
	if !models.IsKnownTable(table) {
		return errors.NewValidation("unknown table: " + table)
	}
	if id == "" {
		return errors.NewValidation("record id must not be empty")
	}

	if s.monitor.Online() {
		err := s.gateway.DeleteRecord(ctx, table, id)
		if err == nil {
			return s.snapshot.ApplyDelete(table, id)
		}
		if !errors.IsNetwork(err) {
			return err
		}
		s.monitor.SetOnline(false)
	}

	op := models.PendingOperation{
		Type:     models.OpDelete,
		Table:    table,
		RecordID: id,
		URL:      s.gateway.EndpointFor(table) + "?id=eq." + id,
		Method:   http.MethodDelete,
	}
	if _, err := s.queue.Enqueue(op); err != nil {
		return err
	}
	return s.snapshot.ApplyDelete(table, id)
}

// GetPendingSyncCount returns the number of queued operations, for UI
// badges and health checks.
func (s *Service) GetPendingSyncCount() int {
	return s.queue.Count()
}

// FailedOperations returns permanently failed operations for the
// diagnostics view.
func (s *Service) FailedOperations() []models.FailedOperation {
	return s.queue.Failed()
}

// ClearFailedOperations drops the failed operation list once it has
// been reviewed.
func (s *Service) ClearFailedOperations() error {
	return s.queue.ClearFailed()
}

// OnSyncComplete registers a callback for UI refresh after a full sync.
func (s *Service) OnSyncComplete(fn func()) {
	s.engine.OnSyncComplete(fn)
}

// OnSyncError registers a callback for sync failures.
func (s *Service) OnSyncError(fn func(error)) {
	s.engine.OnSyncError(fn)
}

// ForceSync triggers an immediate drain, used by a "sync now"
// affordance. A no-op while offline or while a drain is running.
func (s *Service) ForceSync(ctx context.Context) error {
	return s.engine.Drain(ctx)
}

// IsOffline reports whether the service currently has no connectivity.
func (s *Service) IsOffline() bool {
	return !s.monitor.Online()
}

// OnConnectivityChange registers a callback for online/offline
// transitions.
func (s *Service) OnConnectivityChange(fn func(online bool)) {
	s.monitor.Subscribe(fn)
}

// Status returns the process-wide sync status for UI indicators.
func (s *Service) Status() models.SyncStatus {
	status := models.SyncStatus{
		Online:       s.monitor.Online(),
		State:        string(s.engine.State()),
		PendingCount: s.queue.Count(),
		FailedCount:  len(s.queue.Failed()),
	}
	if ts := s.engine.LastSyncTime(); !ts.IsZero() {
		status.LastSyncTime = ts.Unix()
	}
	return status
}

// refreshTable replaces the cached snapshot of table with the remote
// state. Skipped while writes are pending so the authoritative replace
// cannot regress optimistic rows before they are reconciled.
func (s *Service) refreshTable(ctx context.Context, table string) {
	if s.queue.Count() > 0 {
		return
	}

	records, err := s.gateway.ListRecords(ctx, table, nil)
	if err != nil {
		if errors.IsNetwork(err) {
			s.monitor.SetOnline(false)
		}
		logging.Debug("Background refresh failed", map[string]any{
			"table": table,
			"error": err.Error(),
		})
		return
	}

	if err := s.snapshot.ReplaceTable(table, records); err != nil {
		logging.Error("Failed to replace cached table", err,
			map[string]any{"table": table})
	}
}

// refreshAll refetches every known table after a completed sync.
func (s *Service) refreshAll(ctx context.Context) {
	for _, table := range models.KnownTables() {
		s.refreshTable(ctx, table)
	}
}

// validateWrite rejects malformed writes synchronously; they are never
// enqueued.
func validateWrite(table string, data map[string]any) error {
	if !models.IsKnownTable(table) {
		return errors.NewValidation("unknown table: " + table)
	}
	if len(data) == 0 {
		return errors.NewValidation("payload must not be empty")
	}
	return nil
}
