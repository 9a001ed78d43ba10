// Package cache maintains the per-table local cache snapshots: the last
// known state of each logical table, remote-confirmed rows plus
// optimistic local writes.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/fitdesk/gymsync/internal/errors"
	"github.com/fitdesk/gymsync/internal/localstore"
	"github.com/fitdesk/gymsync/internal/models"
)

const keyPrefix = "cache:"

// Snapshot stores one record array per table, JSON-encoded in the local
// store. A short-TTL in-memory layer avoids re-decoding the JSON on
// every read; it is invalidated on every write.
type Snapshot struct {
	mu    sync.Mutex
	store *localstore.Store
	mem   *gocache.Cache
}

// New creates a Snapshot over the given store.
func New(store *localstore.Store) *Snapshot {
	return &Snapshot{
		store: store,
		mem:   gocache.New(30*time.Second, time.Minute),
	}
}

// Records returns the cached rows for table, or nil when the table has
// never been cached. Callers receive copies and may mutate them freely.
func (s *Snapshot) Records(table string) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked(table)
	if err != nil {
		return nil, err
	}
	return cloneAll(records), nil
}

// ReplaceTable replaces the whole snapshot for table with the
// authoritative rows. Used after remote reads and after a completed
// sync: replace, never merge, so stale optimistic rows cannot survive
// reconciliation.
func (s *Snapshot) ReplaceTable(table string, records []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(table, records)
}

// ApplyCreate optimistically appends a record to the table snapshot.
func (s *Snapshot) ApplyCreate(table string, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked(table)
	if err != nil {
		return err
	}
	records = append(records, rec.Clone())
	return s.saveLocked(table, records)
}

// ApplyUpdate merges fields into the record with the given id. Updating
// a row that is not cached is a no-op.
func (s *Snapshot) ApplyUpdate(table, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked(table)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID() == id {
			records[i].Merge(fields)
			break
		}
	}
	return s.saveLocked(table, records)
}

// ApplyDelete removes the record with the given id from the snapshot.
func (s *Snapshot) ApplyDelete(table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked(table)
	if err != nil {
		return err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.ID() != id {
			out = append(out, rec)
		}
	}
	return s.saveLocked(table, out)
}

// ConfirmCreate replaces a temporary local id with the server-assigned
// id once the queued create has been confirmed remotely. When the
// temporary row is no longer cached the confirmed record is appended
// instead, so a confirmed write is never lost.
func (s *Snapshot) ConfirmCreate(table, tempID string, confirmed models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked(table)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID() == tempID {
			records[i] = confirmed.Clone()
			return s.saveLocked(table, records)
		}
	}
	records = append(records, confirmed.Clone())
	return s.saveLocked(table, records)
}

// loadLocked reads and decodes the table snapshot, consulting the
// in-memory layer first.
func (s *Snapshot) loadLocked(table string) ([]models.Record, error) {
	if v, ok := s.mem.Get(table); ok {
		return v.([]models.Record), nil
	}

	raw, ok, err := s.store.Get(keyPrefix + table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var records []models.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "corrupt cache snapshot for "+table, err)
	}
	s.mem.Set(table, records, gocache.DefaultExpiration)
	return records, nil
}

// saveLocked encodes and persists the table snapshot, then refreshes the
// in-memory layer.
func (s *Snapshot) saveLocked(table string, records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to encode cache snapshot for "+table, err)
	}
	if err := s.store.Set(keyPrefix+table, string(data)); err != nil {
		s.mem.Delete(table)
		return err
	}
	s.mem.Set(table, records, gocache.DefaultExpiration)
	return nil
}

func cloneAll(records []models.Record) []models.Record {
	out := make([]models.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
