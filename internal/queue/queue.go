// Package queue manages the FIFO queue of pending offline mutations and
// the list of permanently failed operations.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fitdesk/gymsync/internal/errors"
	"github.com/fitdesk/gymsync/internal/localstore"
	"github.com/fitdesk/gymsync/internal/logging"
	"github.com/fitdesk/gymsync/internal/models"
	"github.com/fitdesk/gymsync/internal/uuid"
)

const (
	pendingKey = "sync:pending_ops"
	failedKey  = "sync:failed_ops"
)

// PendingQueue is an ordered list of not-yet-confirmed mutations. The
// whole queue is rewritten to the local store on every change, so a
// crash between read and write cannot silently lose entries; queues are
// small enough that the full rewrite is cheap. Order survives restarts:
// the queue is reloaded from the store in the order it was written.
type PendingQueue struct {
	mu      sync.Mutex
	store   *localstore.Store
	ops     []models.PendingOperation
	failed  []models.FailedOperation
	nextSeq int64
}

// Load reloads the queue from the local store.
func Load(store *localstore.Store) (*PendingQueue, error) {
	q := &PendingQueue{store: store, nextSeq: 1}

	raw, ok, err := store.Get(pendingKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &q.ops); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "corrupt pending queue", err)
		}
		for _, op := range q.ops {
			if op.Seq >= q.nextSeq {
				q.nextSeq = op.Seq + 1
			}
		}
	}

	raw, ok, err = store.Get(failedKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &q.failed); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "corrupt failed operation list", err)
		}
	}

	return q, nil
}

// Enqueue appends op at the tail and persists the queue. The returned
// operation carries the assigned id, sequence number and idempotency
// key. A persistence failure rolls the append back and is returned as a
// StorageError so the caller can surface it.
func (q *PendingQueue) Enqueue(op models.PendingOperation) (models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op.ID == "" {
		op.ID = uuid.New()
	}
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = uuid.New()
	}
	op.Seq = q.nextSeq
	op.EnqueuedAt = time.Now().Unix()

	q.ops = append(q.ops, op)
	if err := q.persistPendingLocked(); err != nil {
		q.ops = q.ops[:len(q.ops)-1]
		return models.PendingOperation{}, err
	}
	q.nextSeq++

	logging.Debug("Enqueued pending operation", map[string]any{
		"op_id": op.ID,
		"type":  op.Type,
		"table": op.Table,
		"seq":   op.Seq,
	})
	return op, nil
}

// PeekAll returns the queue in FIFO order without mutating it.
func (q *PendingQueue) PeekAll() []models.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingOperation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Remove deletes the operation with the given id after it has been
// confirmed applied, and persists the shrunk queue.
func (q *PendingQueue) Remove(opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(opID)
	if idx < 0 {
		return fmt.Errorf("pending operation %s not found", opID)
	}
	removed := q.ops[idx]
	q.ops = append(q.ops[:idx], q.ops[idx+1:]...)
	if err := q.persistPendingLocked(); err != nil {
		q.ops = append(q.ops[:idx], append([]models.PendingOperation{removed}, q.ops[idx:]...)...)
		return err
	}
	return nil
}

// Update writes back a mutated operation (attempt count, last error)
// without changing its position in the queue.
func (q *PendingQueue) Update(op models.PendingOperation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(op.ID)
	if idx < 0 {
		return fmt.Errorf("pending operation %s not found", op.ID)
	}
	prev := q.ops[idx]
	q.ops[idx] = op
	if err := q.persistPendingLocked(); err != nil {
		q.ops[idx] = prev
		return err
	}
	return nil
}

// ReassignRecordID rewrites every queued operation in table that still
// references oldID so it targets newID instead, and persists the
// rewritten queue. Called when a queued create is confirmed and the
// server id replaces the temporary local id, so that updates and
// deletes enqueued behind the create replay against the real row.
func (q *PendingQueue) ReassignRecordID(table, oldID, newID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	backup := make([]models.PendingOperation, len(q.ops))
	copy(backup, q.ops)

	changed := false
	for i := range q.ops {
		if q.ops[i].Table == table && q.ops[i].RecordID == oldID {
			q.ops[i].RetargetRecord(newID)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := q.persistPendingLocked(); err != nil {
		q.ops = backup
		return err
	}

	logging.Debug("Retargeted queued operations", map[string]any{
		"table":  table,
		"old_id": oldID,
		"new_id": newID,
	})
	return nil
}

// Fail moves the operation to the permanently failed list, where it
// stays discoverable for diagnostics without blocking later queued work.
func (q *PendingQueue) Fail(op models.PendingOperation, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if idx := q.indexLocked(op.ID); idx >= 0 {
		q.ops = append(q.ops[:idx], q.ops[idx+1:]...)
		if err := q.persistPendingLocked(); err != nil {
			return err
		}
	}

	q.failed = append(q.failed, models.FailedOperation{
		Op:       op,
		Reason:   reason,
		FailedAt: time.Now().Unix(),
	})
	if err := q.persistFailedLocked(); err != nil {
		return err
	}

	logging.Warn("Pending operation permanently failed", map[string]any{
		"op_id":  op.ID,
		"type":   op.Type,
		"table":  op.Table,
		"reason": reason,
	})
	return nil
}

// Count returns the number of queued operations.
func (q *PendingQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Failed returns the permanently failed operations, oldest first.
func (q *PendingQueue) Failed() []models.FailedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.FailedOperation, len(q.failed))
	copy(out, q.failed)
	return out
}

// ClearFailed drops the failed operation list after the user has
// reviewed it.
func (q *PendingQueue) ClearFailed() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.failed = nil
	return q.persistFailedLocked()
}

func (q *PendingQueue) indexLocked(opID string) int {
	for i := range q.ops {
		if q.ops[i].ID == opID {
			return i
		}
	}
	return -1
}

func (q *PendingQueue) persistPendingLocked() error {
	data, err := json.Marshal(q.ops)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to encode pending queue", err)
	}
	return q.store.Set(pendingKey, string(data))
}

func (q *PendingQueue) persistFailedLocked() error {
	data, err := json.Marshal(q.failed)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to encode failed operation list", err)
	}
	return q.store.Set(failedKey, string(data))
}
