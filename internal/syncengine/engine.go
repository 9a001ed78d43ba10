// Package syncengine implements the reconciliation core: a state
// machine that drains the pending operation queue against the remote
// store, keeps the local cache snapshot consistent and notifies
// subscribers when a sync pass completes or fails.
package syncengine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/fitdesk/gymsync/internal/cache"
	"github.com/fitdesk/gymsync/internal/connectivity"
	"github.com/fitdesk/gymsync/internal/errors"
	"github.com/fitdesk/gymsync/internal/localstore"
	"github.com/fitdesk/gymsync/internal/logging"
	"github.com/fitdesk/gymsync/internal/models"
	"github.com/fitdesk/gymsync/internal/queue"
)

// State is the engine's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateOffline State = "offline"
)

// lastSyncKey persists the last successful sync time so the UI
// indicator survives reloads.
const lastSyncKey = "sync:last_sync_time"

// RemoteExecutor replays a queued operation against the remote store.
type RemoteExecutor interface {
	Execute(ctx context.Context, op models.PendingOperation) (models.Record, error)
}

// Config holds engine tuning knobs.
type Config struct {
	MaxRetries   int           // bounded retries for 5xx responses (default 5)
	SyncInterval time.Duration // background drain timer (default 30s)
}

// Engine drives the drain loop. At most one drain pass runs at a time;
// re-entrant triggers (a timer tick and a connectivity event in the
// same instant) coalesce into the running pass.
type Engine struct {
	mu           sync.Mutex
	state        State
	draining     bool
	lastSyncTime time.Time

	store    *localstore.Store
	queue    *queue.PendingQueue
	snapshot *cache.Snapshot
	remote   RemoteExecutor
	monitor  *connectivity.Monitor

	maxRetries   int
	syncInterval time.Duration

	subMu        sync.Mutex
	completeSubs []func()
	errorSubs    []func(error)

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates an Engine and wires it to connectivity transitions:
// regaining connectivity auto-triggers a drain, losing it parks the
// engine in the offline state with the queue untouched.
func New(store *localstore.Store, q *queue.PendingQueue, snapshot *cache.Snapshot,
	remote RemoteExecutor, monitor *connectivity.Monitor, cfg Config) *Engine {

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}

	e := &Engine{
		state:        StateOffline,
		store:        store,
		queue:        q,
		snapshot:     snapshot,
		remote:       remote,
		monitor:      monitor,
		maxRetries:   cfg.MaxRetries,
		syncInterval: cfg.SyncInterval,
		stopCh:       make(chan struct{}),
	}
	if monitor.Online() {
		e.state = StateIdle
	}
	e.loadLastSync()

	monitor.Subscribe(func(online bool) {
		if online {
			go e.Drain(context.Background())
		} else {
			e.setState(StateOffline)
		}
	})

	return e
}

// State returns the engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastSyncTime returns the time of the last successful full sync, or
// the zero time when none has completed yet.
func (e *Engine) LastSyncTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncTime
}

// OnSyncComplete registers a callback fired after every successful
// full drain (queue empty).
func (e *Engine) OnSyncComplete(fn func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.completeSubs = append(e.completeSubs, fn)
}

// OnSyncError registers a callback fired when a drain halts or an
// operation fails permanently.
func (e *Engine) OnSyncError(fn func(error)) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.errorSubs = append(e.errorSubs, fn)
}

// Start launches the background drain timer: every tick, a drain is
// attempted when the engine is online and operations are pending.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if e.monitor.Online() && e.queue.Count() > 0 {
					go e.Drain(ctx)
				}
			}
		}
	}()

	logging.Info("Sync engine started", map[string]any{
		"sync_interval": e.syncInterval.String(),
		"max_retries":   e.maxRetries,
	})
}

// Stop halts the background timer and waits for it to finish. A drain
// pass in flight keeps the queue consistent: the queue is only mutated
// after an operation's outcome is known, never speculatively.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopCh := e.stopCh
	e.mu.Unlock()

	close(stopCh)
	e.wg.Wait()
	logging.Info("Sync engine stopped", nil)
}

// Drain replays the pending queue strictly in FIFO order. Re-entrant
// calls while a pass is running are no-ops; a call while offline parks
// the engine in the offline state. Returns the halting error, or nil
// when the pass ran to the end of the queue snapshot.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return nil
	}
	if !e.monitor.Online() {
		e.state = StateOffline
		e.mu.Unlock()
		return nil
	}
	e.draining = true
	e.state = StateSyncing
	e.mu.Unlock()

	err := e.drainPass(ctx)

	e.mu.Lock()
	e.draining = false
	completed := err == nil && e.queue.Count() == 0
	switch {
	case err != nil && errors.IsNetwork(err):
		e.state = StateOffline
	case completed:
		e.state = StateIdle
		e.lastSyncTime = time.Now()
	default:
		// Remaining operations are retried on the next timer tick.
		e.state = StateIdle
	}
	e.mu.Unlock()

	if completed {
		e.persistLastSync()
		e.emitComplete()
	} else if err != nil {
		e.emitError(err)
	}
	return err
}

// drainPass processes one snapshot of the queue. A transient network
// failure halts the pass with everything from the failed operation on
// left queued untouched; operation-specific failures never block the
// operations behind them.
func (e *Engine) drainPass(ctx context.Context) error {
	ops := e.queue.PeekAll()
	if len(ops) == 0 {
		return nil
	}

	logging.Info("Draining pending operations", map[string]any{"count": len(ops)})

	for i := 0; i < len(ops); i++ {
		op := ops[i]

		select {
		case <-ctx.Done():
			return errors.NewNetwork("drain cancelled", ctx.Err())
		default:
		}

		rec, err := e.remote.Execute(ctx, op)
		if err == nil {
			e.confirm(op, rec)
			if op.Type == models.OpCreate && rec != nil {
				if newID := rec.ID(); newID != "" && newID != op.RecordID {
					e.retarget(ops[i+1:], op, newID)
				}
			}
			continue
		}

		if errors.IsNetwork(err) {
			// Likely a new offline state; flip the monitor so the
			// restored-connectivity event re-triggers the drain later.
			e.monitor.SetOnline(false)
			return err
		}

		if errors.IsRetryableServer(err) {
			op.Attempts++
			op.LastError = err.Error()
			if op.Attempts >= e.maxRetries {
				e.fail(op, err)
			} else if uerr := e.queue.Update(op); uerr != nil {
				logging.Error("Failed to record retry attempt", uerr,
					map[string]any{"op_id": op.ID})
			}
			continue
		}

		// 4xx or validation: a poisoned operation. Record it for manual
		// inspection instead of retrying forever.
		e.fail(op, err)
	}
	return nil
}

// confirm applies a successfully replayed operation to the cache
// snapshot and removes it from the queue, in that order: the queue
// entry is the only proof of the write until the cache reflects it.
func (e *Engine) confirm(op models.PendingOperation, rec models.Record) {
	var err error
	switch op.Type {
	case models.OpCreate:
		if rec == nil {
			rec = op.Data
		}
		err = e.snapshot.ConfirmCreate(op.Table, op.RecordID, rec)
	case models.OpUpdate:
		err = e.snapshot.ApplyUpdate(op.Table, op.RecordID, op.Data)
	case models.OpDelete:
		err = e.snapshot.ApplyDelete(op.Table, op.RecordID)
	}
	if err != nil {
		logging.Error("Failed to apply confirmed operation to cache", err,
			map[string]any{"op_id": op.ID, "table": op.Table})
	}

	if err := e.queue.Remove(op.ID); err != nil {
		logging.Error("Failed to dequeue confirmed operation", err,
			map[string]any{"op_id": op.ID})
		return
	}

	logging.Info("Replayed pending operation", map[string]any{
		"op_id": op.ID,
		"type":  op.Type,
		"table": op.Table,
	})
}

// retarget rewrites the not-yet-replayed operations that reference the
// confirmed create's temporary id, both in the durable queue and in the
// in-flight pass snapshot, so they replay against the server-assigned
// id instead of a temp id the remote store has never seen.
func (e *Engine) retarget(remaining []models.PendingOperation, created models.PendingOperation, newID string) {
	if err := e.queue.ReassignRecordID(created.Table, created.RecordID, newID); err != nil {
		logging.Error("Failed to retarget queued operations", err,
			map[string]any{"op_id": created.ID, "new_id": newID})
	}
	for i := range remaining {
		if remaining[i].Table == created.Table && remaining[i].RecordID == created.RecordID {
			remaining[i].RetargetRecord(newID)
		}
	}
}

func (e *Engine) fail(op models.PendingOperation, cause error) {
	if err := e.queue.Fail(op, cause.Error()); err != nil {
		logging.Error("Failed to record permanent failure", err,
			map[string]any{"op_id": op.ID})
	}
	e.emitError(errors.Wrap(errors.ErrSyncFailed,
		"operation "+op.ID+" failed permanently", cause))
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *Engine) loadLastSync() {
	raw, ok, err := e.store.Get(lastSyncKey)
	if err != nil || !ok {
		return
	}
	if unix, perr := strconv.ParseInt(raw, 10, 64); perr == nil && unix > 0 {
		e.lastSyncTime = time.Unix(unix, 0)
	}
}

func (e *Engine) persistLastSync() {
	e.mu.Lock()
	ts := e.lastSyncTime
	e.mu.Unlock()

	if err := e.store.Set(lastSyncKey, strconv.FormatInt(ts.Unix(), 10)); err != nil {
		logging.Error("Failed to persist last sync time", err, nil)
	}
}

func (e *Engine) emitComplete() {
	e.subMu.Lock()
	subs := make([]func(), len(e.completeSubs))
	copy(subs, e.completeSubs)
	e.subMu.Unlock()

	logging.Info("Sync completed", map[string]any{"pending": e.queue.Count()})
	for _, fn := range subs {
		fn()
	}
}

func (e *Engine) emitError(err error) {
	e.subMu.Lock()
	subs := make([]func(error), len(e.errorSubs))
	copy(subs, e.errorSubs)
	e.subMu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
}
