package syncengine

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fitdesk/gymsync/internal/cache"
	"github.com/fitdesk/gymsync/internal/connectivity"
	"github.com/fitdesk/gymsync/internal/errors"
	"github.com/fitdesk/gymsync/internal/localstore"
	"github.com/fitdesk/gymsync/internal/models"
	"github.com/fitdesk/gymsync/internal/queue"
)

// fakeRemote scripts per-record outcomes and records every executed
// operation in order.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []string
	ops     []models.PendingOperation
	outcome map[string]error         // keyed by RecordID; nil or absent means success
	confirm map[string]models.Record // optional replacement record on success
	block   chan struct{}            // when set, Execute waits on it
	entered chan struct{}            // signalled once per Execute when block is set
}

func (f *fakeRemote) Execute(ctx context.Context, op models.PendingOperation) (models.Record, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}

	f.mu.Lock()
	f.calls = append(f.calls, op.RecordID)
	f.ops = append(f.ops, op)
	err := f.outcome[op.RecordID]
	rec := f.confirm[op.RecordID]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	return op.Data, nil
}

func (f *fakeRemote) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRemote) executed() []models.PendingOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PendingOperation, len(f.ops))
	copy(out, f.ops)
	return out
}

type fixture struct {
	store   *localstore.Store
	queue   *queue.PendingQueue
	snap    *cache.Snapshot
	monitor *connectivity.Monitor
	remote  *fakeRemote
	engine  *Engine
}

func setupEngine(t *testing.T, maxRetries int) *fixture {
	t.Helper()

	store, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q, err := queue.Load(store)
	if err != nil {
		t.Fatalf("Failed to load queue: %v", err)
	}

	monitor := connectivity.New(nil, 0)
	monitor.SetOnline(true)

	remote := &fakeRemote{
		outcome: make(map[string]error),
		confirm: make(map[string]models.Record),
	}
	snap := cache.New(store)
	engine := New(store, q, snap, remote, monitor, Config{
		MaxRetries:   maxRetries,
		SyncInterval: time.Hour, // timer never fires during tests
	})

	return &fixture{store: store, queue: q, snap: snap, monitor: monitor, remote: remote, engine: engine}
}

func (fx *fixture) enqueueCreate(t *testing.T, table, recordID string) models.PendingOperation {
	t.Helper()

	op, err := fx.queue.Enqueue(models.PendingOperation{
		Type:     models.OpCreate,
		Table:    table,
		RecordID: recordID,
		Data:     models.Record{"id": recordID, "name": "n-" + recordID},
		URL:      "http://remote/" + table,
		Method:   http.MethodPost,
	})
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := fx.snap.ApplyCreate(table, op.Data); err != nil {
		t.Fatalf("Failed to apply optimistic create: %v", err)
	}
	return op
}

// TestDrainReplaysInOrder tests that a full drain replays the queue in
// FIFO order, empties it and fires the completion event.
func TestDrainReplaysInOrder(t *testing.T) {
	fx := setupEngine(t, 3)

	completed := false
	fx.engine.OnSyncComplete(func() { completed = true })

	for _, rid := range []string{"local-a", "local-b", "local-c"} {
		fx.enqueueCreate(t, "subscribers", rid)
	}

	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	calls := fx.remote.callOrder()
	want := []string{"local-a", "local-b", "local-c"}
	if len(calls) != len(want) {
		t.Fatalf("Expected %d calls, got %d", len(want), len(calls))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], calls[i])
		}
	}

	if fx.queue.Count() != 0 {
		t.Errorf("Queue not emptied: %d left", fx.queue.Count())
	}
	if !completed {
		t.Error("Completion event did not fire")
	}
	if fx.engine.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", fx.engine.State())
	}
	if fx.engine.LastSyncTime().IsZero() {
		t.Error("Last sync time not recorded")
	}
}

// TestNetworkErrorHaltsDrain tests the transient failure contract: the
// failed operation and everything behind it stay queued, untouched and
// in order, and the engine parks offline.
func TestNetworkErrorHaltsDrain(t *testing.T) {
	fx := setupEngine(t, 3)

	fx.enqueueCreate(t, "subscribers", "local-a")
	fx.enqueueCreate(t, "subscribers", "local-b")
	fx.enqueueCreate(t, "subscribers", "local-c")
	fx.remote.outcome["local-b"] = errors.NewNetwork("request timed out", nil)

	err := fx.engine.Drain(context.Background())
	if err == nil {
		t.Fatal("Expected drain to halt with an error")
	}
	if !errors.IsNetwork(err) {
		t.Fatalf("Expected network error, got %v", err)
	}

	ops := fx.queue.PeekAll()
	if len(ops) != 2 {
		t.Fatalf("Expected 2 ops left, got %d", len(ops))
	}
	if ops[0].RecordID != "local-b" || ops[1].RecordID != "local-c" {
		t.Errorf("Queue order disturbed: %s, %s", ops[0].RecordID, ops[1].RecordID)
	}
	if ops[0].Attempts != 0 {
		t.Error("Network failure must not count as an attempt")
	}

	if fx.engine.State() != StateOffline {
		t.Errorf("Expected offline state, got %s", fx.engine.State())
	}
	if fx.monitor.Online() {
		t.Error("Monitor should be flipped offline")
	}
	if !fx.engine.LastSyncTime().IsZero() {
		t.Error("Partial drain must not record a sync time")
	}
}

// TestRegainedConnectivityResumesDrain tests that an online transition
// re-triggers the drain and the remainder of the queue goes through.
func TestRegainedConnectivityResumesDrain(t *testing.T) {
	fx := setupEngine(t, 3)

	fx.enqueueCreate(t, "subscribers", "local-a")
	fx.enqueueCreate(t, "subscribers", "local-b")
	fx.remote.outcome["local-b"] = errors.NewNetwork("request timed out", nil)

	if err := fx.engine.Drain(context.Background()); err == nil {
		t.Fatal("Expected halted drain")
	}

	done := make(chan struct{})
	fx.engine.OnSyncComplete(func() { close(done) })

	fx.remote.mu.Lock()
	delete(fx.remote.outcome, "local-b")
	fx.remote.mu.Unlock()

	fx.monitor.SetOnline(true)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Drain did not resume after connectivity returned")
	}
	if fx.queue.Count() != 0 {
		t.Errorf("Queue not drained after resume: %d left", fx.queue.Count())
	}
}

// TestPoisonedOperationDoesNotBlockQueue tests that a 4xx rejection is
// moved aside permanently while later operations still replay.
func TestPoisonedOperationDoesNotBlockQueue(t *testing.T) {
	fx := setupEngine(t, 3)

	fx.enqueueCreate(t, "subscribers", "local-a")
	fx.enqueueCreate(t, "subscribers", "local-bad")
	fx.enqueueCreate(t, "subscribers", "local-c")
	fx.remote.outcome["local-bad"] = errors.NewServer(http.StatusUnprocessableEntity, "validation rejected")

	var syncErr error
	fx.engine.OnSyncError(func(err error) { syncErr = err })

	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain should not halt on a poisoned operation: %v", err)
	}

	if fx.queue.Count() != 0 {
		t.Errorf("Queue should be empty, got %d", fx.queue.Count())
	}
	failed := fx.queue.Failed()
	if len(failed) != 1 || failed[0].Op.RecordID != "local-bad" {
		t.Errorf("Poisoned op not in failed list: %+v", failed)
	}
	if syncErr == nil {
		t.Error("Error event did not fire for the poisoned operation")
	}

	calls := fx.remote.callOrder()
	if len(calls) != 3 || calls[2] != "local-c" {
		t.Errorf("Later operations did not replay: %v", calls)
	}
}

// TestServerErrorRetriesAreBounded tests that a persistently failing
// 5xx operation is retried up to the limit and then moved aside.
func TestServerErrorRetriesAreBounded(t *testing.T) {
	fx := setupEngine(t, 2)

	fx.enqueueCreate(t, "sales", "local-s")
	fx.remote.outcome["local-s"] = errors.NewServer(http.StatusServiceUnavailable, "overloaded")

	// First pass: attempt recorded, operation still queued.
	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	ops := fx.queue.PeekAll()
	if len(ops) != 1 {
		t.Fatalf("Operation should still be queued, got %d", len(ops))
	}
	if ops[0].Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", ops[0].Attempts)
	}
	if ops[0].LastError == "" {
		t.Error("Last error not recorded")
	}

	// Second pass hits the retry limit.
	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if fx.queue.Count() != 0 {
		t.Errorf("Operation should be moved aside, %d still queued", fx.queue.Count())
	}
	if len(fx.queue.Failed()) != 1 {
		t.Error("Operation not in failed list after retry limit")
	}
}

// TestCreateConfirmationSwapsTempID tests that a replayed create swaps
// the temporary local id for the server-assigned one in the cache.
func TestCreateConfirmationSwapsTempID(t *testing.T) {
	fx := setupEngine(t, 3)

	fx.enqueueCreate(t, "products", "local-tmp")
	fx.remote.confirm["local-tmp"] = models.Record{"id": "srv-55", "name": "n-local-tmp"}

	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	records, err := fx.snap.Records("products")
	if err != nil {
		t.Fatalf("Failed to read cache: %v", err)
	}
	if len(records) != 1 || records[0].ID() != "srv-55" {
		t.Errorf("Temp id not swapped for server id: %+v", records)
	}
}

// TestConfirmedCreateRetargetsLaterOps tests that once a queued create
// gets its server id, the update and delete queued behind it replay
// against that id instead of the temporary local id, which an
// id-filtered remote store would never match.
func TestConfirmedCreateRetargetsLaterOps(t *testing.T) {
	fx := setupEngine(t, 3)

	fx.enqueueCreate(t, "products", "local-tmp")
	if _, err := fx.queue.Enqueue(models.PendingOperation{
		Type:     models.OpUpdate,
		Table:    "products",
		RecordID: "local-tmp",
		Data:     models.Record{"quantity": 3},
		URL:      "http://remote/products?id=eq.local-tmp",
		Method:   http.MethodPatch,
		Body:     []byte(`{"quantity":3}`),
	}); err != nil {
		t.Fatalf("Failed to enqueue update: %v", err)
	}
	if _, err := fx.queue.Enqueue(models.PendingOperation{
		Type:     models.OpDelete,
		Table:    "products",
		RecordID: "local-tmp",
		URL:      "http://remote/products?id=eq.local-tmp",
		Method:   http.MethodDelete,
	}); err != nil {
		t.Fatalf("Failed to enqueue delete: %v", err)
	}

	fx.remote.confirm["local-tmp"] = models.Record{"id": "srv-7", "name": "n-local-tmp"}

	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	executed := fx.remote.executed()
	if len(executed) != 3 {
		t.Fatalf("Expected 3 replayed ops, got %d", len(executed))
	}
	for _, op := range executed[1:] {
		if op.RecordID != "srv-7" {
			t.Errorf("%s op replayed with record id %s, want srv-7", op.Type, op.RecordID)
		}
		if !strings.Contains(op.URL, "id=eq.srv-7") || strings.Contains(op.URL, "local-tmp") {
			t.Errorf("%s op replayed against unretargeted URL: %s", op.Type, op.URL)
		}
	}

	if fx.queue.Count() != 0 {
		t.Errorf("Queue not drained: %d left", fx.queue.Count())
	}
	if len(fx.queue.Failed()) != 0 {
		t.Errorf("Retargeted ops ended up failed: %+v", fx.queue.Failed())
	}
}

// TestStartAfterStop tests that the background timer can be restarted:
// a drain must still happen on a tick after a Stop/Start cycle.
func TestStartAfterStop(t *testing.T) {
	fx := setupEngine(t, 3)
	engine := New(fx.store, fx.queue, fx.snap, fx.remote, fx.monitor, Config{
		MaxRetries:   3,
		SyncInterval: 20 * time.Millisecond,
	})

	ctx := context.Background()
	engine.Start(ctx)
	engine.Stop()
	engine.Start(ctx)
	defer engine.Stop()

	fx.enqueueCreate(t, "subscribers", "local-a")

	deadline := time.Now().Add(3 * time.Second)
	for fx.queue.Count() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("Restarted timer never drained the queue")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestAtMostOneDrain tests that a drain triggered while one is running
// coalesces instead of replaying operations twice.
func TestAtMostOneDrain(t *testing.T) {
	fx := setupEngine(t, 3)
	fx.remote.block = make(chan struct{})
	fx.remote.entered = make(chan struct{}, 1)

	fx.enqueueCreate(t, "subscribers", "local-a")

	done := make(chan error, 1)
	go func() { done <- fx.engine.Drain(context.Background()) }()

	select {
	case <-fx.remote.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("First drain never reached the remote")
	}

	// Second trigger while the first pass is mid-flight.
	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Errorf("Coalesced drain returned error: %v", err)
	}

	close(fx.remote.block)
	if err := <-done; err != nil {
		t.Fatalf("First drain failed: %v", err)
	}

	if calls := fx.remote.callOrder(); len(calls) != 1 {
		t.Errorf("Operation replayed %d times", len(calls))
	}
}

// TestDrainWhileOffline tests that an offline drain is a no-op that
// parks the engine in the offline state.
func TestDrainWhileOffline(t *testing.T) {
	fx := setupEngine(t, 3)
	fx.enqueueCreate(t, "subscribers", "local-a")
	fx.monitor.SetOnline(false)

	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Offline drain should return nil, got %v", err)
	}
	if len(fx.remote.callOrder()) != 0 {
		t.Error("Offline drain must not touch the remote")
	}
	if fx.queue.Count() != 1 {
		t.Error("Offline drain must leave the queue intact")
	}
	if fx.engine.State() != StateOffline {
		t.Errorf("Expected offline state, got %s", fx.engine.State())
	}
}

// TestLastSyncTimeSurvivesRestart tests that a fresh engine over the
// same store sees the previous sync time.
func TestLastSyncTimeSurvivesRestart(t *testing.T) {
	fx := setupEngine(t, 3)

	fx.enqueueCreate(t, "subscribers", "local-a")
	if err := fx.engine.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	want := fx.engine.LastSyncTime()
	if want.IsZero() {
		t.Fatal("Sync time not recorded")
	}

	q2, err := queue.Load(fx.store)
	if err != nil {
		t.Fatalf("Failed to reload queue: %v", err)
	}
	engine2 := New(fx.store, q2, cache.New(fx.store), fx.remote, fx.monitor, Config{})
	got := engine2.LastSyncTime()
	if got.IsZero() || got.Unix() != want.Unix() {
		t.Errorf("Last sync time did not survive restart: got %v want %v", got, want)
	}
}
