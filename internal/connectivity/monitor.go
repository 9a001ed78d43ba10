// Package connectivity tracks online/offline transitions against the
// remote store. Transitions can be injected by the host (the equivalent
// of browser online/offline events) and are additionally detected by a
// bounded-interval reachability probe, a correctness net in case a
// transition event is missed.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/fitdesk/gymsync/internal/logging"
)

// DefaultProbeInterval is used when no interval is configured.
const DefaultProbeInterval = 15 * time.Second

// Prober checks reachability of the remote store.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor holds the current connectivity flag and notifies subscribers
// on every transition through an internal publish-subscribe list, so
// the core stays decoupled from any host event system.
type Monitor struct {
	mu       sync.Mutex
	prober   Prober
	online   bool
	interval time.Duration
	subs     []func(online bool)

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Monitor. prober may be nil, in which case only injected
// transitions are observed (useful in tests). The monitor starts in the
// offline state until the first probe or injected event says otherwise.
func New(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Online returns the current connectivity flag.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn to be called on every connectivity transition.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline records a connectivity transition. No-op when the flag is
// unchanged; otherwise every subscriber is notified.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]any{"online": online})
	for _, fn := range subs {
		fn(online)
	}
}

// Start launches the periodic reachability probe. The first probe runs
// immediately so startup state reflects reality rather than the
// pessimistic default.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.prober == nil {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.prober.Ping(probeCtx)
	m.SetOnline(err == nil)
	if err != nil {
		logging.Debug("Reachability probe failed", map[string]any{"error": err.Error()})
	}
}
