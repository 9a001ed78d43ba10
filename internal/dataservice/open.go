package dataservice

import (
	"github.com/fitdesk/gymsync/internal/cache"
	"github.com/fitdesk/gymsync/internal/config"
	"github.com/fitdesk/gymsync/internal/connectivity"
	"github.com/fitdesk/gymsync/internal/gateway"
	"github.com/fitdesk/gymsync/internal/localstore"
	"github.com/fitdesk/gymsync/internal/queue"
	"github.com/fitdesk/gymsync/internal/syncengine"
)

// Open wires a complete Service from configuration: local store, cache
// snapshot, pending queue (reloaded from disk, order preserved), remote
// gateway, connectivity monitor and sync engine. The service is not
// started; call Start after registering callbacks.
func Open(cfg *config.Config) (*Service, error) {
	store, err := localstore.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	q, err := queue.Load(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	gw := gateway.New(cfg.RemoteBaseURL, cfg.RequestTimeout)
	monitor := connectivity.New(gw, cfg.ProbeInterval)
	snapshot := cache.New(store)
	engine := syncengine.New(store, q, snapshot, gw, monitor, syncengine.Config{
		MaxRetries:   cfg.MaxRetries,
		SyncInterval: cfg.SyncInterval,
	})

	return New(store, snapshot, q, gw, monitor, engine), nil
}
