// gymsyncd is the local sync daemon for the gym-management UI. It keeps
// a local cache of the remote data store, queues writes while offline
// and reconciles them when connectivity returns, exposing a REST API
// and a WebSocket event stream on localhost.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/fitdesk/gymsync/cmd/gymsyncd/handlers"
	"github.com/fitdesk/gymsync/internal/config"
	"github.com/fitdesk/gymsync/internal/dataservice"
	"github.com/fitdesk/gymsync/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("info")
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)
	defer logging.Sync()

	svc, err := dataservice.Open(cfg)
	if err != nil {
		logging.Error("Failed to open data service", err, nil)
		os.Exit(1)
	}

	hub := NewWSHub()
	svc.OnSyncComplete(func() {
		hub.BroadcastSyncCompleted(svc.GetPendingSyncCount())
	})
	svc.OnSyncError(func(err error) {
		hub.BroadcastSyncFailed(err.Error())
	})
	svc.OnConnectivityChange(hub.BroadcastConnectivity)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.Start(ctx)

	recordsHandler := handlers.NewRecordsHandler(svc)
	syncHandler := handlers.NewSyncHandler(svc)
	syncHandler.SetBroadcaster(hub)

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/records/{table}", recordsHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/records/{table}", recordsHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/records/{table}/{id}", recordsHandler.Update).Methods(http.MethodPatch)
	api.HandleFunc("/records/{table}/{id}", recordsHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/sync/status", syncHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/sync/now", syncHandler.TriggerSync).Methods(http.MethodPost)
	api.HandleFunc("/sync/failed", syncHandler.Failed).Methods(http.MethodGet)
	api.HandleFunc("/sync/failed", syncHandler.ClearFailed).Methods(http.MethodDelete)
	api.HandleFunc("/health", syncHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/ws", HandleWebSocket(hub))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logging.Info("gymsyncd listening", map[string]any{
			"addr":   cfg.ListenAddr,
			"remote": cfg.RemoteBaseURL,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP server shutdown failed", err, nil)
	}
	if err := svc.Close(); err != nil {
		logging.Error("Failed to close data service", err, nil)
	}
}
