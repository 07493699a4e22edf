package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vjranagit/bouncedash/internal/config"
	"github.com/vjranagit/bouncedash/pkg/api"
	"github.com/vjranagit/bouncedash/pkg/client"
	"github.com/vjranagit/bouncedash/pkg/dashboard"
	"github.com/vjranagit/bouncedash/pkg/events"
	"github.com/vjranagit/bouncedash/pkg/logger"
	"github.com/vjranagit/bouncedash/pkg/storage"
	"github.com/vjranagit/bouncedash/pkg/validation"
)

const (
	version = "0.1.0"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log := logger.New(cfg.ToLoggerConfig())
	logger.SetGlobalLogger(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", version).
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("bounce_base_url", cfg.Bounce.BaseURL).
		Float64("capacity_baseline", cfg.CapacityBaseline()).
		Dur("fetch_timeout", cfg.Bounce.FetchTimeout).
		Dur("session_idle_timeout", cfg.Dashboard.SessionIdleTimeout).
		Time("picker_cutoff", cfg.Dashboard.PickerCutoff).
		Msg("Starting bounce-rate dashboard")

	// Initialize snapshot store
	store, err := storage.NewSnapshotStore(cfg.ToStorageConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshot store")
	}
	defer store.Close()

	bus := events.NewBus(log)
	fetcher := client.NewClient(cfg.Bounce.BaseURL, log)
	sessions := dashboard.NewManager(cfg.ToDashboardConfig(), fetcher, store, bus, log)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Run(sweepCtx, cfg.Dashboard.SweepInterval)

	picker := validation.NewPicker(cfg.Dashboard.PickerCutoff, time.Local)

	server := api.NewServer(cfg.Server.ListenAddr, sessions, bus, picker, api.Options{
		RequestTimeout: cfg.Server.Timeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received, stopping server")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Cancels in-flight fetches; each resolves as failed
	stopSweep()
	sessions.Close()

	log.Info().Msg("Server stopped successfully")
}
