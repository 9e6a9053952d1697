package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaystack/relayworker/worker/internal/config"
	"github.com/relaystack/relayworker/worker/internal/logging"
	"github.com/relaystack/relayworker/worker/internal/relay"
)

func main() {
	configPath := flag.String("config", "/data/local/tmp/relay_config.yaml", "path to config file")
	flag.Parse()

	// LoadOrDefault logs through the bootstrap logger; the configured one
	// replaces it right after.
	cfg := config.LoadOrDefault(*configPath)
	_, closer := logging.Setup(cfg.Log)
	defer closer.Close()

	slog.Info("relay-worker starting",
		"config", *configPath,
		"version", relay.Version,
		"device", cfg.General.DeviceName,
		"data_endpoint", cfg.Relay.DataEndpoint,
		"intake_dir", cfg.General.IntakeDir,
		"workers", cfg.General.Workers,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Hot-reload applies the log level; everything else needs a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			logging.SetLevel(updated.Log.Level)
			slog.Info("config hot-reloaded", "log_level", updated.Log.Level)
		}); err != nil {
			slog.Warn("config watcher stopped", "err", err)
		}
	}()

	r := relay.New(cfg)

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.Metrics().Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
	}

	r.Run(ctx)

	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		metricsSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}
	slog.Info("relay-worker stopped")
}
