package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/acme-dns-sidecar/internal/acmedb"
	"github.com/foxzi/acme-dns-sidecar/internal/config"
	"github.com/foxzi/acme-dns-sidecar/internal/journal"
	"github.com/foxzi/acme-dns-sidecar/internal/metrics"
	"github.com/foxzi/acme-dns-sidecar/internal/sidecar"
	"github.com/foxzi/acme-dns-sidecar/internal/watch"
)

// shutdownTimeout bounds the metrics server shutdown
const shutdownTimeout = 10 * time.Second

// Options carries settings that come from the command line
type Options struct {
	Kubeconfig string // empty means in-cluster
	Namespace  string // overrides the kubeconfig context namespace
}

// App is the main application
type App struct {
	config    *config.Config
	namespace string
	sidecar   *sidecar.Sidecar
	journal   *journal.Journal
	collector *metrics.Collector
	server    *metrics.Server
	logger    *slog.Logger
}

// New creates a new application connected to the Kubernetes API
func New(cfg *config.Config, opts Options) (*App, error) {
	restConfig, err := watch.RESTConfig(opts.Kubeconfig)
	if err != nil {
		return nil, err
	}

	namespace, err := watch.ResolveNamespace(opts.Namespace, opts.Kubeconfig, watch.NamespaceFile)
	if err != nil {
		return nil, err
	}

	client, err := watch.NewClient(restConfig)
	if err != nil {
		return nil, err
	}

	return newApp(cfg, watch.NewSecretWatcher(client, namespace), namespace, os.Stdout)
}

// newApp wires the components around an existing secret watcher
func newApp(cfg *config.Config, watcher watch.Watcher, namespace string, logOutput io.Writer) (*App, error) {
	logger := setupLogger(cfg.Sidecar.Logging, logOutput)

	a := &App{
		config:    cfg,
		namespace: namespace,
		logger:    logger,
	}

	// Optional reconcile journal
	var sidecarJournal sidecar.Journal
	var journalReader metrics.JournalReader
	var journalCounter metrics.EntryCounter
	if cfg.JournalEnabled() {
		j, err := journal.Open(cfg.Sidecar.Journal.Path, cfg.Sidecar.Journal.MaxEntries)
		if err != nil {
			return nil, err
		}
		a.journal = j
		sidecarJournal = j
		journalReader = j
		journalCounter = j
		logger.Info("reconcile journal enabled", "path", cfg.Sidecar.Journal.Path)
	}

	// acme-dns database access
	database := acmedb.New(cfg.Database.Connection, cfg.Sidecar.Database.BusyTimeout.Std())
	gate := acmedb.NewGate(
		database.Path(),
		database,
		cfg.Sidecar.Database.PollInterval.Std(),
		logger.With("component", "readiness"),
	)
	reconciler := acmedb.NewReconciler(database)

	stream := watch.NewStream(watcher, watch.Options{
		FieldSelector:    cfg.Sidecar.Secrets.FieldSelector,
		LabelSelector:    cfg.Sidecar.Secrets.LabelSelector,
		ResubscribeDelay: cfg.Sidecar.Watch.ResubscribeDelay.Std(),
	}, logger.With("component", "watch"))

	a.sidecar = sidecar.New(gate, stream, reconciler, sidecarJournal, logger.With("component", "sidecar"))

	if cfg.Sidecar.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		metricsLogger := logger.With("component", "metrics")

		collector, err := metrics.NewCollector(m, metrics.CollectorOptions{
			DB:            a.boltDB(),
			DatabasePath:  database.Path(),
			FlushInterval: cfg.Sidecar.Metrics.FlushInterval.Std(),
			Journal:       journalCounter,
		}, metricsLogger)
		if err != nil {
			a.closeJournal()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.collector = collector

		a.server = metrics.NewServer(m, metrics.ServerOptions{
			Addr:       cfg.Sidecar.Metrics.ListenAddr,
			Path:       cfg.Sidecar.Metrics.Path,
			AllowedIPs: cfg.Sidecar.Metrics.AllowedIPs,
			Ready:      a.sidecar.Ready,
			Journal:    journalReader,
		}, metricsLogger)
		logger.Info("metrics enabled", "addr", cfg.Sidecar.Metrics.ListenAddr, "path", cfg.Sidecar.Metrics.Path)
	}

	return a, nil
}

// Run starts all components and waits for shutdown. A shutdown signal is a
// clean exit; an undecodable secret or a server failure is returned.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting acme-dns-sidecar",
		"database", a.config.Database.Connection,
		"namespace", a.namespace,
		"field_selector", a.config.Sidecar.Secrets.FieldSelector,
		"label_selector", a.config.Sidecar.Secrets.LabelSelector,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			if err := a.server.ListenAndServe(); err != nil {
				serverErr <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	sidecarDone := make(chan error, 1)
	go func() {
		sidecarDone <- a.sidecar.Run(ctx)
	}()

	var runErr error
	select {
	case err := <-sidecarDone:
		if errors.Is(err, context.Canceled) {
			a.logger.Info("shutdown signal received")
		} else {
			a.logger.Error("sidecar stopped", "error", err)
			runErr = err
		}
	case err := <-serverErr:
		a.logger.Error("server error", "error", err)
		runErr = err
		cancel()
		<-sidecarDone
	}

	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Collector persists counters into the journal file, so it stops first
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	a.closeJournal()

	a.logger.Info("shutdown complete")
	return nil
}

// boltDB returns the journal file handle for persisted counters, or nil
func (a *App) boltDB() *bolt.DB {
	if a.journal == nil {
		return nil
	}
	return a.journal.DB()
}

func (a *App) closeJournal() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Error("journal close error", "error", err)
	}
	a.journal = nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
