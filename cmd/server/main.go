// Command server runs the dlp-mon control plane.
//
// # Usage
//
//	server --config /etc/dlpmon/server.yaml
//
// # Configuration
//
// The server can be configured via:
// - Command-line flags
// - Environment variables (DLPMON_*)
// - A YAML config file
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/guardline/dlp-mon/db/migrate"
	"github.com/guardline/dlp-mon/internal/api"
	"github.com/guardline/dlp-mon/internal/config"
	"github.com/guardline/dlp-mon/internal/index"
	"github.com/guardline/dlp-mon/internal/ingest"
	"github.com/guardline/dlp-mon/internal/notify"
	"github.com/guardline/dlp-mon/internal/secrets"
	"github.com/guardline/dlp-mon/internal/service"
	"github.com/guardline/dlp-mon/internal/settings"
	"github.com/guardline/dlp-mon/internal/store"
	syncpkg "github.com/guardline/dlp-mon/internal/sync"
	"github.com/guardline/dlp-mon/internal/worker"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("dlpmon-server v0.1.0")
		os.Exit(0)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Connect to database and apply migrations
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.NewStoreFromURL(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := migrate.Run(ctx, db.Pool(), logger); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Data key for sealing HMAC secrets at rest
	keyStore, err := secrets.NewKeyStore(secrets.ConfigFromEnv(), logger)
	if err != nil {
		logger.Error("failed to create keystore", "error", err)
		os.Exit(1)
	}
	defer keyStore.Close()

	dataKey, err := keyStore.GetOrCreateDataKey(ctx)
	if err != nil {
		logger.Error("failed to load data key", "error", err)
		os.Exit(1)
	}
	sealer, err := secrets.NewCipher(dataKey)
	if err != nil {
		logger.Error("failed to initialize cipher", "error", err)
		os.Exit(1)
	}

	// Redis: runtime settings plus the two job queues
	settingsStore, err := settings.New(cfg.Redis.URL, logger)
	if err != nil {
		logger.Error("failed to connect to settings store", "error", err)
		os.Exit(1)
	}
	defer settingsStore.Close()

	eventQueue, err := ingest.NewQueue(cfg.Redis.URL, logger)
	if err != nil {
		logger.Error("failed to open event queue", "error", err)
		os.Exit(1)
	}
	defer eventQueue.Close()

	indexQueue, err := index.NewQueue(cfg.Redis.URL, logger)
	if err != nil {
		logger.Error("failed to open index queue", "error", err)
		os.Exit(1)
	}
	defer indexQueue.Close()

	// Document index
	mongoIndex, err := index.NewMongoIndex(ctx, cfg.Index.URL, cfg.Index.Database, cfg.Index.Collection, logger)
	if err != nil {
		logger.Error("failed to connect to document index", "error", err)
		os.Exit(1)
	}
	defer mongoIndex.Close(context.Background())

	// Notifications are best-effort: no broker means a no-op publisher
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.NATSURL != "" {
		natsNotifier, err := notify.NewNATSNotifier(cfg.Notify.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to notification broker", "error", err)
			os.Exit(1)
		}
		notifier = natsNotifier
	}
	defer notifier.Close()

	// Service layer
	svcConfig := service.Config{
		EnrollmentKey: cfg.Auth.EnrollmentKey,
		RegisterRate:  rate.Limit(cfg.Auth.RegisterRatePerSec),
		RegisterBurst: cfg.Auth.RegisterBurst,
	}
	svc := service.NewService(db, settingsStore, notifier, sealer, svcConfig, logger)

	if err := svc.EnsureDefaultRules(ctx); err != nil {
		logger.Error("failed to seed default rules", "error", err)
		os.Exit(1)
	}

	// Background workers
	pipeline := ingest.NewPipeline(db, settingsStore, notifier, indexQueue, logger)
	ingestWorker := ingest.NewWorker(eventQueue, pipeline, ingest.WorkerConfig{
		Workers:      cfg.Ingest.Workers,
		PollInterval: cfg.Ingest.PollInterval,
	}, logger)
	retryWorker := index.NewRetryWorker(indexQueue, mongoIndex, db, index.DefaultRetryWorkerConfig(), logger)
	offlineSweep := worker.NewOfflineSweep(db, notifier, worker.OfflineSweepConfig{
		Interval:         cfg.Liveness.SweepInterval,
		OfflineThreshold: cfg.Liveness.OfflineThreshold,
	}, logger)
	retentionSweep := worker.NewRetentionSweep(db, settingsStore, mongoIndex, worker.RetentionSweepConfig{
		Interval:  cfg.Retention.SweepInterval,
		BatchSize: cfg.Retention.BatchSize,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	ingestWorker.Start(workerCtx)
	retryWorker.Start(workerCtx)
	offlineSweep.Start(workerCtx)
	retentionSweep.Start(workerCtx)

	// HTTP server
	syncer := syncpkg.NewSyncer(db, db, logger)
	apiServer := api.NewServer(svc, syncer, eventQueue, db, mongoIndex, logger)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	workerCancel()
	ingestWorker.Stop()
	retryWorker.Stop()
	offlineSweep.Stop()
	retentionSweep.Stop()

	logger.Info("shutdown complete")
}
