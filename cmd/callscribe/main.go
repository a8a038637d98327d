package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callscribe/callscribe/internal/api"
	"github.com/callscribe/callscribe/internal/archive"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/fetcher"
	"github.com/callscribe/callscribe/internal/ledger"
	"github.com/callscribe/callscribe/internal/ledger/pgledger"
	"github.com/callscribe/callscribe/internal/metrics"
	"github.com/callscribe/callscribe/internal/script"
	"github.com/callscribe/callscribe/internal/twiml"
)

// retentionInterval is how often the retention cleanup runs.
const retentionInterval = 1 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callscribe",
		"http_port", cfg.HTTPPort,
		"base_url", cfg.BaseURL,
		"data_dir", cfg.DataDir,
	)

	// Load the survey script.
	var scr *script.Script
	if cfg.ScriptFile != "" {
		scr, err = script.LoadFile(cfg.ScriptFile)
		if err != nil {
			slog.Error("failed to load survey script", "file", cfg.ScriptFile, "error", err)
			os.Exit(1)
		}
		slog.Info("loaded survey script", "file", cfg.ScriptFile, "steps", len(scr.Steps))
	} else {
		scr = script.Default()
	}

	// Open the ledger: PostgreSQL when a DSN is configured, the embedded
	// sqlite database otherwise.
	var (
		recordings  ledger.RecordingRepository
		events      ledger.CallEventRepository
		admins      ledger.AdminUserRepository
		closeLedger func() error
	)
	if cfg.PostgresDSN != "" {
		store, err := pgledger.Open(cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres ledger", "error", err)
			os.Exit(1)
		}
		recordings = pgledger.NewRecordingRepository(store)
		events = pgledger.NewCallEventRepository(store)
		admins = pgledger.NewAdminUserRepository(store)
		closeLedger = store.Close
		slog.Info("using postgres ledger")
	} else {
		db, err := ledger.Open(cfg.DataDir)
		if err != nil {
			slog.Error("failed to open ledger database", "error", err)
			os.Exit(1)
		}
		recordings = ledger.NewRecordingRepository(db)
		events = ledger.NewCallEventRepository(db)
		admins = ledger.NewAdminUserRepository(db)
		closeLedger = db.Close
	}
	defer closeLedger() //nolint:errcheck

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	bootstrapAdmin(appCtx, admins, cfg.AdminPassword)

	// Recording archive on disk.
	arch, err := archive.New(filepath.Join(cfg.DataDir, "recordings"), scr)
	if err != nil {
		slog.Error("failed to open recording archive", "error", err)
		os.Exit(1)
	}

	// Retention cleanup ticker.
	deleter := &expiredDeleterAdapter{recordings: recordings}
	archive.StartCleanupTicker(appCtx, arch, deleter, cfg.RetentionDays, retentionInterval)
	if cfg.RetentionDays > 0 {
		slog.Info("recording retention enabled", "max_days", cfg.RetentionDays)
	}

	fetch := fetcher.New(cfg.AccountSID, cfg.AuthToken, cfg.FetchTimeout, arch, recordings)

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	// Prometheus scrape endpoint.
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(recordings, events, arch, time.Now()))
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	handler := api.NewServer(api.Deps{
		Config:     cfg,
		Script:     scr,
		Renderer:   twiml.NewRenderer(cfg.BaseURL),
		Fetcher:    fetch,
		Archive:    arch,
		Recordings: recordings,
		Events:     events,
		Admins:     admins,
		JWTSecret:  jwtSecret,
		Metrics:    metricsHandler,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callscribe stopped")
}

// bootstrapAdmin creates the initial admin account on first run. Without a
// configured password the admin API stays locked until one is provided.
func bootstrapAdmin(ctx context.Context, admins ledger.AdminUserRepository, password string) {
	count, err := admins.Count(ctx)
	if err != nil {
		slog.Error("failed to count admin users", "error", err)
		return
	}
	if count > 0 {
		return
	}
	if password == "" {
		slog.Warn("no admin users and no admin-password configured, admin api is unusable")
		return
	}

	hash, err := ledger.HashPassword(password)
	if err != nil {
		slog.Error("failed to hash admin password", "error", err)
		return
	}
	if err := admins.Create(ctx, &ledger.AdminUser{Username: "admin", PasswordHash: hash}); err != nil {
		slog.Error("failed to create admin user", "error", err)
		return
	}
	slog.Info("created initial admin user", "username", "admin")
}

// expiredDeleterAdapter bridges the recording ledger with the archive's
// retention cleanup, reducing deleted rows to the caller/step pairs the
// archive needs for file removal.
type expiredDeleterAdapter struct {
	recordings ledger.RecordingRepository
}

func (a *expiredDeleterAdapter) DeleteOlderThan(ctx context.Context, days int) ([]archive.ExpiredRecording, error) {
	rows, err := a.recordings.DeleteOlderThan(ctx, days)
	if err != nil {
		return nil, err
	}
	expired := make([]archive.ExpiredRecording, len(rows))
	for i, r := range rows {
		expired[i] = archive.ExpiredRecording{CallerID: r.CallerID, StepKey: r.StepKey}
	}
	return expired, nil
}
