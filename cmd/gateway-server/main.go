// Package main provides the formulario gateway entry point: the local
// process that serves the offline bucket, proxies the form client's traffic
// and reconciles queued submissions with the backend.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PCMI-CASTILHO/FormularioServico/internal/db"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/agent"
	"github.com/PCMI-CASTILHO/FormularioServico/pkg/config"
)

func main() {
	var (
		listenAddr   string
		configPath   string
		databaseType string
		databaseDSN  string
	)

	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	flag.StringVar(&configPath, "config", "", "Path to the gateway config YAML")
	flag.StringVar(&databaseType, "db-type", "", "Database type (sqlite, mysql or postgres; overrides config)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string (overrides config)")
	flag.Parse()

	// Set up structured logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Load config: defaults, file, env, then flag overrides.
	cfg, version, err := config.Resolve(ctx, configPath)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}
	if listenAddr != "" {
		cfg.HTTP.ListenAddr = listenAddr
	}
	if databaseType != "" {
		cfg.Database.Type = databaseType
	}
	if databaseDSN != "" {
		cfg.Database.DSN = databaseDSN
	}

	logger.Info("starting formulario gateway",
		"listen", cfg.HTTP.ListenAddr,
		"bucket", cfg.BucketID(),
		"backend", cfg.BackendBaseURL(),
		"configVersion", version,
	)

	gormDB, err := db.Connect(cfg.Database, logger)
	if err != nil {
		fatal(logger, "failed to connect to database", err)
	}

	gw, err := agent.New(cfg, gormDB, logger)
	if err != nil {
		fatal(logger, "failed to build gateway", err)
	}

	results, err := gw.Install(ctx)
	if err != nil {
		fatal(logger, "install failed", err)
	}
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	logger.Info("core assets installed", "total", len(results), "failed", failed)

	if err := gw.Activate(ctx); err != nil {
		fatal(logger, "activation failed", err)
	}

	router := gw.MountRoutes()

	if err := gw.Start(ctx); err != nil {
		fatal(logger, "failed to start background loops", err)
	}

	// The running configuration is immutable; the watcher only tells the
	// operator a restart is needed.
	if configPath != "" {
		go watchConfig(ctx, configPath, version, logger)
	}

	logger.Info("formulario gateway ready", "listen", cfg.HTTP.ListenAddr)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "HTTP server error", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", "error", err)
	}

	logger.Info("formulario gateway stopped")
}

// watchConfig logs whenever the config file content changes on disk.
func watchConfig(ctx context.Context, path, version string, logger *slog.Logger) {
	store, err := config.NewFileStore(path)
	if err != nil {
		logger.Warn("config watch disabled", "error", err)
		return
	}
	events, err := store.Watch(ctx)
	if err != nil {
		logger.Warn("config watch disabled", "error", err)
		return
	}

	for ev := range events {
		if ev.Error != nil {
			logger.Warn("config watch error", "error", ev.Error)
			continue
		}
		if ev.Version == version {
			continue
		}
		logger.Warn("config file changed on disk, restart the gateway to apply",
			"path", path, "oldVersion", version, "newVersion", ev.Version)
		version = ev.Version
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
