// Kestrel - Money-laundering pattern detection for payment ledgers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/admission"
	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"alert_threshold", cfg.Analysis.AlertThreshold,
	)
	if cfg.Tracing.Enabled {
		slog.Info("tracing enabled, spans go to the global tracer provider",
			"service_name", cfg.Tracing.ServiceName,
		)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Metrics
	m := metrics.New()
	if err := m.RegisterDB(repo.DB(), "kestrel"); err != nil {
		slog.Warn("failed to register database metrics", "error", err)
	}

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := engine.LoadRules(rules.AdmissionRules()); err != nil {
		slog.Error("failed to load admission rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Admission
	admissionSvc, err := admission.NewService(repo, engine, busImpl, m, cfg.Admission)
	if err != nil {
		slog.Error("failed to initialize admission", "error", err)
		os.Exit(1)
	}

	// Initialize Analysis
	emitter := alert.NewEmitter(repo, cacheImpl, busImpl, cfg.Analysis.AlertThreshold, cfg.Analysis.EmittedKeyTTL)
	detectors := detect.Defaults(cfg.Analysis)
	orchestrator := analysis.NewOrchestrator(repo, cacheImpl, emitter, detectors, m, cfg.Analysis)
	slog.Info("analysis initialized", "detectors", len(detectors))

	// Initialize scheduling worker
	analysisWorker := worker.NewWorker(busImpl, orchestrator)
	if err := analysisWorker.Start(worker.Config{Interval: cfg.Analysis.Interval}); err != nil {
		slog.Error("failed to start analysis worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, admissionSvc, orchestrator, engine, api.ServerOptions{
		Metrics:            m,
		RateLimitPerMinute: cfg.Admission.RateLimitPerMinute,
		Version:            Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so no run starts during shutdown
	if err := analysisWorker.Stop(); err != nil {
		slog.Error("failed to stop analysis worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║     Laundering Pattern Detection          ║")
	fmt.Println("  ║      Follow the money, in circles.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Analysis.Interval > 0 {
		fmt.Printf("  Schedule: every %s\n", cfg.Analysis.Interval)
	}
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transfers               - Score and commit a transfer")
	fmt.Println("    POST /analysis/runs           - Run pattern detection now")
	fmt.Println("    GET  /alerts                  - List recent alerts")
	fmt.Println("    POST /accounts/{id}/block     - Block an account")
	fmt.Println("    POST /transactions/{id}/flag  - Flag a transaction")
	fmt.Println("    GET  /stats                   - Dashboard counters")
	fmt.Println("    GET  /rules                   - List admission rules")
	fmt.Println("    GET  /metrics                 - Prometheus metrics")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
