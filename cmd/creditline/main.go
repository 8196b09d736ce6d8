// creditline - Credit approval that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/creditline/internal/api"
	"github.com/opensource-finance/creditline/internal/bus"
	"github.com/opensource-finance/creditline/internal/cache"
	"github.com/opensource-finance/creditline/internal/config"
	"github.com/opensource-finance/creditline/internal/credit"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/opensource-finance/creditline/internal/lending"
	"github.com/opensource-finance/creditline/internal/repository"
	"github.com/opensource-finance/creditline/internal/rules"
	"github.com/opensource-finance/creditline/internal/telemetry"
	"github.com/opensource-finance/creditline/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("creditline exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CREDITLINE_CONFIG"))
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Info("starting creditline",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := credit.NewEngine(credit.WeightsFromConfig(cfg.Policy))
	if err != nil {
		return fmt.Errorf("failed to initialize credit engine: %w", err)
	}

	policy, err := rules.NewEngine(cfg.Policy.MaxConcurrency)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	defer policy.Close()
	if err := policy.ReloadRules(cfg.Policy.Rules); err != nil {
		return fmt.Errorf("failed to load policy rules: %w", err)
	}
	slog.Info("policy engine initialized", "rules_count", policy.RulesCount())

	svc := lending.NewService(repo, cacheImpl, busImpl, engine, policy, lending.OptionsFromConfig(cfg))

	var w *worker.Worker
	if cfg.Worker.Enabled {
		w = worker.NewWorker(busImpl, svc)
		if err := w.Start(worker.Config{TenantIDs: cfg.Worker.Tenants, Queue: worker.DefaultQueue}); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		slog.Info("worker started", "tenants", len(cfg.Worker.Tenants))
	}

	server := api.NewServer(cfg.Server, cfg.Metrics, svc, repo, cacheImpl, busImpl, Version)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if w != nil {
		if err := w.Stop(); err != nil {
			slog.Warn("failed to stop worker", "error", err)
		}
	}

	slog.Info("creditline shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  creditline - credit approval engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /register                   - Register a customer")
	fmt.Println("    POST /check-eligibility          - Quote a loan without booking it")
	fmt.Println("    POST /create-loan                - Decide and book a loan")
	fmt.Println("    GET  /view-loan/{loan_id}        - Loan with customer details")
	fmt.Println("    GET  /view-loans/{customer_id}   - Loans of a customer")
	fmt.Println("    POST /record-payment/{loan_id}   - Record an on-time EMI")
	fmt.Println("    POST /loan-requests              - Queue a decision on the event bus")
	fmt.Println("    GET  /health, /ready             - Health and readiness")
	if cfg.Metrics.Enabled {
		fmt.Printf("    GET  %-27s - Prometheus metrics\n", cfg.Metrics.Path)
	}
	fmt.Println()
}
