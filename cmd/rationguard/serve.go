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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/rationguard/internal/api"
	"github.com/opensource-finance/rationguard/internal/bus"
	"github.com/opensource-finance/rationguard/internal/cache"
	"github.com/opensource-finance/rationguard/internal/config"
	"github.com/opensource-finance/rationguard/internal/domain"
	"github.com/opensource-finance/rationguard/internal/face"
	"github.com/opensource-finance/rationguard/internal/metrics"
	"github.com/opensource-finance/rationguard/internal/repository"
	"github.com/opensource-finance/rationguard/internal/verification"
	"github.com/opensource-finance/rationguard/internal/worker"
)

func serveCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the verification API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), f)
		},
	}
}

func serve(parent context.Context, f *flags) error {
	cfg, logger, err := load(f)
	if err != nil {
		return err
	}

	logger.Info("starting rationguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	logger.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"metric", cfg.Face.Metric,
		"match_threshold", cfg.Face.MatchThreshold,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	logger.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	logger.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	logger.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Initialize Verification Service
	svc, err := verification.New(verification.Options{
		Repository:   repo,
		Extractor:    face.NewHTTPExtractor(cfg.Face.ExtractorURL, cfg.Face.Timeout, nil),
		Lookup:       cache.NewLookup(cacheImpl, repo, cfg.Cache.LookupTTL),
		Bus:          busImpl,
		Metrics:      m,
		Logger:       logger,
		Face:         cfg.Face,
		Detection:    cfg.Detection,
		Verification: cfg.Verification,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize verification service: %w", err)
	}
	logger.Info("verification service initialized", "extractor", cfg.Face.ExtractorURL)

	// Initialize event Worker
	eventWorker := worker.NewWorker(busImpl, m, logger)
	if err := eventWorker.Start(); err != nil {
		return fmt.Errorf("failed to start event worker: %w", err)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.NewHandler(svc, cacheImpl, busImpl, Version), m)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("rationguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// SIGHUP re-reads the config file and swaps the acceptance expression.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reloadPolicy(f, svc, logger)
			}
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
	}

	// Stop the worker first so no events are handled against a closing bus
	if err := eventWorker.Stop(); err != nil {
		logger.Error("failed to stop event worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("rationguard shutdown complete")
	return serveErr
}

// policyReloader is satisfied by *verification.Service.
type policyReloader interface {
	ReloadPolicy(expression string) error
}

func reloadPolicy(f *flags, svc policyReloader, logger *slog.Logger) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		logger.Error("config reload failed, keeping current policy", "error", err)
		return
	}
	if err := svc.ReloadPolicy(cfg.Face.AcceptExpression); err != nil {
		logger.Error("policy reload failed, keeping current policy", "error", err)
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  RationGuard")
	fmt.Println("  Face-verified ration distribution")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/verify                      - Verify a beneficiary at a shop")
	fmt.Println("    POST /api/beneficiaries               - Register a beneficiary")
	fmt.Println("    GET  /api/beneficiaries/{card}        - Get beneficiary by card")
	fmt.Println("    PUT  /api/beneficiaries/{card}/status - Suspend, block or reactivate")
	fmt.Println("    GET  /api/transactions                - List transactions")
	fmt.Println("    GET  /api/alerts                      - List fraud alerts")
	fmt.Println("    PUT  /api/alerts/{id}/review          - Review an alert")
	fmt.Println("    POST /api/cycles/{id}/activate        - Activate a distribution cycle")
	fmt.Println("    GET  /api/dashboard/stats             - Dashboard counters")
	fmt.Println("    GET  /metrics                         - Prometheus metrics")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
