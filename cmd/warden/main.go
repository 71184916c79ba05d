package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/warden/internal/config"
	"github.com/dyluth/warden/internal/identity"
	"github.com/dyluth/warden/internal/lifecycle"
	"github.com/dyluth/warden/internal/metrics"
	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/platform/discord"
	"github.com/dyluth/warden/internal/reconcile"
	"github.com/dyluth/warden/internal/registry"
	"github.com/dyluth/warden/internal/retry"
	"github.com/dyluth/warden/internal/roles"
	"github.com/dyluth/warden/internal/summary"
	"github.com/dyluth/warden/internal/warden"
	"github.com/dyluth/warden/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// memberOpConcurrency bounds parallel thread-member changes per reconciliation.
const memberOpConcurrency = 4

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Environment and logging
	rt := config.LoadRuntime()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: rt.LogLevel})).
		With("instance", rt.Instance)
	slog.SetDefault(logger)

	if rt.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN must be set")
	}

	// 2. warden.yml
	cfg, err := config.Load(rt.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", rt.ConfigPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Redis: ledger mirror and name cache
	redisOpts, err := redis.ParseURL(rt.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	ledgerClient, err := ledger.NewClient(redisOpts, rt.Instance)
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	defer ledgerClient.Close()
	if err := ledgerClient.Ping(ctx); err != nil {
		logger.Warn("redis_unreachable", "error", err)
	}

	// 4. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	policy := retry.Policy{
		Attempts:  cfg.Timings.RetryAttempts,
		Step:      cfg.Timings.RetryStep,
		Permanent: platform.IsPermanent,
	}

	// 5. Name store
	store, err := identity.Open(ctx, rt.NameStore, rt.NameStoreDSN, rt.NameTable)
	if err != nil {
		return fmt.Errorf("failed to open name store: %w", err)
	}
	cached := identity.NewCachedStore(store, ledgerClient.Redis(), rt.Instance, identity.DefaultCacheTTL, logger)
	defer cached.Close()
	names := identity.NewResolver(cached, policy, m, logger)

	// 6. Discord session
	session, err := discord.New(rt.DiscordToken, cfg.GuildID, logger)
	if err != nil {
		return err
	}

	// 7. Core
	classifier := roles.NewClassifier(cfg)
	reviews := registry.New()
	reconciler := reconcile.New(session, policy, m, logger, memberOpConcurrency)
	ctl := lifecycle.New(session, classifier, reviews, names, reconciler, m, logger, lifecycle.Options{
		AdminUserID: cfg.AdminUserID,
		AutoMigrate: cfg.AutoMigrate,
		PendingTTL:  cfg.Timings.PendingTTL,
		InFlightTTL: cfg.Timings.InFlightDeletionTTL,
		Retry:       policy,
	})
	summaries := summary.NewPublisher(session, classifier, reviews, names, cfg.GuildID,
		rate.NewLimiter(rate.Every(cfg.Timings.SweepDelay), 2), logger)

	engine := warden.NewEngine(cfg, warden.Deps{
		Platform:   session,
		Registry:   reviews,
		Controller: ctl,
		Reconciler: reconciler,
		Summaries:  summaries,
		Ledger:     ledgerClient,
		Metrics:    m,
		Logger:     logger,
		Retry:      policy,
	})

	// 8. Health server
	health := warden.NewHealthServer(rt.HealthAddr, warden.HealthChecks{
		Gateway:   engine.Ready,
		Redis:     ledgerClient,
		NameStore: cached,
	}, reg, logger)
	if err := health.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = health.Shutdown(shutdownCtx)
	}()

	// 9. Gateway
	session.Bind(ctx, engine)
	if err := session.Open(); err != nil {
		return err
	}
	defer session.Close()
	if err := waitReady(ctx, engine); err != nil {
		return err
	}
	if err := session.RegisterCommands(ctx, warden.Commands()); err != nil {
		logger.Warn("command_registration_failed", "error", err)
	}

	logger.Info("warden_starting", "guild_id", cfg.GuildID, "categories", len(cfg.Categories), "dry_run", cfg.DryRun)

	// 10. Run until signalled
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	logger.Info("warden_stopped")
	return nil
}

// waitReady blocks until the gateway reports ready.
func waitReady(ctx context.Context, e *warden.Engine) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(time.Minute)
	for !e.Ready() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errors.New("timed out waiting for gateway ready")
		case <-ticker.C:
		}
	}
	return nil
}
