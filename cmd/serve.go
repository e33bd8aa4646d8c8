package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openreply/pagegate/internal/broadcast"
	"github.com/openreply/pagegate/internal/cache"
	"github.com/openreply/pagegate/internal/config"
	"github.com/openreply/pagegate/internal/dispatch"
	"github.com/openreply/pagegate/internal/queue"
	"github.com/openreply/pagegate/internal/reconcile"
	"github.com/openreply/pagegate/internal/routing"
	"github.com/openreply/pagegate/internal/store"
	"github.com/openreply/pagegate/internal/store/pg"
	"github.com/openreply/pagegate/internal/store/sqlite"
	"github.com/openreply/pagegate/internal/tracing"
	"github.com/openreply/pagegate/internal/webhook"
)

const (
	storeRetries       = 2
	storeRetryBackoff  = 200 * time.Millisecond
	storeFailThreshold = 3
	storeCooldown      = 30 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tracing is optional; a broken exporter should not keep the gateway
	// from serving.
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Insecure:    cfg.Telemetry.Insecure,
	}, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	// Storage: Postgres when a DSN is provided, embedded SQLite otherwise.
	var base store.Store
	mode := "standalone"
	if cfg.Database.PostgresDSN != "" {
		db, dbErr := pg.OpenDB(cfg.Database.PostgresDSN)
		if dbErr != nil {
			slog.Error("postgres connect failed", "error", dbErr)
			os.Exit(1)
		}
		base = pg.NewPGStore(db)
		mode = "managed"
	} else {
		st, sqErr := sqlite.Open(cfg.Database.SQLitePath)
		if sqErr != nil {
			slog.Error("sqlite open failed", "path", cfg.Database.SQLitePath, "error", sqErr)
			os.Exit(1)
		}
		base = st
	}

	health := store.NewHealth(storeFailThreshold, storeCooldown)
	st := store.WithRetry(base, storeRetries, storeRetryBackoff, health)
	defer st.Close()

	tenants := cache.NewTenantCache(st, cfg.Caches.TenantTTL())
	flags := cache.NewFlagCache(st, cfg.Caches.FlagTTL())
	ledger := cache.NewLedger(cfg.Caches.DedupTTL())
	echoes := cache.NewAgentEchoCache(cfg.Caches.AgentEchoTTL())

	hub := broadcast.NewHub(cfg.Server.Token)

	dispatcher := dispatch.NewHTTPDispatcher(
		cfg.Dispatch.ResponderURL,
		cfg.Dispatch.Token,
		cfg.Dispatch.DispatchTimeout(),
		cfg.Dispatch.RequestsPerSecond,
		echoes,
	)

	q := queue.NewPartitioned(cfg.Queue.Partitions, cfg.Queue.Buffer, func(ctx context.Context, job queue.Job) {
		ev := dispatch.EventFromItem(job.TenantID, job.ChannelID, job.Item)
		if err := dispatcher.Dispatch(ctx, ev); err != nil {
			slog.Warn("queue.dispatch_failed",
				"tenant_id", job.TenantID,
				"partition_key", job.PartitionKey,
				"error", err,
			)
		}
	})

	router := routing.NewRouter(flags, q, dispatcher, hub)
	reconciler := reconcile.NewReconciler(tenants, ledger, echoes, st, hub)
	handler := webhook.NewHandler(tenants, flags, router, reconciler, dispatcher, health, cfg.Platform.CannedReplies)
	server := webhook.NewServer(cfg, handler, hub, health)

	sweeper, err := cache.NewSweeper(cfg.Caches.SweepSchedule, ledger, tenants, flags, echoes)
	if err != nil {
		slog.Error("invalid sweep schedule", "schedule", cfg.Caches.SweepSchedule, "error", err)
		os.Exit(1)
	}

	// Prewarm is best effort: a cold flag cache only means the first window
	// of lookups reads the safe default.
	go func() {
		if err := flags.Prewarm(ctx, cfg.Caches.PrewarmBatch); err != nil {
			slog.Warn("flags.prewarm_failed", "error", err)
		}
	}()

	// Config reload drops all cached flag decisions so the new settings
	// take effect within one refill window.
	go func() {
		err := config.Watch(ctx, cfgPath, func(_ *config.Config) {
			flags.Reset()
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("config.watch_stopped", "error", err)
		}
	}()

	slog.Info("pagegate starting",
		"version", Version,
		"mode", mode,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"queue_partitions", cfg.Queue.Partitions,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return q.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	<-gctx.Done()
	hub.Shutdown()

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
	slog.Info("pagegate stopped")
}
