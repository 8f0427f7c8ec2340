package cmd

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wolfganghq/centurion/internal/bus"
	"github.com/wolfganghq/centurion/internal/config"
	"github.com/wolfganghq/centurion/internal/egress"
	"github.com/wolfganghq/centurion/internal/events"
	"github.com/wolfganghq/centurion/internal/followups"
	"github.com/wolfganghq/centurion/internal/handoff"
	"github.com/wolfganghq/centurion/internal/httpapi"
	"github.com/wolfganghq/centurion/internal/idempotency"
	"github.com/wolfganghq/centurion/internal/integrations"
	"github.com/wolfganghq/centurion/internal/locks"
	"github.com/wolfganghq/centurion/internal/logging"
	mcpbridge "github.com/wolfganghq/centurion/internal/mcp"
	"github.com/wolfganghq/centurion/internal/memory"
	"github.com/wolfganghq/centurion/internal/qualification"
	"github.com/wolfganghq/centurion/internal/runtime"
	"github.com/wolfganghq/centurion/internal/secrets"
	"github.com/wolfganghq/centurion/internal/store"
	"github.com/wolfganghq/centurion/internal/store/pg"
	"github.com/wolfganghq/centurion/internal/tools"
	"github.com/wolfganghq/centurion/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime: HTTP surface, event consumers, and workers",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logging.Setup("centurion", cfg.LogLevel)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "centurion")
	if err != nil {
		logger.Warn("tracing setup failed", "error", err)
	} else {
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(tctx)
		}()
	}

	state := httpapi.ConnectionState{Mode: "connected"}
	var (
		db      *sql.DB
		rdb     *redis.Client
		stores  *store.Stores
		keyring *secrets.Keyring
	)

	if cfg.DisableConnections {
		state.Mode = "disabled"
		logger.Warn("connections disabled, serving HTTP only")
	} else {
		if cfg.Crypto.CurrentKey != "" {
			keyring, err = secrets.NewKeyring(cfg.Crypto.CurrentKey, cfg.Crypto.PreviousKey)
			if err != nil {
				logger.Error("keyring setup failed", "error", err)
				os.Exit(1)
			}
		}

		db, err = pg.OpenDB(cfg.Database.PostgresDSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			state = httpapi.ConnectionState{Mode: "failed", ErrorType: "database"}
		}

		if state.Mode == "connected" {
			opts, perr := redis.ParseURL(cfg.Redis.URL)
			if perr != nil {
				logger.Error("redis url invalid", "error", perr)
				state = httpapi.ConnectionState{Mode: "failed", ErrorType: "redis"}
			} else {
				rdb = redis.NewClient(opts)
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if perr := rdb.Ping(pingCtx).Err(); perr != nil {
					logger.Error("redis connection failed", "error", perr)
					state = httpapi.ConnectionState{Mode: "failed", ErrorType: "redis"}
				}
				cancel()
			}
		}

		if state.Mode == "connected" {
			stores = pg.NewStores(db, keyring)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var (
		centurions store.CenturionStore
		providers  *integrations.OpenAIResolver
	)
	if stores != nil {
		centurions = stores.Centurions
		resolver := integrations.NewResolver(stores.Integrations, keyring)
		providers = integrations.NewOpenAIResolver(resolver, cfg.OpenAI)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpapi.NewServer(db, rdb, centurions, providers, state, logger).Handler(),
	}
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTP.Addr, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if stores != nil && !cfg.DisableWorkers {
		startWorkers(g, gctx, cfg, stores, db, rdb, providers, logger)
	} else if cfg.DisableWorkers {
		logger.Warn("workers disabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runtime exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func startWorkers(g *errgroup.Group, ctx context.Context, cfg *config.Config, stores *store.Stores, db *sql.DB, rdb *redis.Client, providers *integrations.OpenAIResolver, logger *slog.Logger) {
	publisher := bus.New(rdb)
	idem := idempotency.NewStore(db)
	lockManager := locks.NewManager(rdb)

	policy := egress.FromEnv()
	limits := egress.LimitsFromEnv()

	shortTerm := memory.NewShortTerm(rdb, logger)
	embedder := memory.NewEmbedder(rdb, logger)
	retriever := memory.NewRetriever(stores.Memory, embedder, logger)
	extractor := memory.NewExtractor(stores.Memory, embedder, logger)
	cleanup := memory.NewCleanup(stores.Memory, idem, cfg.Workers.CleanupInterval, cfg.Workers.CleanupCron, logger)

	bridge := mcpbridge.NewBridge(stores.Tools, policy, logger)
	executor := tools.NewExecutor(policy, limits, logger)
	auditor := tools.NewAuditor(stores.Audit, logger)
	registry := tools.NewRegistry(stores.Tools, stores.Media, executor, bridge, auditor, logger)

	sender := runtime.NewSender(publisher, idem, logger)
	followupSvc := followups.NewService(*stores, sender, providers, retriever, logger)

	dispatcher := runtime.NewDispatcher(runtime.DispatcherDeps{
		Stores:    *stores,
		Publisher: publisher,
		Idem:      idem,
		ShortTerm: shortTerm,
		Retriever: retriever,
		Extractor: extractor,
		Qual:      qualification.NewService(logger),
		Handoff:   handoff.NewService(stores.CRM, stores.Leads, logger),
		Registry:  registry,
		Providers: providers,
		Sender:    sender,
		Followups: followupSvc,
		Logger:    logger,
	})

	enricher := runtime.NewEnricher(policy, limits, logger)
	inbound := runtime.NewInbound(*stores, publisher, idem, enricher, shortTerm, providers, logger)

	subscriber := bus.NewSubscriber(rdb)
	subscriber.Register(events.TypeMessageReceived, inbound.Handle)
	g.Go(func() error { return ignoreCanceled(subscriber.Run(ctx)) })

	debounce := runtime.NewDebounceWorker(stores.Conversations, lockManager, dispatcher, cfg.Workers.DebouncePollInterval, logger)
	g.Go(func() error { return ignoreCanceled(debounce.Run(ctx)) })

	watchdog := runtime.NewWatchdog(stores.Conversations, cfg.Workers.WatchdogPollInterval, logger)
	g.Go(func() error { return ignoreCanceled(watchdog.Run(ctx)) })

	g.Go(func() error { return ignoreCanceled(followupSvc.Run(ctx, cfg.Workers.FollowupPollInterval)) })
	g.Go(func() error { return ignoreCanceled(cleanup.Run(ctx)) })
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
