package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/engine/adapter"
	"github.com/toolbridge/toolbridge/engine/contextmap"
	"github.com/toolbridge/toolbridge/engine/dispatcher"
	"github.com/toolbridge/toolbridge/engine/errorlog"
	"github.com/toolbridge/toolbridge/engine/infra/cache"
	"github.com/toolbridge/toolbridge/engine/infra/memstore"
	"github.com/toolbridge/toolbridge/engine/infra/postgres"
	"github.com/toolbridge/toolbridge/engine/infra/server"
	"github.com/toolbridge/toolbridge/engine/integration"
	"github.com/toolbridge/toolbridge/engine/scheduler"
	"github.com/toolbridge/toolbridge/engine/webhook"
	"github.com/toolbridge/toolbridge/pkg/config"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

const infraShutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ToolBridge engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// repos bundles the persistence implementations behind their domain
// contracts, so the assembly below is identical for Postgres and the
// in-memory development doubles.
type repos struct {
	integrations  integration.Repository
	errorLogs     errorlog.Repository
	fallbacks     errorlog.FallbackRepository
	mappings      contextmap.Repository
	tasks         scheduler.Repository
	events        webhook.EventRepository
	subscriptions webhook.SubscriptionRepository
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := logger.GetDefault().With("component", "server")
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.ContextWithLogger(ctx, log)

	var (
		r      repos
		kv     cache.KV
		health []server.HealthCheck
		infra  []func()
	)
	if cfg.IsDevelopment() {
		log.Info("development mode: using in-memory stores")
		r = repos{
			integrations:  memstore.NewIntegrationRepo(),
			errorLogs:     memstore.NewErrorLogRepo(),
			fallbacks:     memstore.NewFallbackRepo(),
			mappings:      memstore.NewContextMappingRepo(),
			tasks:         memstore.NewScheduledTaskRepo(),
			events:        memstore.NewWebhookEventRepo(),
			subscriptions: memstore.NewWebhookSubscriptionRepo(),
		}
		kv = cache.NewMemoryAdapter()
	} else {
		store, err := postgres.NewStore(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		infra = append(infra, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), infraShutdownTimeout)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				log.Error("closing postgres", "error", err)
			}
		})
		if err := postgres.EnsureSchema(ctx, store.Pool()); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
		r = repos{
			integrations:  postgres.NewIntegrationRepo(store.Pool()),
			errorLogs:     postgres.NewErrorLogRepo(store.Pool()),
			fallbacks:     postgres.NewFallbackRepo(store.Pool()),
			mappings:      postgres.NewContextMappingRepo(store.Pool()),
			tasks:         postgres.NewScheduledTaskRepo(store.Pool()),
			events:        postgres.NewWebhookEventRepo(store.Pool()),
			subscriptions: postgres.NewWebhookSubscriptionRepo(store.Pool()),
		}
		rds, err := cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		infra = append(infra, func() {
			if err := rds.Close(); err != nil {
				log.Error("closing redis", "error", err)
			}
		})
		kv, err = cache.NewRedisAdapter(rds.Client())
		if err != nil {
			return fmt.Errorf("building redis adapter: %w", err)
		}
		health = append(health,
			server.HealthCheck{Name: "postgres", Check: store.HealthCheck},
			server.HealthCheck{Name: "redis", Check: rds.HealthCheck},
		)
	}
	defer func() {
		for i := len(infra) - 1; i >= 0; i-- {
			infra[i]()
		}
	}()

	refresher := integration.NewOAuthRefresher(&cfg.Providers, cfg.Engine.AdapterTimeout)
	manager := integration.NewManager(r.integrations, kv, refresher, cfg.Engine.IntegrationCacheTTL)
	errHandler := errorlog.NewHandler(r.errorLogs, r.fallbacks, kv,
		errorlog.WithThreshold(cfg.Engine.DisableThreshold),
		errorlog.WithCountTTL(cfg.Engine.ErrorCountTTL),
	)
	if err := errHandler.LoadFallbacks(ctx); err != nil {
		log.Warn("loading fallback messages", "error", err)
	}
	mapper := contextmap.NewMapper(r.mappings, kv, cfg.Engine.IntegrationCacheTTL)
	sched := scheduler.NewScheduler(r.tasks, kv, cfg.Engine.SweepBatchSize, cfg.Engine.MaxTaskAttempts)

	registry := adapter.NewRegistry()
	gmail := adapter.NewGmail(manager, &cfg.Providers.Gmail, cfg.Engine.AdapterTimeout)
	for tool, ad := range map[string]adapter.Adapter{
		"gmail":      gmail,
		"notion":     adapter.NewNotion(manager, &cfg.Providers.Notion, cfg.Engine.AdapterTimeout),
		"slack":      adapter.NewSlack(manager, &cfg.Providers.Slack, cfg.Engine.AdapterTimeout),
		"asana":      adapter.NewAsana(manager, &cfg.Providers.Asana, cfg.Engine.AdapterTimeout),
		"trello":     adapter.NewTrello(manager, &cfg.Providers.Trello, cfg.Engine.AdapterTimeout),
		"taskmaster": adapter.NewTaskMaster(manager, &cfg.Providers.TaskMaster, cfg.Engine.AdapterTimeout),
	} {
		if err := registry.Register(tool, ad); err != nil {
			return fmt.Errorf("registering %s adapter: %w", tool, err)
		}
	}
	registry.Freeze()

	engine := dispatcher.NewEngine(registry, errHandler, sched, kv,
		dispatcher.WithResultTTL(cfg.Engine.ResultCacheTTL),
		dispatcher.WithAdapterTimeout(cfg.Engine.AdapterTimeout),
	)
	sched.SetExecutor(engine)

	verifiers, err := buildVerifiers(cfg)
	if err != nil {
		return err
	}
	hooks := webhook.NewService(verifiers, r.events, r.subscriptions, engine,
		webhook.WithMaxBody(cfg.Engine.WebhookMaxBody))
	renewers := map[string]webhook.Renewer{
		"gmail": func(ctx context.Context, sub *webhook.Subscription) (string, time.Time, error) {
			return gmail.Watch(ctx, sub.UserID, cfg.Providers.Gmail.PubSubTopic)
		},
	}
	subs := webhook.NewSubscriptions(r.subscriptions, manager, renewers,
		cfg.Engine.RenewalLeadTime, cfg.Engine.RenewalInterval)

	sweeper := scheduler.NewSweeper(ctx, sched, cfg.Engine.SweepInterval)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting task sweeper: %w", err)
	}
	defer sweeper.Stop()
	hooks.Start(ctx)
	defer hooks.Stop()
	if err := subs.StartRenewalLoop(ctx); err != nil {
		return fmt.Errorf("starting renewal loop: %w", err)
	}
	defer subs.StopRenewalLoop()

	deps := &server.Deps{
		Config:        cfg,
		Registry:      registry,
		Dispatcher:    engine,
		Integrations:  manager,
		Errors:        errHandler,
		Mappings:      mapper,
		Scheduler:     sched,
		Webhooks:      hooks,
		Subscriptions: subs,
		Health:        health,
	}
	return server.New(deps, log).Start(ctx)
}

// buildVerifiers constructs signature verifiers for every provider with a
// configured signing secret. Tools without one cannot receive webhooks.
func buildVerifiers(cfg *config.Config) (map[string]webhook.Verifier, error) {
	secrets := map[string]string{
		"slack": cfg.Providers.Slack.SigningSecret,
		"asana": cfg.Providers.Asana.SigningSecret,
		"gmail": cfg.Providers.Gmail.SigningSecret,
	}
	verifiers := make(map[string]webhook.Verifier, len(secrets))
	for tool, secret := range secrets {
		if secret == "" {
			continue
		}
		v, err := webhook.NewVerifier(tool, secret, cfg.Engine.WebhookTimestampSkew)
		if err != nil {
			return nil, fmt.Errorf("building %s webhook verifier: %w", tool, err)
		}
		verifiers[tool] = v
	}
	return verifiers, nil
}
