package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	contributionengine "rewards/contexts/settlement/contribution-engine"
	"rewards/contexts/settlement/contribution-engine/adapters/memory"
	postgresadapter "rewards/contexts/settlement/contribution-engine/adapters/postgres"
	"rewards/contexts/settlement/contribution-engine/adapters/processor"
	"rewards/contexts/settlement/contribution-engine/application/workers"
	"rewards/contexts/settlement/contribution-engine/domain/entities"
	"rewards/contexts/settlement/contribution-engine/ports"
	"rewards/internal/platform/config"
	"rewards/internal/platform/db"
	"rewards/internal/platform/httpserver"
	"rewards/internal/platform/messaging"
	"rewards/internal/platform/metrics"

	"golang.org/x/time/rate"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const logModule = "internal/app/bootstrap"

// settlementStore is what both the memory and postgres adapters provide.
type settlementStore interface {
	ports.TokenIssuer
	ports.TokenStore
	ports.ContributionStore
	ports.RetryQueue
	ports.OutboxWriter
	ports.OutboxRepository
}

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	kafka        *messaging.Kafka
	scheduler    workers.RetryScheduler
	outboxRelay  workers.OutboxRelay
	pollInterval time.Duration
	logger       *slog.Logger
}

// BuildAPI serves the settlement API. Without POSTGRES_DSN the API runs on the
// in-memory store.
func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	registry := metrics.NewRegistry(cfg.ServiceName)

	store, pg, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	module, err := buildModule(cfg, store, registry, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	server := httpserver.New(module, registry.Handler(), logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

// BuildWorker wires the retry scheduler and the outbox relay. The worker shares
// state with the API only through postgres, so POSTGRES_DSN is required.
func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	store, pg, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	registry := metrics.NewRegistry(cfg.ServiceName)
	module, err := buildModule(cfg, store, registry, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	clock := postgresadapter.SystemClock{}
	return &WorkerApp{
		postgres: pg,
		kafka:    kafka,
		scheduler: workers.RetryScheduler{
			Queue:      store,
			Engine:     module.Engine,
			Policy:     module.Policy,
			Clock:      clock,
			Limiter:    rate.NewLimiter(rate.Limit(cfg.RedemptionsPerSecond), 1),
			BatchTypes: batchTypes(cfg.BatchTypes),
			BatchSize:  cfg.RetryBatchSize,
			Logger:     logger,
		},
		outboxRelay: workers.OutboxRelay{
			Outbox:    store,
			Publisher: kafka,
			Clock:     clock,
			BatchSize: 100,
			Logger:    logger,
		},
		pollInterval: cfg.PollInterval,
		logger:       logger,
	}, nil
}

func openStore(cfg config.Config, logger *slog.Logger) (settlementStore, *db.Postgres, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		logger.Warn("POSTGRES_DSN not set, using in-memory settlement store",
			"event", "bootstrap_memory_store",
			"module", logModule,
			"layer", "platform",
		)
		return memory.NewStore(), nil, nil
	}

	pg, err := db.Connect(cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		return nil, nil, err
	}
	repo := postgresadapter.NewRepository(pg.DB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repo.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return repo, pg, nil
}

func buildModule(
	cfg config.Config,
	store settlementStore,
	registry *metrics.Registry,
	logger *slog.Logger,
) (contributionengine.Module, error) {
	tokenNative, err := redemptionProcessor(cfg.TokenNativeProcessorURL, cfg, logger)
	if err != nil {
		return contributionengine.Module{}, err
	}
	wallet, err := redemptionProcessor(cfg.WalletProcessorURL, cfg, logger)
	if err != nil {
		return contributionengine.Module{}, err
	}

	return contributionengine.NewModule(contributionengine.Dependencies{
		Issuer:               store,
		Tokens:               store,
		Contributions:        store,
		Queue:                store,
		Outbox:               store,
		Clock:                postgresadapter.SystemClock{},
		IDGenerator:          postgresadapter.UUIDGenerator{},
		Metrics:              registry,
		TokenNativeProcessor: tokenNative,
		WalletProcessor:      wallet,
		BatchTypes:           batchTypes(cfg.BatchTypes),
		CurrencyScale:        cfg.CurrencyScale,
		MaxDrawsPerVote:      cfg.MaxDrawsPerVote,
		MaxRetries:           cfg.MaxRetries,
		RetryBaseDelay:       cfg.RetryBaseDelay,
		RetryMaxDelay:        cfg.RetryMaxDelay,
		RetryLongDelay:       cfg.RetryLongDelay,
		Logger:               logger,
	}), nil
}

// redemptionProcessor returns an HTTP processor for endpoint, or a recording
// processor that accepts every redemption when no endpoint is configured.
func redemptionProcessor(endpoint string, cfg config.Config, logger *slog.Logger) (ports.RedemptionProcessor, error) {
	if strings.TrimSpace(endpoint) == "" {
		return processor.NewRecording(), nil
	}
	client, err := processor.NewHTTPProcessor(endpoint,
		processor.WithTimeout(cfg.ProcessorTimeout),
		processor.WithUserAgent(cfg.ServiceName),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("redemption processor configured",
		"event", "bootstrap_processor_configured",
		"module", logModule,
		"layer", "platform",
		"endpoint", endpoint,
	)
	return client, nil
}

func batchTypes(values []string) []entities.BatchType {
	items := make([]entities.BatchType, 0, len(values))
	for _, value := range values {
		batchType := entities.BatchType(strings.ToLower(strings.TrimSpace(value)))
		if batchType.Valid() {
			items = append(items, batchType)
		}
	}
	return items
}

func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", logModule,
		"layer", "platform",
	)

	errs := make(chan error, 1)
	go func() {
		errs <- a.server.Start()
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	}
}

func (a *APIApp) Close() error {
	return a.postgres.Close()
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", logModule,
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	for {
		// A failed contribution must not stall the rest of the queue.
		if err := w.scheduler.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("retry scheduler cycle failed",
				"event", "bootstrap_worker_retry_failed",
				"module", logModule,
				"layer", "platform",
				"error", err.Error(),
			)
		}
		if err := w.outboxRelay.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	return errors.Join(w.kafka.Close(), w.postgres.Close())
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
