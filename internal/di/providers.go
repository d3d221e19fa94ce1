package di

import (
	"context"
	"fmt"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/domain/repository"
	"FinSight/internal/handler/api"
	internalrepo "FinSight/internal/repository"
	"FinSight/internal/service/alphavantage"
	budgetsvc "FinSight/internal/service/budget"
	cachesvc "FinSight/internal/service/cache"
	"FinSight/internal/service/finnhub"
	"FinSight/internal/service/llm"
	"FinSight/internal/service/marketaux"
	"FinSight/internal/service/source"
	"FinSight/internal/usecase"
	pkgcache "FinSight/pkg/cache"
	pkgch "FinSight/pkg/clickhouse"
	"FinSight/pkg/config"
	xhttp "FinSight/pkg/http"
	pkgkafka "FinSight/pkg/kafka"
	applogger "FinSight/pkg/logger"
	"FinSight/pkg/metrics"
	"FinSight/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return applogger.New(&applogger.Config{
		Level:  "info",
		Format: format,
		Output: "stdout",
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCacheTier builds the storage tier: Redis-backed layered cache
// when Redis is configured, plain in-process memory otherwise.
func ProvideCacheTier(cfg *config.Config) (pkgcache.Tier, error) {
	if cfg.Cache.Redis.Host == "" {
		return pkgcache.NewMemoryTier(
			pkgcache.WithMemoryMaxSize(cfg.Cache.LocalMaxSize),
		), nil
	}

	redisTier, err := pkgcache.NewRedisTier(
		pkgcache.WithRedisHost(cfg.Cache.Redis.Host),
		pkgcache.WithRedisPort(cfg.Cache.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Cache.Redis.Password),
		pkgcache.WithRedisDB(cfg.Cache.Redis.DB),
		pkgcache.WithRedisPool(cfg.Cache.Redis.PoolSize, cfg.Cache.Redis.MinIdleConns, cfg.Cache.Redis.PoolTimeout),
		pkgcache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis tier: %w", err)
	}

	return pkgcache.NewLayeredTier(redisTier,
		pkgcache.WithLayeredMemorySize(cfg.Cache.LocalMaxSize),
		pkgcache.WithLocalTTLCap(cfg.Cache.LocalTTLCap),
	), nil
}

// ProvideCacheManager creates the cache manager with per-type TTLs.
func ProvideCacheManager(tier pkgcache.Tier, cfg *config.Config, m repository.Metrics, log *applogger.Logger) *cachesvc.Manager {
	policy := cachesvc.NewPolicy(
		cfg.Cache.TTL.Price,
		cfg.Cache.TTL.Financials,
		cfg.Cache.TTL.News,
		cfg.Cache.TTL.Analysis,
	)
	return cachesvc.NewManager(tier, policy, cfg.Cache.StaleRetention, m, log)
}

// ProvideMonitor creates the adapter health monitor.
func ProvideMonitor(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *source.Monitor {
	return source.NewMonitor(source.MonitorConfig{
		ProbeInterval:    cfg.Health.ProbeInterval,
		ProbeTimeout:     cfg.Health.ProbeTimeout,
		FailureThreshold: cfg.Health.FailureThreshold,
		SuccessThreshold: cfg.Health.SuccessThreshold,
		CooldownBase:     cfg.Health.CooldownBase,
		CooldownMax:      cfg.Health.CooldownMax,
	}, log, m)
}

// ProvideClickHouseClient creates the optional ClickHouse client and
// ensures the audit schema exists.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.AuditSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideAuditStore creates the fetch audit store, nil when ClickHouse
// is disabled.
func ProvideAuditStore(chClient *pkgch.Client, cfg *config.Config) repository.AuditStore {
	var store repository.AuditStore
	if chClient != nil {
		store = internalrepo.NewClickHouseAuditStore(chClient, cfg.ClickHouse.Database)
	}
	return store
}

// ProvideRegistry builds the source registry and registers every
// enabled provider adapter in priority order.
func ProvideRegistry(cfg *config.Config, monitor *source.Monitor, m repository.Metrics, audit repository.AuditStore, log *applogger.Logger) *source.Registry {
	registry := source.NewRegistry(monitor, m, audit, log, cfg.Registry.AttemptTimeout)

	if fh := cfg.Providers.Finnhub; fh.Enabled {
		adapter := finnhub.New(fh.APIKey, fh.BaseURL,
			finnhub.WithRateLimit(fh.RatePerSec, fh.Burst),
			finnhub.WithCostPerCall(fh.CostPerCall),
		)
		registry.Register(source.Descriptor{
			ID:       adapter.ID(),
			DataType: models.DataTypePrice,
			Priority: fh.Priority,
			Enabled:  true,
		}, adapter)
	}

	if av := cfg.Providers.AlphaVantage; av.Enabled {
		client := alphavantage.New(av.APIKey, av.BaseURL,
			alphavantage.WithRateLimit(av.RatePerSec, av.Burst),
			alphavantage.WithCostPerCall(av.CostPerCall),
		)
		quote := alphavantage.NewQuoteAdapter(client)
		registry.Register(source.Descriptor{
			ID:       quote.ID(),
			DataType: models.DataTypePrice,
			Priority: av.Priority,
			Enabled:  true,
		}, quote)

		fundamentals := alphavantage.NewFundamentalsAdapter(client)
		registry.Register(source.Descriptor{
			ID:       fundamentals.ID(),
			DataType: models.DataTypeFinancials,
			Priority: av.Priority,
			Enabled:  true,
		}, fundamentals)
	}

	if mx := cfg.Providers.Marketaux; mx.Enabled {
		adapter := marketaux.New(mx.APIKey, mx.BaseURL,
			marketaux.WithRateLimit(mx.RatePerSec, mx.Burst),
			marketaux.WithCostPerCall(mx.CostPerCall),
		)
		registry.Register(source.Descriptor{
			ID:       adapter.ID(),
			DataType: models.DataTypeNews,
			Priority: mx.Priority,
			Enabled:  true,
		}, adapter)
	}

	return registry
}

// ProvideKafkaProducer creates the optional Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher creates the analysis event publisher, nil when
// Kafka is disabled.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	var pub repository.EventPublisher
	if producer != nil {
		pub = internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
	}
	return pub
}

// ProvideBudget creates the cost controller from configured limits.
func ProvideBudget(cfg *config.Config, m repository.Metrics, log *applogger.Logger) *budgetsvc.Controller {
	return budgetsvc.NewController(cfg.Budgets, m, log)
}

// ProvideLLM creates the analysis generator client.
func ProvideLLM(cfg *config.Config) *llm.Client {
	return llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.ModelVersion,
		llm.WithPricing(cfg.LLM.PricePer1KIn, cfg.LLM.PricePer1KOut),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
}

// ProvideOrchestrator creates the analysis orchestrator.
func ProvideOrchestrator(
	cfg *config.Config,
	registry *source.Registry,
	cache *cachesvc.Manager,
	budget *budgetsvc.Controller,
	gen *llm.Client,
	publisher repository.EventPublisher,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(usecase.OrchestratorConfig{
		FetchTimeout: cfg.Analysis.FetchTimeout,
		DegradedTTL:  cfg.Analysis.DegradedTTL,
		FetchEstimates: map[models.DataType]float64{
			models.DataTypePrice:      cfg.Providers.Finnhub.CostPerCall,
			models.DataTypeFinancials: cfg.Providers.AlphaVantage.CostPerCall,
			models.DataTypeNews:       cfg.Providers.Marketaux.CostPerCall,
		},
	}, registry, cache, budget, gen, publisher, m, log)
}

// ProvideWarmer creates the price cache warmer, nil when the stream is
// not configured.
func ProvideWarmer(cfg *config.Config, cache *cachesvc.Manager, m repository.Metrics, log *applogger.Logger) *usecase.PriceWarmer {
	fh := cfg.Providers.Finnhub
	if !fh.Enabled || fh.WebSocketURL == "" || len(cfg.Analysis.Symbols) == 0 {
		return nil
	}
	stream := finnhub.NewStream(fh.APIKey, fh.WebSocketURL, fh.PingInterval)
	return usecase.NewPriceWarmer(stream, cache, m, log, cfg.Analysis.Symbols)
}

// ProvideHandler creates the HTTP API handler.
func ProvideHandler(
	log *applogger.Logger,
	orch *usecase.Orchestrator,
	monitor *source.Monitor,
	registry *source.Registry,
	budget *budgetsvc.Controller,
) xhttp.Handler {
	return api.NewHandler(log, orch, monitor, registry, budget)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	monitor *source.Monitor,
	registry *source.Registry,
	warmer *usecase.PriceWarmer,
	handler xhttp.Handler,
	publisher repository.EventPublisher,
	audit repository.AuditStore,
	chClient *pkgch.Client,
	cacheTier pkgcache.Tier,
) *server.App {
	return server.New(cfg, log, monitor, registry, warmer, handler, publisher, audit, chClient, cacheTier)
}
