package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/domain/repository"
	cachesvc "FinSight/internal/service/cache"
	"FinSight/internal/service/llm"
	"FinSight/internal/service/source"
	pkgcache "FinSight/pkg/cache"
	"FinSight/pkg/logger"

	"github.com/google/uuid"
)

// DataFetcher executes a provider fetch with failover. Satisfied by
// *source.Registry.
type DataFetcher interface {
	Execute(ctx context.Context, dataType models.DataType, params source.FetchParams) (*source.FetchResult, string, error)
}

// BudgetGate approves and records spend. Satisfied by *budget.Controller.
type BudgetGate interface {
	Approve(costCenter string, estimatedCost float64) (bool, string)
	Record(costCenter string, actualCost float64)
}

// Generator produces AI narratives. Satisfied by *llm.Client.
type Generator interface {
	Generate(ctx context.Context, in llm.GenerateInput) (*models.GeneratedAnalysis, float64, error)
	EstimateCost() float64
	ModelVersion() string
}

// OrchestratorConfig holds analysis orchestration tuning.
type OrchestratorConfig struct {
	FetchTimeout time.Duration
	DegradedTTL  time.Duration

	// FetchEstimates is the per-data-type cost estimate used to
	// pre-approve provider calls against their cost centers.
	FetchEstimates map[models.DataType]float64
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.DegradedTTL <= 0 {
		c.DegradedTTL = 15 * time.Minute
	}
}

// Orchestrator produces analysis results: gather market data through
// the cache and registry, gate the AI call on budget, and fall back to
// degraded or stale results instead of failing when it can.
type Orchestrator struct {
	cfg       OrchestratorConfig
	fetcher   DataFetcher
	cache     *cachesvc.Manager
	budget    BudgetGate
	generator Generator
	publisher repository.EventPublisher // nil when events are disabled
	metrics   repository.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewOrchestrator creates an analysis orchestrator.
func NewOrchestrator(
	cfg OrchestratorConfig,
	fetcher DataFetcher,
	cache *cachesvc.Manager,
	budget BudgetGate,
	generator Generator,
	publisher repository.EventPublisher,
	metrics repository.Metrics,
	log *logger.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		cache:     cache,
		budget:    budget,
		generator: generator,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// GetAnalysis returns the analysis for a symbol and horizon, serving
// from cache when fresh. forceRefresh drops the cached entry first so a
// new result is computed. Concurrent requests for the same key share
// one computation.
func (o *Orchestrator) GetAnalysis(ctx context.Context, symbol string, horizon models.Horizon, forceRefresh bool) (*models.AnalysisResult, error) {
	key := o.cacheKey(symbol, horizon)

	if forceRefresh {
		if err := o.cache.Delete(ctx, key); err != nil {
			o.log.Warn("refresh invalidation failed", logger.String("key", key), logger.Error(err))
		}
	}

	raw, err := o.cache.GetOrCompute(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		return o.compute(ctx, symbol, horizon)
	})
	if err != nil {
		// Last resort: a stale previous analysis beats an error.
		if stale, found, _ := o.cache.Get(ctx, key); found {
			var res models.AnalysisResult
			if uerr := json.Unmarshal(stale, &res); uerr == nil {
				res.Stale = true
				o.metrics.RecordAnalysis("stale", 0)
				o.log.Warn("serving stale analysis",
					logger.String("symbol", symbol),
					logger.Error(err),
				)
				return &res, nil
			}
		}
		return nil, err
	}

	var res models.AnalysisResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode cached analysis: %w", err)
	}
	return &res, nil
}

// Invalidate drops every cached analysis for a symbol across horizons
// and model versions.
func (o *Orchestrator) Invalidate(ctx context.Context, symbol string) error {
	return o.cache.Invalidate(ctx, pkgcache.Prefix(string(models.DataTypeAnalysis), symbol))
}

// cacheKey includes the model version so a prompt or model bump never
// serves results produced by the previous version.
func (o *Orchestrator) cacheKey(symbol string, horizon models.Horizon) string {
	return o.cache.Key(models.DataTypeAnalysis, symbol, string(horizon)+":"+o.generator.ModelVersion())
}

// compute is the cache-miss path: fan out data fetches, then either a
// full AI narrative or a degraded indicator-only result.
func (o *Orchestrator) compute(ctx context.Context, symbol string, horizon models.Horizon) (*models.AnalysisResult, time.Duration, error) {
	start := o.now()

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	indicators, news, sources, err := o.gatherData(fetchCtx, symbol)
	if err != nil {
		o.metrics.RecordAnalysis("error", o.now().Sub(start).Seconds())
		return nil, 0, err
	}

	result := &models.AnalysisResult{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Horizon:      horizon,
		ModelVersion: o.generator.ModelVersion(),
		GeneratedAt:  o.now().UTC(),
		Indicators:   *indicators,
		SourcesUsed:  sources,
	}

	estimate := o.generator.EstimateCost()
	if ok, reason := o.budget.Approve(models.CostCenterAIAnalysis, estimate); !ok {
		result.Degraded = true
		result.DegradedWhy = reason
		o.metrics.RecordAnalysis("degraded", o.now().Sub(start).Seconds())
		o.log.Info("analysis degraded, budget denied",
			logger.String("symbol", symbol),
			logger.String("reason", reason),
		)
		o.publish(result)
		return result, o.cfg.DegradedTTL, nil
	}

	narrative, cost, genErr := o.generator.Generate(ctx, llm.GenerateInput{
		Symbol:     symbol,
		Horizon:    horizon,
		Indicators: *indicators,
		News:       news,
	})
	o.budget.Record(models.CostCenterAIAnalysis, cost)
	if genErr != nil {
		o.metrics.RecordAnalysis("error", o.now().Sub(start).Seconds())
		return nil, 0, fmt.Errorf("generate analysis for %s: %w", symbol, genErr)
	}

	result.Narrative = narrative
	result.CostIncurred = cost
	o.metrics.RecordAnalysis("ok", o.now().Sub(start).Seconds())
	o.publish(result)

	return result, o.cache.Policy().TTL(models.DataTypeAnalysis), nil
}

// gatherData fetches price, fundamentals and news concurrently through
// the cache. News is best-effort; price and fundamentals must yield at
// least one of the two or the computation fails.
func (o *Orchestrator) gatherData(ctx context.Context, symbol string) (*models.IndicatorSummary, []models.NewsItem, []string, error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ind   models.IndicatorSummary
		news  []models.NewsItem
		srcs  []string
		quErr error
		fiErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		var q models.Quote
		err := o.fetchTyped(ctx, models.DataTypePrice, models.CostCenterPriceData, symbol, &q)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			quErr = err
			return
		}
		ind.Quote = &q
		srcs = append(srcs, q.Source)
		o.metrics.RecordLastPrice(q.Symbol, q.Price)
	}()
	go func() {
		defer wg.Done()
		var f models.FinancialReport
		err := o.fetchTyped(ctx, models.DataTypeFinancials, models.CostCenterFinancials, symbol, &f)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			fiErr = err
			return
		}
		ind.Financials = &f
		srcs = append(srcs, f.Source)
	}()
	go func() {
		defer wg.Done()
		var items []models.NewsItem
		err := o.fetchTyped(ctx, models.DataTypeNews, models.CostCenterNewsData, symbol, &items)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			// News outages never block an analysis.
			o.log.Debug("news unavailable", logger.String("symbol", symbol), logger.Error(err))
			return
		}
		news = items
		ind.NewsCount = len(items)
		if len(items) > 0 {
			srcs = append(srcs, items[0].Source)
		}
	}()
	wg.Wait()

	if quErr != nil && fiErr != nil {
		return nil, nil, nil, fmt.Errorf("no market data for %s: price: %v; financials: %v", symbol, quErr, fiErr)
	}
	if quErr != nil {
		o.log.Warn("price unavailable, continuing on fundamentals",
			logger.String("symbol", symbol), logger.Error(quErr))
	}
	if fiErr != nil {
		o.log.Warn("fundamentals unavailable, continuing on price",
			logger.String("symbol", symbol), logger.Error(fiErr))
	}

	return &ind, news, srcs, nil
}

// fetchTyped serves one data type through the cache, hitting providers
// only on a miss. Provider calls are pre-approved against the data
// type's cost center and their metered cost recorded after.
func (o *Orchestrator) fetchTyped(ctx context.Context, dt models.DataType, center, symbol string, dest interface{}) error {
	key := o.cache.Key(dt, symbol, "")
	raw, err := o.cache.GetOrCompute(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		if ok, reason := o.budget.Approve(center, o.cfg.FetchEstimates[dt]); !ok {
			return nil, 0, fmt.Errorf("%s fetch denied: %s", dt, reason)
		}
		res, _, err := o.fetcher.Execute(ctx, dt, source.FetchParams{Symbol: symbol})
		if err != nil {
			return nil, 0, err
		}
		o.budget.Record(center, res.Cost)
		return res.Data, o.cache.Policy().TTL(dt), nil
	})
	if err != nil {
		// A stale entry is good enough for indicator data.
		if stale, found, _ := o.cache.Get(ctx, key); found {
			return json.Unmarshal(stale, dest)
		}
		return err
	}
	return json.Unmarshal(raw, dest)
}

// publish emits the analysis event without blocking the request path.
func (o *Orchestrator) publish(res *models.AnalysisResult) {
	if o.publisher == nil {
		return
	}
	ev := models.AnalysisEvent{
		EventID:     uuid.NewString(),
		Symbol:      res.Symbol,
		Horizon:     res.Horizon,
		Degraded:    res.Degraded,
		Cost:        res.CostIncurred,
		GeneratedAt: res.GeneratedAt,
	}
	if res.Narrative != nil {
		ev.Rating = res.Narrative.Rating
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.publisher.PublishAnalysis(ctx, ev); err != nil {
			o.log.Warn("analysis event publish failed", logger.Error(err))
		}
	}()
}
