package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSight/internal/domain/models"
	cachesvc "FinSight/internal/service/cache"
	"FinSight/internal/service/llm"
	"FinSight/internal/service/source"
	pkgcache "FinSight/pkg/cache"
	"FinSight/pkg/logger"
)

type noopMetrics struct{}

func (noopMetrics) RecordFetch(string, models.DataType, string, float64) {}
func (noopMetrics) RecordCacheLookup(string, string)                     {}
func (noopMetrics) RecordBudgetConsumed(string, float64, float64)        {}
func (noopMetrics) RecordBudgetDenied(string, string)                    {}
func (noopMetrics) RecordAnalysis(string, float64)                       {}
func (noopMetrics) RecordHealthStatus(string, models.HealthStatus)       {}
func (noopMetrics) RecordLastPrice(string, float64)                      {}
func (noopMetrics) RecordError(string)                                   {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

// fakeFetcher serves canned results per data type. gatherData calls it
// from several goroutines, so every access is mutex-guarded.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[models.DataType]*source.FetchResult
	errs    map[models.DataType]error
	calls   map[models.DataType]int
}

func (f *fakeFetcher) Execute(_ context.Context, dt models.DataType, _ source.FetchParams) (*source.FetchResult, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[models.DataType]int)
	}
	f.calls[dt]++
	if err := f.errs[dt]; err != nil {
		return nil, "", err
	}
	res := f.results[dt]
	return res, res.Provider, nil
}

func (f *fakeFetcher) count(dt models.DataType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[dt]
}

type fakeBudget struct {
	mu       sync.Mutex
	deny     map[string]string // cost center -> denial reason
	recorded map[string]float64
}

func (b *fakeBudget) Approve(center string, _ float64) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reason, ok := b.deny[center]; ok {
		return false, reason
	}
	return true, ""
}

func (b *fakeBudget) Record(center string, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recorded == nil {
		b.recorded = make(map[string]float64)
	}
	b.recorded[center] += cost
}

func (b *fakeBudget) spent(center string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recorded[center]
}

type fakeGenerator struct {
	mu        sync.Mutex
	narrative *models.GeneratedAnalysis
	cost      float64
	err       error
	calls     int
}

func (g *fakeGenerator) Generate(_ context.Context, _ llm.GenerateInput) (*models.GeneratedAnalysis, float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.cost, g.err
	}
	return g.narrative, g.cost, nil
}

func (g *fakeGenerator) EstimateCost() float64 { return 0.02 }
func (g *fakeGenerator) ModelVersion() string  { return "v1" }

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func goodNarrative() *models.GeneratedAnalysis {
	return &models.GeneratedAnalysis{
		Rating:     "buy",
		Confidence: 0.7,
		Summary:    "Revenue momentum with reasonable valuation.",
		Risks:      []string{"sector rotation"},
	}
}

func allDataFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: map[models.DataType]*source.FetchResult{
			models.DataTypePrice: {
				Data:     models.Quote{Symbol: "AAPL", Price: 187.5, Source: "finnhub"},
				Cost:     0.001,
				Provider: "finnhub",
			},
			models.DataTypeFinancials: {
				Data:     models.FinancialReport{Symbol: "AAPL", PERatio: 29.4, Source: "alphavantage_fundamentals"},
				Cost:     0.002,
				Provider: "alphavantage_fundamentals",
			},
			models.DataTypeNews: {
				Data:     []models.NewsItem{{Symbol: "AAPL", Title: "Earnings beat", Source: "marketaux"}},
				Cost:     0.0005,
				Provider: "marketaux",
			},
		},
	}
}

type testHarness struct {
	orch    *Orchestrator
	cache   *cachesvc.Manager
	fetcher *fakeFetcher
	budget  *fakeBudget
	gen     *fakeGenerator
}

func newHarness(t *testing.T, fetcher *fakeFetcher, budget *fakeBudget, gen *fakeGenerator) *testHarness {
	t.Helper()
	tier := pkgcache.NewMemoryTier()
	t.Cleanup(func() { _ = tier.Close() })
	manager := cachesvc.NewManager(tier, cachesvc.NewPolicy(0, 0, 0, 0), time.Hour, noopMetrics{}, testLogger(t))

	orch := NewOrchestrator(OrchestratorConfig{
		FetchTimeout: 5 * time.Second,
		DegradedTTL:  15 * time.Minute,
		FetchEstimates: map[models.DataType]float64{
			models.DataTypePrice:      0.001,
			models.DataTypeFinancials: 0.002,
			models.DataTypeNews:       0.0005,
		},
	}, fetcher, manager, budget, gen, nil, noopMetrics{}, testLogger(t))

	return &testHarness{orch: orch, cache: manager, fetcher: fetcher, budget: budget, gen: gen}
}

func TestGetAnalysisFullPath(t *testing.T) {
	h := newHarness(t, allDataFetcher(), &fakeBudget{}, &fakeGenerator{narrative: goodNarrative(), cost: 0.011})

	res, err := h.orch.GetAnalysis(context.Background(), "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Equal(t, models.HorizonShortTerm, res.Horizon)
	assert.Equal(t, "v1", res.ModelVersion)
	require.NotNil(t, res.Narrative)
	assert.Equal(t, "buy", res.Narrative.Rating)
	assert.False(t, res.Degraded)
	assert.False(t, res.Stale)
	assert.InDelta(t, 0.011, res.CostIncurred, 1e-9)
	require.NotNil(t, res.Indicators.Quote)
	assert.InDelta(t, 187.5, res.Indicators.Quote.Price, 1e-9)
	require.NotNil(t, res.Indicators.Financials)
	assert.Equal(t, 1, res.Indicators.NewsCount)
	assert.ElementsMatch(t, []string{"finnhub", "alphavantage_fundamentals", "marketaux"}, res.SourcesUsed)

	assert.InDelta(t, 0.011, h.budget.spent(models.CostCenterAIAnalysis), 1e-9)
	assert.InDelta(t, 0.001, h.budget.spent(models.CostCenterPriceData), 1e-9)
}

func TestSecondCallServedFromCache(t *testing.T) {
	h := newHarness(t, allDataFetcher(), &fakeBudget{}, &fakeGenerator{narrative: goodNarrative(), cost: 0.01})
	ctx := context.Background()

	first, err := h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)
	second, err := h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.gen.callCount())
	assert.Equal(t, 1, h.fetcher.count(models.DataTypePrice))
}

func TestFreshCacheHitSkipsProviders(t *testing.T) {
	h := newHarness(t, allDataFetcher(), &fakeBudget{}, &fakeGenerator{narrative: goodNarrative()})
	ctx := context.Background()

	cached := models.AnalysisResult{ID: "pre", Symbol: "AAPL", Horizon: models.HorizonShortTerm}
	key := h.orch.cacheKey("AAPL", models.HorizonShortTerm)
	require.NoError(t, h.cache.Set(ctx, key, cached, time.Minute))

	res, err := h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)
	assert.Equal(t, "pre", res.ID)
	assert.Zero(t, h.gen.callCount())
	assert.Zero(t, h.fetcher.count(models.DataTypePrice))
}

func TestBudgetDenialYieldsDegradedResult(t *testing.T) {
	budget := &fakeBudget{deny: map[string]string{
		models.CostCenterAIAnalysis: "daily_budget_exceeded",
	}}
	h := newHarness(t, allDataFetcher(), budget, &fakeGenerator{narrative: goodNarrative()})

	res, err := h.orch.GetAnalysis(context.Background(), "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, "daily_budget_exceeded", res.DegradedWhy)
	assert.Nil(t, res.Narrative)
	require.NotNil(t, res.Indicators.Quote, "indicators still populated on degraded results")
	assert.Zero(t, h.gen.callCount())
	assert.Zero(t, h.budget.spent(models.CostCenterAIAnalysis))
}

func TestGeneratorFailureServesStaleAnalysis(t *testing.T) {
	h := newHarness(t, allDataFetcher(), &fakeBudget{}, &fakeGenerator{err: errors.New("llm timeout"), cost: 0.004})
	ctx := context.Background()

	stale := models.AnalysisResult{ID: "yesterday", Symbol: "AAPL", Horizon: models.HorizonShortTerm}
	key := h.orch.cacheKey("AAPL", models.HorizonShortTerm)
	require.NoError(t, h.cache.Set(ctx, key, stale, 0))

	res, err := h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)
	assert.Equal(t, "yesterday", res.ID)
	assert.True(t, res.Stale)

	// The failed attempt still spent tokens; that spend is recorded.
	assert.InDelta(t, 0.004, h.budget.spent(models.CostCenterAIAnalysis), 1e-9)
}

func TestGeneratorFailureWithoutStaleFails(t *testing.T) {
	h := newHarness(t, allDataFetcher(), &fakeBudget{}, &fakeGenerator{err: errors.New("llm timeout")})

	_, err := h.orch.GetAnalysis(context.Background(), "AAPL", models.HorizonShortTerm, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate analysis")
}

func TestNewsOutageDoesNotBlockAnalysis(t *testing.T) {
	fetcher := allDataFetcher()
	fetcher.errs = map[models.DataType]error{
		models.DataTypeNews: errors.New("news provider down"),
	}
	h := newHarness(t, fetcher, &fakeBudget{}, &fakeGenerator{narrative: goodNarrative()})

	res, err := h.orch.GetAnalysis(context.Background(), "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)
	assert.Zero(t, res.Indicators.NewsCount)
	require.NotNil(t, res.Narrative)
}

func TestNoMarketDataFailsComputation(t *testing.T) {
	fetcher := allDataFetcher()
	fetcher.errs = map[models.DataType]error{
		models.DataTypePrice:      errors.New("price down"),
		models.DataTypeFinancials: errors.New("fundamentals down"),
	}
	h := newHarness(t, fetcher, &fakeBudget{}, &fakeGenerator{narrative: goodNarrative()})

	_, err := h.orch.GetAnalysis(context.Background(), "AAPL", models.HorizonShortTerm, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no market data")
	assert.Zero(t, h.gen.callCount())
}

func TestStaleMarketDataBridgesProviderOutage(t *testing.T) {
	fetcher := allDataFetcher()
	fetcher.errs = map[models.DataType]error{
		models.DataTypePrice:      errors.New("price down"),
		models.DataTypeFinancials: errors.New("fundamentals down"),
		models.DataTypeNews:       errors.New("news down"),
	}
	h := newHarness(t, fetcher, &fakeBudget{}, &fakeGenerator{narrative: goodNarrative()})
	ctx := context.Background()

	// An expired quote is still in the stale window; the fetch falls
	// back to it when every provider is down.
	quote := models.Quote{Symbol: "AAPL", Price: 180.0, Source: "finnhub"}
	require.NoError(t, h.cache.Set(ctx, h.cache.Key(models.DataTypePrice, "AAPL", ""), quote, 0))

	res, err := h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)
	require.NotNil(t, res.Indicators.Quote)
	assert.InDelta(t, 180.0, res.Indicators.Quote.Price, 1e-9)
	assert.Nil(t, res.Indicators.Financials)
}

func TestForceRefreshRecomputes(t *testing.T) {
	h := newHarness(t, allDataFetcher(), &fakeBudget{}, &fakeGenerator{narrative: goodNarrative()})
	ctx := context.Background()

	first, err := h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)
	second, err := h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, true)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, h.gen.callCount())
}

func TestInvalidateDropsAllHorizons(t *testing.T) {
	h := newHarness(t, allDataFetcher(), &fakeBudget{}, &fakeGenerator{narrative: goodNarrative()})
	ctx := context.Background()

	_, err := h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)
	_, err = h.orch.GetAnalysis(ctx, "AAPL", models.HorizonLongTerm, false)
	require.NoError(t, err)
	require.Equal(t, 2, h.gen.callCount())

	require.NoError(t, h.orch.Invalidate(ctx, "AAPL"))

	_, err = h.orch.GetAnalysis(ctx, "AAPL", models.HorizonShortTerm, false)
	require.NoError(t, err)
	assert.Equal(t, 3, h.gen.callCount())
}
