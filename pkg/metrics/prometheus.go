package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinSight/internal/domain/models"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	fetchTotal     *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	budgetConsumed *prometheus.GaugeVec
	budgetLimit    *prometheus.GaugeVec
	budgetDenied   *prometheus.CounterVec
	analysisTotal  *prometheus.CounterVec
	analysisDur    *prometheus.HistogramVec
	healthStatus   *prometheus.GaugeVec
	lastPrice      *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		fetchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_fetch_total",
				Help: "Provider fetch attempts by outcome",
			},
			[]string{"provider", "data_type", "result"},
		),
		fetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finsight_fetch_duration_seconds",
				Help:    "Provider fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "data_type"},
		),
		cacheLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_cache_lookups_total",
				Help: "Cache lookups by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		budgetConsumed: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finsight_budget_consumed_usd",
				Help: "Budget consumed in the current daily window",
			},
			[]string{"cost_center"},
		),
		budgetLimit: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finsight_budget_daily_limit_usd",
				Help: "Configured daily budget limit",
			},
			[]string{"cost_center"},
		),
		budgetDenied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_budget_denied_total",
				Help: "Budget approvals denied by reason",
			},
			[]string{"cost_center", "reason"},
		),
		analysisTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_analysis_total",
				Help: "Analyses produced by outcome",
			},
			[]string{"outcome"},
		),
		analysisDur: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finsight_analysis_duration_seconds",
				Help:    "End-to-end analysis duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		healthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finsight_adapter_health",
				Help: "Adapter health (0 unknown, 1 healthy, 2 degraded, 3 unhealthy)",
			},
			[]string{"adapter"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finsight_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsight_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordFetch records one provider fetch attempt.
func (r *Recorder) RecordFetch(provider string, dataType models.DataType, result string, seconds float64) {
	r.fetchTotal.WithLabelValues(provider, string(dataType), result).Inc()
	r.fetchDuration.WithLabelValues(provider, string(dataType)).Observe(seconds)
}

// RecordCacheLookup records one cache lookup outcome.
func (r *Recorder) RecordCacheLookup(tier, outcome string) {
	r.cacheLookups.WithLabelValues(tier, outcome).Inc()
}

// RecordBudgetConsumed records current consumption against the limit.
func (r *Recorder) RecordBudgetConsumed(costCenter string, consumed, limit float64) {
	r.budgetConsumed.WithLabelValues(costCenter).Set(consumed)
	r.budgetLimit.WithLabelValues(costCenter).Set(limit)
}

// RecordBudgetDenied records a denied budget approval.
func (r *Recorder) RecordBudgetDenied(costCenter, reason string) {
	r.budgetDenied.WithLabelValues(costCenter, reason).Inc()
}

// RecordAnalysis records a produced analysis.
func (r *Recorder) RecordAnalysis(outcome string, seconds float64) {
	r.analysisTotal.WithLabelValues(outcome).Inc()
	r.analysisDur.WithLabelValues(outcome).Observe(seconds)
}

// RecordHealthStatus records an adapter's health as a numeric gauge.
func (r *Recorder) RecordHealthStatus(adapterID string, status models.HealthStatus) {
	r.healthStatus.WithLabelValues(adapterID).Set(healthValue(status))
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func healthValue(s models.HealthStatus) float64 {
	switch s {
	case models.HealthHealthy:
		return 1
	case models.HealthDegraded:
		return 2
	case models.HealthUnhealthy:
		return 3
	default:
		return 0
	}
}
