package models

import "time"

// Horizon is the forward-looking window an analysis covers.
type Horizon string

const (
	HorizonShortTerm Horizon = "short_term"
	HorizonMidTerm   Horizon = "mid_term"
	HorizonLongTerm  Horizon = "long_term"
)

// ValidHorizon reports whether h is one of the supported horizons.
func ValidHorizon(h string) bool {
	switch Horizon(h) {
	case HorizonShortTerm, HorizonMidTerm, HorizonLongTerm:
		return true
	}
	return false
}

// GeneratedAnalysis is the structural contract an LLM response must meet
// before it may be cached or served. Validator tags are the contract.
type GeneratedAnalysis struct {
	Rating     string   `json:"rating" validate:"required,oneof=strong_buy buy hold sell strong_sell"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Summary    string   `json:"summary" validate:"required,min=10"`
	Risks      []string `json:"risks" validate:"required,min=1"`
	Catalysts  []string `json:"catalysts"`
}

// IndicatorSummary is the free, deterministic part of an analysis built
// from fetched fundamentals and price action. It backs degraded results.
type IndicatorSummary struct {
	Quote      *Quote           `json:"quote,omitempty"`
	Financials *FinancialReport `json:"financials,omitempty"`
	NewsCount  int              `json:"news_count"`
}

// AnalysisResult is the orchestrator's output: either a full AI-narrated
// analysis or a degraded indicator-only result. Immutable once produced;
// refreshes create a new result that supersedes this one in cache.
type AnalysisResult struct {
	ID           string             `json:"id"`
	Symbol       string             `json:"symbol"`
	Horizon      Horizon            `json:"horizon"`
	ModelVersion string             `json:"model_version"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Narrative    *GeneratedAnalysis `json:"narrative,omitempty"`
	Indicators   IndicatorSummary   `json:"indicators"`
	CostIncurred float64            `json:"cost_incurred"`
	Degraded     bool               `json:"degraded"`
	DegradedWhy  string             `json:"degraded_reason,omitempty"`
	Stale        bool               `json:"stale"`
	SourcesUsed  []string           `json:"sources_used,omitempty"`
}

// AnalysisEvent is published to the downstream pipeline when an analysis
// completes.
type AnalysisEvent struct {
	EventID     string    `json:"event_id"`
	Symbol      string    `json:"symbol"`
	Horizon     Horizon   `json:"horizon"`
	Rating      string    `json:"rating,omitempty"`
	Degraded    bool      `json:"degraded"`
	Cost        float64   `json:"cost"`
	GeneratedAt time.Time `json:"generated_at"`
}

// AnalysisRequest binds the HTTP query for the analysis endpoint.
type AnalysisRequest struct {
	Horizon string `query:"horizon" default:"short_term" validate:"oneof=short_term mid_term long_term"`
	Refresh bool   `query:"refresh" default:"false"`
}
