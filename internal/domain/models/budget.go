package models

import "time"

// Cost centers tracked independently against their own budgets.
const (
	CostCenterAIAnalysis = "ai_analysis"
	CostCenterPriceData  = "price_data"
	CostCenterFinancials = "financials_data"
	CostCenterNewsData   = "news_data"
)

// BudgetWindow reports one period's consumption against its limit.
type BudgetWindow struct {
	Limit       float64   `json:"limit"`
	Consumed    float64   `json:"consumed"`
	PeriodStart time.Time `json:"period_start"`
}

// BudgetLedger is the introspection view of one cost center.
type BudgetLedger struct {
	CostCenter string       `json:"cost_center"`
	Daily      BudgetWindow `json:"daily"`
	Monthly    BudgetWindow `json:"monthly"`
}
