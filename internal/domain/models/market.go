package models

import "time"

// DataType identifies a class of market data with its own providers,
// freshness policy and cost center.
type DataType string

const (
	DataTypePrice      DataType = "price"
	DataTypeFinancials DataType = "financials"
	DataTypeNews       DataType = "news"
	DataTypeAnalysis   DataType = "analysis"
)

// Quote is a normalized point-in-time price from any provider.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PrevClose     float64   `json:"prev_close"`
	Volume        float64   `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}

// FinancialReport is a normalized fundamentals snapshot for one company.
type FinancialReport struct {
	Symbol          string    `json:"symbol"`
	Name            string    `json:"name"`
	FiscalPeriod    string    `json:"fiscal_period"`
	Currency        string    `json:"currency"`
	MarketCap       float64   `json:"market_cap"`
	PERatio         float64   `json:"pe_ratio"`
	PBRatio         float64   `json:"pb_ratio"`
	EPS             float64   `json:"eps"`
	DividendYield   float64   `json:"dividend_yield"`
	ProfitMargin    float64   `json:"profit_margin"`
	RevenueTTM      float64   `json:"revenue_ttm"`
	DebtToEquity    float64   `json:"debt_to_equity"`
	ReturnOnEquity  float64   `json:"return_on_equity"`
	RetrievedAt     time.Time `json:"retrieved_at"`
	Source          string    `json:"source"`
}

// NewsItem is a single normalized headline with optional sentiment.
type NewsItem struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Sentiment   float64   `json:"sentiment"` // [-1, 1], 0 when unknown
	Source      string    `json:"source"`
}
