package alphavantage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/service/source"
	xhttp "FinSight/pkg/http"

	"golang.org/x/time/rate"
)

const (
	quoteAdapterID       = "alphavantage_quote"
	fundamentalAdapterID = "alphavantage_fundamentals"

	// Alpha Vantage reports throttling inside a 200 body with no
	// Retry-After; the free tier resets on a minute boundary.
	softRateLimitBackoff = time.Minute
)

// Client is the shared Alpha Vantage REST transport. The quote and
// fundamentals adapters wrap it because both endpoints share one API
// key and one rate budget.
type Client struct {
	apiKey  string
	baseURL string
	cost    float64

	http    *xhttp.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures Client.
type Option func(*Client)

// New creates the shared Alpha Vantage transport.
func New(apiKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    xhttp.NewClient(xhttp.WithTimeout(15 * time.Second)),
		limiter: rate.NewLimiter(rate.Limit(0.1), 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithRateLimit sets the client-side request rate.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// WithCostPerCall sets the metered cost attributed to each call.
func WithCostPerCall(cost float64) Option {
	return func(c *Client) {
		c.cost = cost
	}
}

// WithHTTPClient overrides the HTTP client, used in tests.
func WithHTTPClient(hc *xhttp.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// throttleEnvelope catches the soft rate-limit fields Alpha Vantage
// mixes into otherwise-valid 200 responses.
type throttleEnvelope struct {
	Note        string `json:"Note"`
	Information string `json:"Information"`
	ErrorMsg    string `json:"Error Message"`
}

func (t *throttleEnvelope) check(adapterID string) error {
	if t.Note != "" || t.Information != "" {
		return source.NewRateLimited(adapterID, softRateLimitBackoff,
			fmt.Errorf("throttled: %s%s", t.Note, t.Information))
	}
	if t.ErrorMsg != "" {
		return source.NewInvalidResponse(adapterID, fmt.Errorf("%s", t.ErrorMsg))
	}
	return nil
}

func (c *Client) query(ctx context.Context, adapterID string, params map[string][]string, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return source.NewTimeout(adapterID, err)
	}
	params["apikey"] = []string{c.apiKey}
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + "/query",
		QueryParams: params,
	}, dest)
	if err != nil {
		return source.ClassifyHTTP(adapterID, err)
	}
	return nil
}

// QuoteAdapter serves price data as the fallback behind Finnhub.
type QuoteAdapter struct {
	client *Client
}

// NewQuoteAdapter wraps the shared client as a price adapter.
func NewQuoteAdapter(client *Client) *QuoteAdapter {
	return &QuoteAdapter{client: client}
}

func (a *QuoteAdapter) ID() string                { return quoteAdapterID }
func (a *QuoteAdapter) DataType() models.DataType { return models.DataTypePrice }

type globalQuoteResponse struct {
	throttleEnvelope
	GlobalQuote struct {
		Symbol     string `json:"01. symbol"`
		Open       string `json:"02. open"`
		High       string `json:"03. high"`
		Low        string `json:"04. low"`
		Price      string `json:"05. price"`
		Volume     string `json:"06. volume"`
		PrevClose  string `json:"08. previous close"`
		Change     string `json:"09. change"`
		ChangePct  string `json:"10. change percent"`
		TradingDay string `json:"07. latest trading day"`
	} `json:"Global Quote"`
}

// Fetch retrieves the latest quote for a symbol.
func (a *QuoteAdapter) Fetch(ctx context.Context, params source.FetchParams) (*source.FetchResult, error) {
	var resp globalQuoteResponse
	if err := a.client.query(ctx, quoteAdapterID, map[string][]string{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {params.Symbol},
	}, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(quoteAdapterID); err != nil {
		return nil, err
	}

	gq := resp.GlobalQuote
	if gq.Symbol == "" || gq.Price == "" {
		return nil, source.NewInvalidResponse(quoteAdapterID, fmt.Errorf("empty quote for %q", params.Symbol))
	}

	quote := &models.Quote{
		Symbol:        gq.Symbol,
		Price:         parseFloat(gq.Price),
		Change:        parseFloat(gq.Change),
		ChangePercent: parsePercent(gq.ChangePct),
		High:          parseFloat(gq.High),
		Low:           parseFloat(gq.Low),
		Open:          parseFloat(gq.Open),
		PrevClose:     parseFloat(gq.PrevClose),
		Volume:        parseFloat(gq.Volume),
		Timestamp:     a.client.now().UTC(),
		Source:        quoteAdapterID,
	}

	return &source.FetchResult{Data: quote, Cost: a.client.cost, Provider: quoteAdapterID}, nil
}

// Probe checks reachability with a lightweight quote call.
func (a *QuoteAdapter) Probe(ctx context.Context) (time.Duration, error) {
	start := a.client.now()
	if _, err := a.Fetch(ctx, source.FetchParams{Symbol: "SPY"}); err != nil {
		return 0, err
	}
	return a.client.now().Sub(start), nil
}

// FundamentalsAdapter serves company fundamentals from the OVERVIEW
// endpoint.
type FundamentalsAdapter struct {
	client *Client
}

// NewFundamentalsAdapter wraps the shared client as a financials adapter.
func NewFundamentalsAdapter(client *Client) *FundamentalsAdapter {
	return &FundamentalsAdapter{client: client}
}

func (a *FundamentalsAdapter) ID() string                { return fundamentalAdapterID }
func (a *FundamentalsAdapter) DataType() models.DataType { return models.DataTypeFinancials }

type overviewResponse struct {
	throttleEnvelope
	Symbol            string `json:"Symbol"`
	Name              string `json:"Name"`
	Currency          string `json:"Currency"`
	LatestQuarter     string `json:"LatestQuarter"`
	MarketCap         string `json:"MarketCapitalization"`
	PERatio           string `json:"PERatio"`
	PriceToBook       string `json:"PriceToBookRatio"`
	EPS               string `json:"EPS"`
	DividendYield     string `json:"DividendYield"`
	ProfitMargin      string `json:"ProfitMargin"`
	RevenueTTM        string `json:"RevenueTTM"`
	DebtToEquity      string `json:"DebtToEquityRatio"`
	ReturnOnEquityTTM string `json:"ReturnOnEquityTTM"`
}

// Fetch retrieves a fundamentals snapshot for a symbol.
func (a *FundamentalsAdapter) Fetch(ctx context.Context, params source.FetchParams) (*source.FetchResult, error) {
	var resp overviewResponse
	if err := a.client.query(ctx, fundamentalAdapterID, map[string][]string{
		"function": {"OVERVIEW"},
		"symbol":   {params.Symbol},
	}, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(fundamentalAdapterID); err != nil {
		return nil, err
	}

	if resp.Symbol == "" {
		return nil, source.NewInvalidResponse(fundamentalAdapterID, fmt.Errorf("empty overview for %q", params.Symbol))
	}

	report := &models.FinancialReport{
		Symbol:         resp.Symbol,
		Name:           resp.Name,
		FiscalPeriod:   resp.LatestQuarter,
		Currency:       resp.Currency,
		MarketCap:      parseFloat(resp.MarketCap),
		PERatio:        parseFloat(resp.PERatio),
		PBRatio:        parseFloat(resp.PriceToBook),
		EPS:            parseFloat(resp.EPS),
		DividendYield:  parseFloat(resp.DividendYield),
		ProfitMargin:   parseFloat(resp.ProfitMargin),
		RevenueTTM:     parseFloat(resp.RevenueTTM),
		DebtToEquity:   parseFloat(resp.DebtToEquity),
		ReturnOnEquity: parseFloat(resp.ReturnOnEquityTTM),
		RetrievedAt:    a.client.now().UTC(),
		Source:         fundamentalAdapterID,
	}

	return &source.FetchResult{Data: report, Cost: a.client.cost, Provider: fundamentalAdapterID}, nil
}

// Probe checks reachability via the quote endpoint; it is cheaper than
// OVERVIEW and exercises the same transport and key.
func (a *FundamentalsAdapter) Probe(ctx context.Context) (time.Duration, error) {
	start := a.client.now()
	var resp globalQuoteResponse
	if err := a.client.query(ctx, fundamentalAdapterID, map[string][]string{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {"SPY"},
	}, &resp); err != nil {
		return 0, err
	}
	if err := resp.check(fundamentalAdapterID); err != nil {
		return 0, err
	}
	return a.client.now().Sub(start), nil
}

// parseFloat tolerates the "None" and "-" placeholders Alpha Vantage
// uses for missing values.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parsePercent(s string) float64 {
	if len(s) > 0 && s[len(s)-1] == '%' {
		s = s[:len(s)-1]
	}
	return parseFloat(s)
}
