package finnhub

import (
	"context"
	"fmt"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/service/source"
	xhttp "FinSight/pkg/http"

	"golang.org/x/time/rate"
)

const adapterID = "finnhub"

// Client is the Finnhub REST quote adapter. A client-side rate limiter
// keeps us under the free-tier request budget before the provider has
// to push back with a 429.
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

// New creates a Finnhub quote adapter.
func New(apiKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		limiter: rate.NewLimiter(rate.Limit(0.5), 1),
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

func (c *Client) ID() string                { return adapterID }
func (c *Client) DataType() models.DataType { return models.DataTypePrice }

type quoteResponse struct {
	Current   float64 `json:"c"`
	Change    float64 `json:"d"`
	ChangePct float64 `json:"dp"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Open      float64 `json:"o"`
	PrevClose float64 `json:"pc"`
	Timestamp int64   `json:"t"`
}

// Fetch retrieves the latest quote for a symbol.
func (c *Client) Fetch(ctx context.Context, params source.FetchParams) (*source.FetchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, source.NewTimeout(adapterID, err)
	}

	var resp quoteResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/quote",
		QueryParams: map[string][]string{
			"symbol": {params.Symbol},
			"token":  {c.apiKey},
		},
	}, &resp)
	if err != nil {
		return nil, source.ClassifyHTTP(adapterID, err)
	}

	// Finnhub returns an all-zero quote for unknown symbols.
	if resp.Current == 0 && resp.Timestamp == 0 {
		return nil, source.NewInvalidResponse(adapterID, fmt.Errorf("empty quote for %q", params.Symbol))
	}

	quote := &models.Quote{
		Symbol:        params.Symbol,
		Price:         resp.Current,
		Change:        resp.Change,
		ChangePercent: resp.ChangePct,
		High:          resp.High,
		Low:           resp.Low,
		Open:          resp.Open,
		PrevClose:     resp.PrevClose,
		Timestamp:     time.Unix(resp.Timestamp, 0).UTC(),
		Source:        adapterID,
	}

	return &source.FetchResult{Data: quote, Cost: c.cost, Provider: adapterID}, nil
}

// Probe checks reachability with a lightweight quote call. Probes share
// the foreground limiter so they never burn extra quota.
func (c *Client) Probe(ctx context.Context) (time.Duration, error) {
	start := c.now()
	if _, err := c.Fetch(ctx, source.FetchParams{Symbol: "SPY"}); err != nil {
		return 0, err
	}
	return c.now().Sub(start), nil
}
