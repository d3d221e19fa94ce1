package marketaux

import (
	"context"
	"fmt"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/service/source"
	xhttp "FinSight/pkg/http"

	"golang.org/x/time/rate"
)

const adapterID = "marketaux"

// Client is the Marketaux news adapter.
type Client struct {
	apiKey  string
	baseURL string
	cost    float64
	limit   int

	http    *xhttp.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures Client.
type Option func(*Client)

// New creates a Marketaux news adapter.
func New(apiKey, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		limit:   10,
		http:    xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		limiter: rate.NewLimiter(rate.Limit(0.2), 1),
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
func (c *Client) DataType() models.DataType { return models.DataTypeNews }

type newsResponse struct {
	Data []struct {
		UUID        string  `json:"uuid"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		URL         string  `json:"url"`
		PublishedAt string  `json:"published_at"`
		Entities    []struct {
			Symbol         string  `json:"symbol"`
			SentimentScore float64 `json:"sentiment_score"`
		} `json:"entities"`
	} `json:"data"`
}

// Fetch retrieves recent headlines for a symbol.
func (c *Client) Fetch(ctx context.Context, params source.FetchParams) (*source.FetchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, source.NewTimeout(adapterID, err)
	}

	var resp newsResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/v1/news/all",
		QueryParams: map[string][]string{
			"symbols":   {params.Symbol},
			"limit":     {fmt.Sprintf("%d", c.limit)},
			"api_token": {c.apiKey},
		},
	}, &resp)
	if err != nil {
		return nil, source.ClassifyHTTP(adapterID, err)
	}

	items := make([]models.NewsItem, 0, len(resp.Data))
	for _, d := range resp.Data {
		item := models.NewsItem{
			ID:      d.UUID,
			Symbol:  params.Symbol,
			Title:   d.Title,
			Summary: d.Description,
			URL:     d.URL,
			Source:  adapterID,
		}
		if t, err := time.Parse(time.RFC3339, d.PublishedAt); err == nil {
			item.PublishedAt = t
		}
		for _, e := range d.Entities {
			if e.Symbol == params.Symbol {
				item.Sentiment = e.SentimentScore
				break
			}
		}
		items = append(items, item)
	}

	return &source.FetchResult{Data: items, Cost: c.cost, Provider: adapterID}, nil
}

// Probe checks reachability with a minimal news query.
func (c *Client) Probe(ctx context.Context) (time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, source.NewTimeout(adapterID, err)
	}
	start := c.now()
	var resp newsResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/v1/news/all",
		QueryParams: map[string][]string{
			"limit":     {"1"},
			"api_token": {c.apiKey},
		},
	}, &resp)
	if err != nil {
		return 0, source.ClassifyHTTP(adapterID, err)
	}
	return c.now().Sub(start), nil
}
