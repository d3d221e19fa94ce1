package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"FinSight/internal/domain/models"
	xhttp "FinSight/pkg/http"
)

// estimated token counts used for pre-approval cost estimates; actual
// usage from the provider replaces them after the call.
const (
	estPromptTokens     = 1200
	estCompletionTokens = 600
)

// GenerateInput is everything the model sees for one analysis.
type GenerateInput struct {
	Symbol     string
	Horizon    models.Horizon
	Indicators models.IndicatorSummary
	News       []models.NewsItem
}

// Client talks to an OpenAI-compatible chat completions endpoint and
// turns market data into a structured analysis.
type Client struct {
	baseURL       string
	apiKey        string
	model         string
	modelVersion  string
	maxTokens     int
	pricePer1KIn  float64
	pricePer1KOut float64

	http *xhttp.Client
}

// Option configures Client.
type Option func(*Client)

// New creates an LLM client.
func New(baseURL, apiKey, model, modelVersion string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        model,
		modelVersion: modelVersion,
		maxTokens:    1024,
		http:         xhttp.NewClient(xhttp.WithTimeout(60 * time.Second)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithPricing sets the per-1K-token prices used for cost accounting.
func WithPricing(per1KIn, per1KOut float64) Option {
	return func(c *Client) {
		c.pricePer1KIn = per1KIn
		c.pricePer1KOut = per1KOut
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http = xhttp.NewClient(xhttp.WithTimeout(d))
	}
}

// WithHTTPClient overrides the HTTP client, used in tests.
func WithHTTPClient(hc *xhttp.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// ModelVersion identifies the model+prompt revision; it is part of the
// analysis cache key so version bumps never serve old narratives.
func (c *Client) ModelVersion() string {
	return c.modelVersion
}

// EstimateCost returns the projected cost of one generation, used to
// gate the call against the budget before spending anything.
func (c *Client) EstimateCost() float64 {
	out := c.maxTokens
	if out > estCompletionTokens {
		out = estCompletionTokens
	}
	return c.pricePer1KIn*estPromptTokens/1000 + c.pricePer1KOut*float64(out)/1000
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate produces a structured analysis and the actual cost incurred.
// The model output is validated against the analysis contract before it
// is returned; a malformed narrative is an error, never a result.
func (c *Client) Generate(ctx context.Context, in GenerateInput) (*models.GeneratedAnalysis, float64, error) {
	req := &chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(in)},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	var resp chatResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.baseURL + "/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + c.apiKey,
		},
		Body: req,
	}, &resp)
	if err != nil {
		return nil, 0, fmt.Errorf("llm request: %w", err)
	}

	cost := c.pricePer1KIn*float64(resp.Usage.PromptTokens)/1000 +
		c.pricePer1KOut*float64(resp.Usage.CompletionTokens)/1000

	if len(resp.Choices) == 0 {
		return nil, cost, fmt.Errorf("llm response has no choices")
	}

	var out models.GeneratedAnalysis
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, cost, fmt.Errorf("llm output is not valid json: %w", err)
	}
	if err := xhttp.ValidateStruct(&out); err != nil {
		return nil, cost, fmt.Errorf("llm output failed contract: %w", err)
	}

	return &out, cost, nil
}

const systemPrompt = `You are an equity research assistant. Respond with a single JSON object:
{"rating": one of strong_buy|buy|hold|sell|strong_sell,
 "confidence": number in [0,1],
 "summary": 2-4 sentence thesis,
 "risks": non-empty array of short risk statements,
 "catalysts": array of short catalyst statements}`

func buildPrompt(in GenerateInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\nHorizon: %s\n", in.Symbol, in.Horizon)

	if q := in.Indicators.Quote; q != nil {
		fmt.Fprintf(&b, "Price: %.2f (%.2f%% today), day range %.2f-%.2f, prev close %.2f\n",
			q.Price, q.ChangePercent, q.Low, q.High, q.PrevClose)
	}
	if f := in.Indicators.Financials; f != nil {
		fmt.Fprintf(&b, "Fundamentals (%s): market cap %.0f, P/E %.2f, EPS %.2f, profit margin %.3f, D/E %.2f, ROE %.3f\n",
			f.FiscalPeriod, f.MarketCap, f.PERatio, f.EPS, f.ProfitMargin, f.DebtToEquity, f.ReturnOnEquity)
	}
	if len(in.News) > 0 {
		b.WriteString("Recent headlines:\n")
		for i, n := range in.News {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "- %s", n.Title)
			if n.Sentiment != 0 {
				fmt.Fprintf(&b, " (sentiment %.2f)", n.Sentiment)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
