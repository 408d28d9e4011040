// Package scrapeapi is the HTTP client for the page-discovery and scrape
// service. It backs both the Mapper and ScrapeClient ports.
package scrapeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/extraction"
)

// Config holds the client settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

// Client talks to the scrape service.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New builds a Client from config.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scrape api base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		http.SetAuthToken(cfg.APIKey)
	}

	return &Client{http: http, logger: logger}, nil
}

// StatusError is returned when the scrape service answers with a non-2xx
// status. Callers can branch on the code.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scrape api status %d: %s", e.Status, e.Detail)
}

type mapRequest struct {
	URL string `json:"url"`
}

type mapResponse struct {
	Success bool     `json:"success"`
	Links   []string `json:"links"`
	Error   string   `json:"error"`
}

// Map lists candidate URLs on the start URL's site.
func (c *Client) Map(ctx context.Context, startURL string) (extraction.MapResult, error) {
	var out mapResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(mapRequest{URL: startURL}).
		SetResult(&out).
		SetError(&out).
		Post("/v1/map")
	if err != nil {
		return extraction.MapResult{}, fmt.Errorf("map %s: %w", startURL, err)
	}
	if resp.IsError() || !out.Success {
		return extraction.MapResult{}, &StatusError{Status: resp.StatusCode(), Detail: out.Error}
	}

	c.logger.Debug("site mapped", zap.String("url", startURL), zap.Int("links", len(out.Links)))
	return extraction.MapResult{TotalLinks: len(out.Links), Links: out.Links}, nil
}

type scrapeAction struct {
	Type         string `json:"type"`
	Milliseconds int    `json:"milliseconds,omitempty"`
	Selector     string `json:"selector,omitempty"`
}

type jsonOptions struct {
	Schema map[string]any `json:"schema,omitempty"`
	Prompt string         `json:"prompt,omitempty"`
}

type scrapeRequest struct {
	URL             string         `json:"url"`
	Formats         []string       `json:"formats"`
	OnlyMainContent bool           `json:"onlyMainContent"`
	Actions         []scrapeAction `json:"actions,omitempty"`
	JSONOptions     *jsonOptions   `json:"jsonOptions,omitempty"`
	TimeoutMS       int            `json:"timeout,omitempty"`
}

type scrapeData struct {
	JSON     json.RawMessage `json:"json"`
	Markdown string          `json:"markdown"`
	HTML     string          `json:"html"`
	Metadata map[string]any  `json:"metadata"`
}

type scrapeResponse struct {
	Success bool       `json:"success"`
	Data    scrapeData `json:"data"`
	Error   string     `json:"error"`
}

// Scrape fetches one page, optionally running interaction actions and
// schema-guided structured extraction.
func (c *Client) Scrape(ctx context.Context, pageURL string, opts extraction.ScrapeOptions) (extraction.ScrapeResult, error) {
	req := scrapeRequest{
		URL:             pageURL,
		Formats:         []string{"markdown", "html"},
		OnlyMainContent: opts.OnlyMainContent,
	}
	if opts.ExtractSchema != nil || opts.ExtractPrompt != "" {
		req.Formats = append(req.Formats, "json")
		req.JSONOptions = &jsonOptions{Schema: opts.ExtractSchema, Prompt: opts.ExtractPrompt}
	}
	for _, a := range opts.Actions {
		req.Actions = append(req.Actions, scrapeAction{
			Type:         a.Type,
			Milliseconds: a.Milliseconds,
			Selector:     a.Selector,
		})
	}
	if opts.Timeout > 0 {
		req.TimeoutMS = int(opts.Timeout / time.Millisecond)
	}

	var out scrapeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/v1/scrape")
	if err != nil {
		return extraction.ScrapeResult{}, fmt.Errorf("scrape %s: %w", pageURL, err)
	}
	if resp.IsError() || !out.Success {
		return extraction.ScrapeResult{}, &StatusError{Status: resp.StatusCode(), Detail: out.Error}
	}

	return extraction.ScrapeResult{
		StructuredJSON: out.Data.JSON,
		Markdown:       out.Data.Markdown,
		HTML:           out.Data.HTML,
		Metadata:       out.Data.Metadata,
	}, nil
}
