// Package mapper implements local site mapping with gocolly, used when the
// scrape service's map endpoint is unavailable or disabled.
package mapper

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/extraction"
)

// Config controls the local crawler.
type Config struct {
	UserAgent string
	MaxDepth  int
	MaxLinks  int
	Timeout   time.Duration
	Parallel  int
}

// Colly is a bounded same-host link crawler implementing extraction.Mapper.
type Colly struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Colly mapper.
func New(cfg Config, logger *zap.Logger) *Colly {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Colly{cfg: cfg, logger: logger}
}

// Map crawls the start URL's host breadth-first and returns every in-host
// link found, the start URL included.
func (m *Colly) Map(ctx context.Context, startURL string) (extraction.MapResult, error) {
	su, err := url.Parse(startURL)
	if err != nil || su.Hostname() == "" {
		return extraction.MapResult{}, fmt.Errorf("invalid start url %q", startURL)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(su.Hostname()),
		colly.MaxDepth(m.cfg.MaxDepth),
		colly.Async(true),
	)
	collector.SetRequestTimeout(m.cfg.Timeout)
	if m.cfg.UserAgent != "" {
		collector.UserAgent = m.cfg.UserAgent
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: m.cfg.Parallel,
	}); err != nil {
		return extraction.MapResult{}, fmt.Errorf("set crawl limits: %w", err)
	}

	var mu sync.Mutex
	seen := map[string]struct{}{startURL: {}}
	links := []string{startURL}

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		mu.Lock()
		_, dup := seen[link]
		full := len(links) >= m.cfg.MaxLinks
		if !dup && !full {
			seen[link] = struct{}{}
			links = append(links, link)
		}
		mu.Unlock()
		if dup || full {
			return
		}
		if err := e.Request.Visit(link); err != nil {
			m.logger.Debug("visit skipped", zap.String("url", link), zap.Error(err))
		}
	})
	collector.OnError(func(resp *colly.Response, visitErr error) {
		m.logger.Debug("map fetch failed",
			zap.String("url", resp.Request.URL.String()),
			zap.Error(visitErr),
		)
	})

	if err := collector.Visit(startURL); err != nil {
		return extraction.MapResult{}, fmt.Errorf("map %s: %w", startURL, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return extraction.MapResult{}, fmt.Errorf("map cancelled: %w", err)
	}

	mu.Lock()
	out := append([]string(nil), links...)
	mu.Unlock()
	m.logger.Debug("site mapped locally", zap.String("url", startURL), zap.Int("links", len(out)))
	return extraction.MapResult{TotalLinks: len(out), Links: out}, nil
}
