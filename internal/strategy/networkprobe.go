package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eventscope/extractor/internal/extraction"
)

// NetworkProbeName identifies the probe in artifacts and logs.
const NetworkProbeName = "network_response_probe"

// scrollToBottom drives lazy-loading lists.
const scrollToBottom = `window.scrollTo(0, document.body.scrollHeight);`

// clickLoadMore clicks the first visible load-more-like control, best effort.
const clickLoadMore = `(() => {
	const kws = ['load more', 'show more', 'view more', 'more results', 'see all'];
	const els = Array.from(document.querySelectorAll('button, a, [role="button"]'));
	for (const el of els) {
		const t = (el.innerText || '').trim().toLowerCase();
		if (kws.some(k => t.includes(k))) { el.click(); return true; }
	}
	return false;
})();`

// NetworkProbeConfig bounds the probe's interaction and replay loops.
type NetworkProbeConfig struct {
	InteractionPasses int
	PassWait          time.Duration
	NodeCap           int
	ReplayCap         int
	ReplayZeroGrowth  int
	DefaultOffsetStep int
	NavTimeout        time.Duration
	ReplayTimeout     time.Duration
	ReplayQPS         float64
}

// withDefaults fills unset knobs with the documented bounds.
func (c NetworkProbeConfig) withDefaults() NetworkProbeConfig {
	if c.InteractionPasses <= 0 {
		c.InteractionPasses = 6
	}
	if c.PassWait <= 0 {
		c.PassWait = 1200 * time.Millisecond
	}
	if c.NodeCap <= 0 {
		c.NodeCap = 5000
	}
	if c.ReplayCap <= 0 {
		c.ReplayCap = 50
	}
	if c.ReplayZeroGrowth <= 0 {
		c.ReplayZeroGrowth = 2
	}
	if c.DefaultOffsetStep <= 0 {
		c.DefaultOffsetStep = 20
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.ReplayTimeout <= 0 {
		c.ReplayTimeout = 15 * time.Second
	}
	return c
}

// NetworkProbe opens the page in a headless browser, intercepts JSON
// responses, detects speaker-like objects in them, and replays the most
// productive endpoint's pagination directly.
type NetworkProbe struct {
	browser extraction.Browser
	clock   extraction.Clock
	cfg     NetworkProbeConfig
	md      *converter.Converter
	logger  *zap.Logger
}

// NewNetworkProbe constructs the probe strategy.
func NewNetworkProbe(browser extraction.Browser, clock extraction.Clock, cfg NetworkProbeConfig, logger *zap.Logger) *NetworkProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetworkProbe{
		browser: browser,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		md: converter.NewConverter(
			converter.WithPlugins(base.NewBasePlugin(), commonmark.NewCommonmarkPlugin()),
		),
		logger: logger,
	}
}

// Name implements Strategy.
func (p *NetworkProbe) Name() string { return NetworkProbeName }

// Score implements Strategy: the probe ranks highest for unambiguous speaker
// directories, where JSON speaker endpoints are most likely.
func (p *NetworkProbe) Score(pc extraction.PageClassification) int {
	if pc.Mode == extraction.ModeSpeakerDirectory {
		return 80
	}
	if pc.Ambiguous {
		return 40
	}
	return 30
}

// probeCapture accumulates intercepted appearances keyed by identity. The
// response listener writes concurrently with the driving goroutine; writes
// are idempotent (same key, same value), a single mutex keeps the map sane.
type probeCapture struct {
	mu          sync.Mutex
	nodeCap     int
	appearances map[string]extraction.SpeakerAppearance
	order       []string
	hitsByURL   map[string]int
	responses   int
}

func newProbeCapture(nodeCap int) *probeCapture {
	return &probeCapture{
		nodeCap:     nodeCap,
		appearances: make(map[string]extraction.SpeakerAppearance),
		hitsByURL:   make(map[string]int),
	}
}

// absorb extracts speaker-like objects from one JSON body and returns how
// many new identity keys appeared.
func (c *probeCapture) absorb(respURL string, body []byte) int {
	found := ExtractSpeakerLike(body, c.nodeCap)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses++
	added := 0
	for _, a := range found {
		key := extraction.IdentityKey(a)
		if _, ok := c.appearances[key]; !ok {
			c.appearances[key] = a
			c.order = append(c.order, key)
			added++
		}
	}
	if len(found) > 0 {
		c.hitsByURL[respURL] += len(found)
	}
	return added
}

// best returns the response URL with the most speaker-like hits at this
// snapshot. When several endpoints carry disjoint subsets only the winner's
// pagination is replayed; that is documented behavior, not a bug.
func (c *probeCapture) best() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bestURL, bestHits := "", 0
	for u, hits := range c.hitsByURL {
		if hits > bestHits {
			bestURL, bestHits = u, hits
		}
	}
	return bestURL, bestHits
}

func (c *probeCapture) snapshot() []extraction.SpeakerAppearance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]extraction.SpeakerAppearance, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.appearances[key])
	}
	return out
}

func (c *probeCapture) stats() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.appearances), c.responses
}

// Run implements Strategy.
func (p *NetworkProbe) Run(ctx context.Context, pc extraction.PageClassification, logf LogFunc) (*Result, error) {
	if p.browser == nil {
		return nil, fmt.Errorf("headless browser not configured")
	}
	page, err := p.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("new browser page: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			p.logger.Debug("close browser page", zap.Error(closeErr))
		}
	}()

	capture := newProbeCapture(p.cfg.NodeCap)
	page.OnResponse(func(resp extraction.BrowserResponse) {
		if resp.Status < 200 || resp.Status >= 300 {
			return
		}
		if !strings.Contains(resp.MimeType, "json") && !looksLikeJSON(resp.Body) {
			return
		}
		if added := capture.absorb(resp.URL, resp.Body); added > 0 {
			p.logger.Debug("captured speaker-like objects",
				zap.String("endpoint", resp.URL),
				zap.Int("new", added),
			)
		}
	})

	if err := page.Goto(ctx, pc.URL, p.cfg.NavTimeout); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pc.URL, err)
	}

	if err := p.drivePage(ctx, page); err != nil {
		return nil, err
	}

	stopReason := StopNothingCaptured
	replays := 0
	bestURL, bestHits := capture.best()
	if bestHits > 0 {
		stopReason = StopNoPagination
		if plan := inferPagination(bestURL, p.cfg.DefaultOffsetStep); plan != nil {
			logf("replaying %s pagination on %s", plan.style, bestURL)
			replays, stopReason = p.replay(ctx, page, capture, bestURL, plan)
		}
	}

	pageHTML, htmlErr := page.HTML(ctx)
	if htmlErr != nil {
		p.logger.Debug("page html unavailable", zap.Error(htmlErr))
	}

	appearances := capture.snapshot()
	unique, responses := capture.stats()

	var sessions []extraction.SessionRecord
	if pc.Mode == extraction.ModeSession && len(appearances) > 0 {
		sessions = append(sessions, extraction.SessionRecord{
			Title: pageTitle(pageHTML, pc.URL),
			URL:   pc.URL,
		})
	}
	for i := range appearances {
		if appearances[i].SessionURL == "" {
			appearances[i].SessionURL = pc.URL
		}
	}

	attempt := extraction.ScrapeAttempt{
		URL:      pc.URL,
		Strategy: NetworkProbeName,
		Mode:     pc.Mode,
		Success:  unique > 0,
		HTML:     pageHTML,
		Metadata: map[string]any{
			"json_responses": responses,
			"unique_hits":    unique,
			"best_endpoint":  bestURL,
			"replays":        replays,
			"stop_reason":    stopReason,
		},
		CreatedAt: p.now(),
	}
	if payload, marshalErr := json.Marshal(appearances); marshalErr == nil {
		attempt.RawPayload = payload
	}
	if pageHTML != "" {
		if md, mdErr := p.md.ConvertString(pageHTML, converter.WithDomain(pc.URL)); mdErr == nil {
			attempt.Markdown = strings.TrimSpace(md)
		}
	}

	return &Result{
		Sessions:    sessions,
		Appearances: appearances,
		Attempts:    []extraction.ScrapeAttempt{attempt},
		StopReason:  stopReason,
	}, nil
}

// drivePage performs the scroll + load-more interaction passes.
func (p *NetworkProbe) drivePage(ctx context.Context, page extraction.BrowserPage) error {
	for pass := 0; pass < p.cfg.InteractionPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("probe cancelled: %w", err)
		}
		if err := page.Evaluate(ctx, scrollToBottom); err != nil {
			p.logger.Debug("scroll failed", zap.Int("pass", pass), zap.Error(err))
		}
		// best effort; many pages have no such control
		if err := page.Evaluate(ctx, clickLoadMore); err != nil {
			p.logger.Debug("load-more click failed", zap.Int("pass", pass), zap.Error(err))
		}
		select {
		case <-time.After(p.cfg.PassWait):
		case <-ctx.Done():
			return fmt.Errorf("probe cancelled: %w", ctx.Err())
		}
	}
	return nil
}

// replay fetches successive pages of the detected endpoint until growth
// stops, the cap is hit, or the run is cancelled.
func (p *NetworkProbe) replay(
	ctx context.Context,
	page extraction.BrowserPage,
	capture *probeCapture,
	endpoint string,
	plan *paginationPlan,
) (int, string) {
	var limiter *rate.Limiter
	if p.cfg.ReplayQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.ReplayQPS), 1)
	}

	zeroStreak := 0
	for i := 1; i <= p.cfg.ReplayCap; i++ {
		if ctx.Err() != nil {
			return i - 1, StopReplayCancelled
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return i - 1, StopReplayCancelled
			}
		}
		next := plan.replayURL(endpoint, i)
		if next == "" {
			return i - 1, StopReplayPlateau
		}
		status, body, err := page.Get(ctx, next, p.cfg.ReplayTimeout)
		if err != nil || status < 200 || status >= 300 {
			p.logger.Debug("replay fetch failed",
				zap.String("url", next),
				zap.Int("status", status),
				zap.Error(err),
			)
			zeroStreak++
		} else if added := capture.absorb(next, body); added == 0 {
			zeroStreak++
		} else {
			zeroStreak = 0
		}
		if zeroStreak >= p.cfg.ReplayZeroGrowth {
			return i, StopReplayPlateau
		}
	}
	return p.cfg.ReplayCap, StopReplayCapReached
}

func (p *NetworkProbe) now() time.Time {
	if p.clock != nil {
		return p.clock.Now()
	}
	return time.Now().UTC()
}

// pageTitle pulls the document title out of captured HTML, falling back to
// the URL.
func pageTitle(html, fallback string) string {
	if html == "" {
		return fallback
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fallback
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return fallback
}
