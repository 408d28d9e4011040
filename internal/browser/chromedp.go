// Package browser backs the headless-browser port with chromedp and Chrome's
// DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/extraction"
)

// Config controls the chromedp browser.
type Config struct {
	MaxPages  int
	UserAgent string
}

// Chromedp implements extraction.Browser on a shared Chrome allocator. Pages
// are independent tabs; MaxPages bounds how many are open at once.
type Chromedp struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New starts a Chrome exec allocator.
func New(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxPages > 0 {
		limiter = make(chan struct{}, cfg.MaxPages)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, killing the browser process.
func (b *Chromedp) Close() error {
	b.allocCancel()
	return nil
}

// NewPage opens a tab with the network domain enabled and response
// interception armed.
func (b *Chromedp) NewPage(ctx context.Context) (extraction.BrowserPage, error) {
	if b.limiter != nil {
		select {
		case b.limiter <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("page slot wait canceled: %w", ctx.Err())
		}
	}

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	p := &page{
		ctx:     taskCtx,
		cancel:  taskCancel,
		release: b.release,
		logger:  b.logger,
		pending: make(map[network.RequestID]pendingResponse),
	}
	chromedp.ListenTarget(taskCtx, p.handleEvent)

	setup := []chromedp.Action{network.Enable()}
	if b.cfg.UserAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(b.cfg.UserAgent))
	}
	if err := chromedp.Run(taskCtx, setup...); err != nil {
		taskCancel()
		b.release()
		return nil, fmt.Errorf("start browser tab: %w", err)
	}
	return p, nil
}

func (b *Chromedp) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

type pendingResponse struct {
	url      string
	status   int
	mimeType string
}

// page is one Chrome tab. Response metadata arrives on EventResponseReceived;
// the body is only fetchable after EventLoadingFinished, so responses are
// staged in pending until then.
type page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	logger  *zap.Logger

	mu       sync.Mutex
	listener func(extraction.BrowserResponse)
	pending  map[network.RequestID]pendingResponse
	closed   bool
}

// OnResponse registers the intercept callback. Register before Goto; events
// fire on chromedp's internal goroutine.
func (p *page) OnResponse(fn func(resp extraction.BrowserResponse)) {
	p.mu.Lock()
	p.listener = fn
	p.mu.Unlock()
}

func (p *page) handleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.mu.Lock()
		if p.listener != nil && !p.closed {
			p.pending[e.RequestID] = pendingResponse{
				url:      e.Response.URL,
				status:   int(e.Response.Status),
				mimeType: e.Response.MimeType,
			}
		}
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.mu.Lock()
		meta, ok := p.pending[e.RequestID]
		if ok {
			delete(p.pending, e.RequestID)
		}
		fn := p.listener
		closed := p.closed
		p.mu.Unlock()
		if !ok || fn == nil || closed {
			return
		}
		// GetResponseBody must not run on the event goroutine; it would
		// deadlock waiting for its own CDP reply.
		go p.deliverBody(e.RequestID, meta, fn)
	}
}

func (p *page) deliverBody(id network.RequestID, meta pendingResponse, fn func(extraction.BrowserResponse)) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(p.ctx, c.Target))
	if err != nil {
		p.logger.Debug("response body unavailable", zap.String("url", meta.url), zap.Error(err))
		return
	}
	fn(extraction.BrowserResponse{
		URL:      meta.url,
		Status:   meta.status,
		MimeType: meta.mimeType,
		Body:     body,
	})
}

// Goto navigates and waits for the body element.
func (p *page) Goto(ctx context.Context, url string, timeout time.Duration) error {
	tctx, cancel := p.bounded(ctx, timeout)
	defer cancel()
	err := chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Evaluate runs a script in the page, discarding its result.
func (p *page) Evaluate(ctx context.Context, script string) error {
	tctx, cancel := p.bounded(ctx, 10*time.Second)
	defer cancel()
	if err := chromedp.Run(tctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Get fetches a URL from inside the page so the request carries the page's
// cookies and origin. Same-origin and CORS-permitted endpoints only.
func (p *page) Get(ctx context.Context, url string, timeout time.Duration) (int, []byte, error) {
	tctx, cancel := p.bounded(ctx, timeout)
	defer cancel()

	script := fmt.Sprintf(
		`fetch(%q, {credentials: "include"}).then(r => r.text().then(t => ({status: r.status, body: t})))`,
		url,
	)
	var out struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	err := chromedp.Run(tctx, chromedp.Evaluate(script, &out,
		func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithAwaitPromise(true)
		},
	))
	if err != nil {
		return 0, nil, fmt.Errorf("in-page fetch %s: %w", url, err)
	}
	return out.Status, []byte(out.Body), nil
}

// HTML returns the current rendered document.
func (p *page) HTML(ctx context.Context) (string, error) {
	tctx, cancel := p.bounded(ctx, 15*time.Second)
	defer cancel()
	var html string
	if err := chromedp.Run(tctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Close tears down the tab and frees its slot.
func (p *page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.release()
	return nil
}

// bounded merges the caller's context with the page context and a timeout.
// The returned context ends when either parent does.
func (p *page) bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}
