package browser

import (
	"context"
	"errors"

	"github.com/eventscope/extractor/internal/extraction"
)

// Noop implements extraction.Browser but always fails, for deployments where
// headless Chrome is unavailable. The network probe then simply never wins.
type Noop struct{}

// NewNoop creates a Noop browser.
func NewNoop() *Noop { return &Noop{} }

// NewPage returns an error since no browser is available.
func (Noop) NewPage(context.Context) (extraction.BrowserPage, error) {
	return nil, errors.New("headless browser not configured")
}

// Close is a no-op.
func (Noop) Close() error { return nil }
