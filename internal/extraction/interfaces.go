package extraction

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// JobStore persists job rows and their append-only scrape artifacts.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	// UpdateJob snapshots the full job row. Snapshots for one job are issued
	// sequentially by the owning run and never interleave.
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	AppendArtifacts(ctx context.Context, attempts []ScrapeAttempt) error
	ListArtifacts(ctx context.Context, jobID string) ([]ScrapeAttempt, error)
}

// EntityStore performs idempotent upserts for canonical entities. All
// operations are safe to call repeatedly with the same logical input.
type EntityStore interface {
	// UpsertSessions writes session rows keyed by normalized URL and returns
	// the normalized-URL -> session-id mapping.
	UpsertSessions(ctx context.Context, eventID string, sessions []SessionRecord) (map[string]string, error)
	// UpsertOrganization resolves or creates an organization by normalized
	// name. An existing row keeps its display name.
	UpsertOrganization(ctx context.Context, org Organization) (Organization, error)
	// FindOrCreateSpeaker looks up a speaker by profile URL first, then by
	// (normalized name, organization), creating the row when neither matches.
	// The bool result reports whether a new row was created.
	FindOrCreateSpeaker(ctx context.Context, sp Speaker) (Speaker, bool, error)
	// UpdateSpeaker replaces the display fields of an existing speaker row.
	UpdateSpeaker(ctx context.Context, sp Speaker) error
	UpsertSessionSpeakerLinks(ctx context.Context, links []SessionSpeakerLink) error
}

// Mapper lists candidate URLs for a domain.
type Mapper interface {
	Map(ctx context.Context, startURL string) (MapResult, error)
}

// ScrapeClient fetches a page through the page-discovery/scrape API,
// optionally running interaction actions and structured JSON extraction.
type ScrapeClient interface {
	Scrape(ctx context.Context, url string, opts ScrapeOptions) (ScrapeResult, error)
}

// BrowserResponse is one intercepted network response.
type BrowserResponse struct {
	URL      string
	Status   int
	MimeType string
	Body     []byte
}

// BrowserPage is a single headless browser page. OnResponse must be
// registered before Goto; the listener runs concurrently with page driving.
type BrowserPage interface {
	Goto(ctx context.Context, url string, timeout time.Duration) error
	OnResponse(fn func(resp BrowserResponse))
	Evaluate(ctx context.Context, script string) error
	// Get issues an HTTP GET from within the page context, carrying the
	// page's cookies and origin.
	Get(ctx context.Context, url string, timeout time.Duration) (int, []byte, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Browser is the headless-browser automation capability. The core depends
// only on these primitives, not on a particular engine.
type Browser interface {
	NewPage(ctx context.Context) (BrowserPage, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
