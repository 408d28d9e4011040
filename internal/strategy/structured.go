package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/extraction"
)

// StructuredScrapeName identifies the structured strategy in artifacts.
const StructuredScrapeName = "structured_content_scrape"

// StructuredConfig bounds the structured strategy's pass loop.
type StructuredConfig struct {
	PassCap          int
	PlateauMinPasses int
	PlateauZeroRuns  int
	FailureStreak    int
	ScrapeTimeout    time.Duration
	NodeCap          int
}

func (c StructuredConfig) withDefaults() StructuredConfig {
	if c.PassCap <= 0 {
		c.PassCap = 8
	}
	if c.PlateauMinPasses <= 0 {
		c.PlateauMinPasses = 4
	}
	if c.PlateauZeroRuns <= 0 {
		c.PlateauZeroRuns = 2
	}
	if c.FailureStreak <= 0 {
		c.FailureStreak = 2
	}
	if c.ScrapeTimeout <= 0 {
		c.ScrapeTimeout = 60 * time.Second
	}
	if c.NodeCap <= 0 {
		c.NodeCap = 5000
	}
	return c
}

// StructuredScrape asks the scrape API to extract typed session and speaker
// records against a JSON schema. Directory pages are scraped iteratively with
// escalating scroll and click actions until the set of identities plateaus.
type StructuredScrape struct {
	client extraction.ScrapeClient
	clock  extraction.Clock
	cfg    StructuredConfig
	logger *zap.Logger
}

// NewStructuredScrape constructs the structured strategy.
func NewStructuredScrape(client extraction.ScrapeClient, clock extraction.Clock, cfg StructuredConfig, logger *zap.Logger) *StructuredScrape {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructuredScrape{client: client, clock: clock, cfg: cfg.withDefaults(), logger: logger}
}

// Name implements Strategy.
func (s *StructuredScrape) Name() string { return StructuredScrapeName }

// Score implements Strategy. The structured scrape is the universal fallback;
// it works on any page but costs one API call per pass.
func (s *StructuredScrape) Score(extraction.PageClassification) int { return 20 }

// structuredSpeaker is the schema shape for one extracted speaker.
type structuredSpeaker struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Title        string `json:"title"`
	ProfileURL   string `json:"profile_url"`
	Role         string `json:"role"`
}

// structuredSession is the schema shape for one extracted session.
type structuredSession struct {
	Title    string              `json:"title"`
	URL      string              `json:"url"`
	Speakers []structuredSpeaker `json:"speakers"`
}

type sessionPayload struct {
	Sessions []structuredSession `json:"sessions"`
}

type speakerPayload struct {
	Speakers []structuredSpeaker `json:"speakers"`
}

func sessionSchema() map[string]any {
	speakerProps := map[string]any{
		"name":         map[string]any{"type": "string"},
		"organization": map[string]any{"type": "string"},
		"title":        map[string]any{"type": "string"},
		"profile_url":  map[string]any{"type": "string"},
		"role":         map[string]any{"type": "string"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sessions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{"type": "string"},
						"url":   map[string]any{"type": "string"},
						"speakers": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type":       "object",
								"properties": speakerProps,
								"required":   []string{"name"},
							},
						},
					},
					"required": []string{"title"},
				},
			},
		},
		"required": []string{"sessions"},
	}
}

func speakerSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"speakers": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":         map[string]any{"type": "string"},
						"organization": map[string]any{"type": "string"},
						"title":        map[string]any{"type": "string"},
						"profile_url":  map[string]any{"type": "string"},
						"role":         map[string]any{"type": "string"},
					},
					"required": []string{"name"},
				},
			},
		},
		"required": []string{"speakers"},
	}
}

const sessionPrompt = "Extract every conference session listed on this page. " +
	"For each session include its title, its detail-page URL if linked, and " +
	"every speaker shown with their name, organization, job title, profile " +
	"URL, and role."

const speakerPrompt = "Extract every speaker or presenter listed on this " +
	"page with their name, organization, job title, profile URL, and role. " +
	"Include everyone visible, not just the first few."

// passActions builds the escalating interaction set for a directory pass.
// Later passes scroll further and click more load-more controls so that each
// pass can only ever see a superset of the previous one.
func passActions(pass int) []extraction.PageAction {
	actions := []extraction.PageAction{{Type: "wait", Milliseconds: 1500}}
	scrolls := pass
	if scrolls > 4 {
		scrolls = 4
	}
	for i := 0; i < scrolls; i++ {
		actions = append(actions,
			extraction.PageAction{Type: "scroll"},
			extraction.PageAction{Type: "wait", Milliseconds: 800},
		)
	}
	clicks := pass - 1
	if clicks > 2 {
		clicks = 2
	}
	for i := 0; i < clicks; i++ {
		actions = append(actions,
			extraction.PageAction{Type: "click", Selector: "button, a[role='button']"},
			extraction.PageAction{Type: "wait", Milliseconds: 1000},
		)
	}
	return actions
}

// Run implements Strategy.
func (s *StructuredScrape) Run(ctx context.Context, pc extraction.PageClassification, logf LogFunc) (*Result, error) {
	if pc.Mode == extraction.ModeSpeakerDirectory {
		return s.runDirectory(ctx, pc, logf)
	}
	return s.runSession(ctx, pc, logf)
}

// runSession does a single-pass session extraction, falling back to directory
// mode when the page carries speaker signals the session schema missed.
func (s *StructuredScrape) runSession(ctx context.Context, pc extraction.PageClassification, logf LogFunc) (*Result, error) {
	res, err := s.client.Scrape(ctx, pc.URL, extraction.ScrapeOptions{
		ExtractSchema:   sessionSchema(),
		ExtractPrompt:   sessionPrompt,
		OnlyMainContent: true,
		Timeout:         s.cfg.ScrapeTimeout,
	})
	attempt := s.attempt(pc, 1, res, err)
	if err != nil {
		return &Result{Attempts: []extraction.ScrapeAttempt{attempt}, StopReason: StopConsecutiveFailures},
			fmt.Errorf("scrape %s: %w", pc.URL, err)
	}

	var payload sessionPayload
	if len(res.StructuredJSON) > 0 {
		if uErr := json.Unmarshal(res.StructuredJSON, &payload); uErr != nil {
			s.logger.Debug("session payload unmarshal failed", zap.String("url", pc.URL), zap.Error(uErr))
		}
	}

	sessions, appearances := s.fold(pc, payload.Sessions)

	// A page with visible speaker signals the session schema missed gets
	// one second look as a directory. Ambiguity alone is not enough; the
	// retry is gated on the signals the first pass surfaced.
	if len(appearances) == 0 && hasSpeakerSignals(res) {
		logf("no speakers via session schema on %s, retrying as directory", pc.URL)
		dirPC := pc
		dirPC.Mode = extraction.ModeSpeakerDirectory
		dirRes, dirErr := s.runDirectory(ctx, dirPC, logf)
		if dirRes != nil {
			dirRes.Attempts = append([]extraction.ScrapeAttempt{attempt}, dirRes.Attempts...)
			dirRes.Sessions = append(sessions, dirRes.Sessions...)
			return dirRes, dirErr
		}
		return &Result{Sessions: sessions, Attempts: []extraction.ScrapeAttempt{attempt}, StopReason: StopSinglePassComplete}, dirErr
	}

	return &Result{
		Sessions:    sessions,
		Appearances: appearances,
		Attempts:    []extraction.ScrapeAttempt{attempt},
		StopReason:  StopSinglePassComplete,
	}, nil
}

// runDirectory scrapes a speaker directory iteratively until the identity set
// plateaus, two passes in a row fail, or the pass cap is hit.
func (s *StructuredScrape) runDirectory(ctx context.Context, pc extraction.PageClassification, logf LogFunc) (*Result, error) {
	seen := make(map[string]extraction.SpeakerAppearance)
	var order []string
	var attempts []extraction.ScrapeAttempt

	stopReason := StopPassCapReached
	zeroStreak := 0
	failStreak := 0

	for pass := 1; pass <= s.cfg.PassCap; pass++ {
		if err := ctx.Err(); err != nil {
			return s.directoryResult(seen, order, attempts, StopConsecutiveFailures),
				fmt.Errorf("directory scrape cancelled: %w", err)
		}

		res, err := s.client.Scrape(ctx, pc.URL, extraction.ScrapeOptions{
			ExtractSchema:   speakerSchema(),
			ExtractPrompt:   speakerPrompt,
			OnlyMainContent: true,
			Actions:         passActions(pass),
			Timeout:         s.cfg.ScrapeTimeout,
		})
		attempts = append(attempts, s.attempt(pc, pass, res, err))
		if err != nil {
			failStreak++
			logf("directory pass %d failed on %s: %v", pass, pc.URL, err)
			if failStreak >= s.cfg.FailureStreak {
				stopReason = StopConsecutiveFailures
				break
			}
			continue
		}
		failStreak = 0

		added := 0
		for _, sp := range decodeSpeakers(res, s.cfg.NodeCap) {
			a := appearanceFrom(sp, pc.URL)
			key := extraction.IdentityKey(a)
			if _, ok := seen[key]; !ok {
				seen[key] = a
				order = append(order, key)
				added++
			}
		}
		logf("directory pass %d on %s: %d new, %d total", pass, pc.URL, added, len(seen))

		if added == 0 {
			zeroStreak++
		} else {
			zeroStreak = 0
		}
		if pass >= s.cfg.PlateauMinPasses && zeroStreak >= s.cfg.PlateauZeroRuns {
			stopReason = StopPlateauNoGrowth
			break
		}
	}

	return s.directoryResult(seen, order, attempts, stopReason), nil
}

func (s *StructuredScrape) directoryResult(
	seen map[string]extraction.SpeakerAppearance,
	order []string,
	attempts []extraction.ScrapeAttempt,
	stopReason string,
) *Result {
	appearances := make([]extraction.SpeakerAppearance, 0, len(order))
	for _, key := range order {
		appearances = append(appearances, seen[key])
	}
	return &Result{
		Appearances: appearances,
		Attempts:    attempts,
		StopReason:  stopReason,
	}
}

// fold flattens the nested session payload into records and appearances,
// resolving relative URLs against the scraped page.
func (s *StructuredScrape) fold(pc extraction.PageClassification, raw []structuredSession) ([]extraction.SessionRecord, []extraction.SpeakerAppearance) {
	var sessions []extraction.SessionRecord
	var appearances []extraction.SpeakerAppearance
	for _, sess := range raw {
		title := strings.TrimSpace(sess.Title)
		if title == "" {
			continue
		}
		sessURL := resolveURL(pc.URL, sess.URL)
		if sessURL == "" {
			sessURL = pc.URL
		}
		sessions = append(sessions, extraction.SessionRecord{Title: title, URL: sessURL})
		for _, sp := range sess.Speakers {
			a := appearanceFrom(sp, pc.URL)
			if a.Name == "" {
				continue
			}
			a.SessionURL = sessURL
			appearances = append(appearances, a)
		}
	}
	return sessions, appearances
}

// decodeSpeakers reads the flat speaker payload, falling back to the generic
// speaker-like JSON walk when the schema shape does not match.
func decodeSpeakers(res extraction.ScrapeResult, nodeCap int) []structuredSpeaker {
	if len(res.StructuredJSON) == 0 {
		return nil
	}
	var payload speakerPayload
	if err := json.Unmarshal(res.StructuredJSON, &payload); err == nil && len(payload.Speakers) > 0 {
		return payload.Speakers
	}
	var out []structuredSpeaker
	for _, a := range ExtractSpeakerLike(res.StructuredJSON, nodeCap) {
		out = append(out, structuredSpeaker{
			Name:         a.Name,
			Organization: a.Organization,
			Title:        a.Title,
			ProfileURL:   a.ProfileURL,
			Role:         a.Role,
		})
	}
	return out
}

func appearanceFrom(sp structuredSpeaker, pageURL string) extraction.SpeakerAppearance {
	return extraction.SpeakerAppearance{
		Name:         strings.TrimSpace(sp.Name),
		Organization: strings.TrimSpace(sp.Organization),
		Title:        strings.TrimSpace(sp.Title),
		ProfileURL:   resolveURL(pageURL, sp.ProfileURL),
		Role:         strings.TrimSpace(sp.Role),
		SessionURL:   pageURL,
	}
}

// resolveURL makes candidate absolute against base. Empty or unparseable
// candidates resolve to "".
func resolveURL(base, candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return ""
	}
	cu, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	if cu.IsAbs() {
		return cu.String()
	}
	bu, err := url.Parse(base)
	if err != nil {
		return candidate
	}
	return bu.ResolveReference(cu).String()
}

// Markers that suggest the page lists speakers even when structured
// extraction came back empty.
var speakerMarkers = []string{"speaker", "presenter", "keynote", "panelist", "faculty"}

// hasSpeakerSignals inspects the markdown, HTML, and metadata of a scrape
// result for speaker-listing markers.
func hasSpeakerSignals(res extraction.ScrapeResult) bool {
	md := strings.ToLower(res.Markdown)
	for _, m := range speakerMarkers {
		if strings.Contains(md, m) {
			return true
		}
	}
	if res.HTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML)); err == nil {
			found := false
			doc.Find("[class*='speaker'], [id*='speaker'], [class*='presenter']").EachWithBreak(func(_ int, _ *goquery.Selection) bool {
				found = true
				return false
			})
			if found {
				return true
			}
			body := strings.ToLower(doc.Find("body").Text())
			for _, m := range speakerMarkers {
				if strings.Contains(body, m) {
					return true
				}
			}
		}
	}
	for _, v := range res.Metadata {
		if sv, ok := v.(string); ok {
			lower := strings.ToLower(sv)
			for _, m := range speakerMarkers {
				if strings.Contains(lower, m) {
					return true
				}
			}
		}
	}
	return false
}

// attempt builds the per-pass audit artifact.
func (s *StructuredScrape) attempt(pc extraction.PageClassification, pass int, res extraction.ScrapeResult, err error) extraction.ScrapeAttempt {
	a := extraction.ScrapeAttempt{
		URL:        pc.URL,
		Strategy:   StructuredScrapeName,
		Mode:       pc.Mode,
		Pass:       pass,
		Success:    err == nil && len(res.StructuredJSON) > 0,
		RawPayload: res.StructuredJSON,
		Markdown:   res.Markdown,
		HTML:       res.HTML,
		Metadata:   res.Metadata,
		CreatedAt:  s.now(),
	}
	if err != nil {
		a.ErrorText = err.Error()
	}
	return a
}

func (s *StructuredScrape) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
