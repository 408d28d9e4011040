// Package strategy implements the pluggable scrape strategies and the
// per-page orchestrator that runs them in priority order.
package strategy

import (
	"context"

	"github.com/eventscope/extractor/internal/extraction"
)

// Stop reasons reported on a strategy result.
const (
	StopPlateauNoGrowth     = "plateau_no_growth"
	StopPassCapReached      = "pass_cap_reached"
	StopConsecutiveFailures = "consecutive_failures"
	StopSinglePassComplete  = "single_pass_complete"
	StopReplayPlateau       = "replay_plateau"
	StopReplayCapReached    = "replay_cap_reached"
	StopReplayCancelled     = "replay_cancelled"
	StopNoPagination        = "no_pagination_detected"
	StopNothingCaptured     = "nothing_captured"
)

// LogFunc receives human-readable progress lines destined for the job's
// bounded log ring.
type LogFunc func(format string, args ...any)

// Result bundles what one strategy extracted from one page, the audit
// artifacts of every pass it ran, and why it stopped.
type Result struct {
	Sessions    []extraction.SessionRecord
	Appearances []extraction.SpeakerAppearance
	Attempts    []extraction.ScrapeAttempt
	StopReason  string
}

// Empty reports whether the strategy found nothing usable; the orchestrator
// moves on to the next strategy when it does.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Sessions) == 0 && len(r.Appearances) == 0)
}

// Strategy is one self-contained algorithm for turning a URL into sessions
// and appearances. Implementations are stateless across pages; everything a
// run needs arrives through the arguments.
type Strategy interface {
	Name() string
	// Score ranks this strategy for the classified page; higher runs first.
	Score(pc extraction.PageClassification) int
	// Run extracts from one page. A non-nil error means the strategy failed
	// outright; an empty result means it found nothing usable. Either way
	// the caller tries the next strategy.
	Run(ctx context.Context, pc extraction.PageClassification, logf LogFunc) (*Result, error)
}
