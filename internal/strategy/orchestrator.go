package strategy

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/extraction"
)

// PageOutcome is what the orchestrator produced for one candidate URL. When
// no strategy yielded a non-empty result, Result is nil and ErrorText carries
// the last failure for the job record.
type PageOutcome struct {
	Classification extraction.PageClassification
	Result         *Result
	Winner         string
	Attempts       []extraction.ScrapeAttempt
	ErrorText      string
}

// Orchestrator scores and orders strategies per page, runs them in priority
// order, and accepts the first non-empty result. Every attempt, including
// failed and empty ones, is retained for audit.
type Orchestrator struct {
	strategies []Strategy
	clock      extraction.Clock
	logger     *zap.Logger
}

// NewOrchestrator constructs an Orchestrator over the given strategies.
func NewOrchestrator(clock extraction.Clock, logger *zap.Logger, strategies ...Strategy) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{strategies: strategies, clock: clock, logger: logger}
}

// ProcessPage classifies nothing itself; the caller supplies the
// classification. Strategies run in descending score order until one returns
// at least one session or appearance. Strategy errors are logged and recorded
// but never abort the page.
func (o *Orchestrator) ProcessPage(ctx context.Context, pc extraction.PageClassification, logf LogFunc) PageOutcome {
	outcome := PageOutcome{Classification: pc}

	ordered := make([]Strategy, len(o.strategies))
	copy(ordered, o.strategies)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score(pc) > ordered[j].Score(pc)
	})

	for _, strat := range ordered {
		if ctx.Err() != nil {
			outcome.ErrorText = ctx.Err().Error()
			return outcome
		}
		res, err := strat.Run(ctx, pc, logf)
		if res != nil {
			outcome.Attempts = append(outcome.Attempts, res.Attempts...)
		}
		if err != nil {
			o.logger.Warn("strategy failed",
				zap.String("strategy", strat.Name()),
				zap.String("url", pc.URL),
				zap.Error(err),
			)
			logf("strategy %s failed on %s: %v", strat.Name(), pc.URL, err)
			outcome.ErrorText = err.Error()
			if res == nil {
				outcome.Attempts = append(outcome.Attempts, extraction.ScrapeAttempt{
					URL:       pc.URL,
					Strategy:  strat.Name(),
					Mode:      pc.Mode,
					Success:   false,
					ErrorText: err.Error(),
					CreatedAt: o.now(),
				})
			}
			continue
		}
		if res.Empty() {
			o.logger.Debug("strategy found nothing",
				zap.String("strategy", strat.Name()),
				zap.String("url", pc.URL),
			)
			continue
		}
		outcome.Result = res
		outcome.Winner = strat.Name()
		outcome.ErrorText = ""
		logf("strategy %s extracted %d sessions, %d appearances from %s (%s)",
			strat.Name(), len(res.Sessions), len(res.Appearances), pc.URL, res.StopReason)
		return outcome
	}

	if outcome.ErrorText == "" {
		outcome.ErrorText = "all strategies returned no results"
	}
	return outcome
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now().UTC()
}
