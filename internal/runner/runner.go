// Package runner drives one extraction run end to end: mapping, filtering,
// per-page strategy orchestration, identity resolution, and persistence. The
// job row it maintains is the only externally observable progress channel.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/extraction"
	"github.com/eventscope/extractor/internal/hash/sha256"
	"github.com/eventscope/extractor/internal/metrics"
	"github.com/eventscope/extractor/internal/policy/ratelimit"
	"github.com/eventscope/extractor/internal/resolver"
	"github.com/eventscope/extractor/internal/strategy"
)

// ErrInvalidRequest marks input validation failures that happen before a job
// row exists. The API layer maps these to 400.
var ErrInvalidRequest = errors.New("invalid request")

// Config bounds one run.
type Config struct {
	// MaxPages caps how many classified pages one run processes.
	MaxPages int
	// BlobThreshold offloads artifact payloads larger than this many bytes
	// to the blob store. Zero keeps everything inline.
	BlobThreshold int
	// CompletionTopic receives a JSON event when a run reaches a terminal
	// status. Empty disables publishing.
	CompletionTopic string
	// PageQPS throttles page processing per domain. Zero disables the
	// limiter.
	PageQPS float64
}

// Engine owns the run loop. One Engine serves many concurrent runs; all
// per-run state lives on the stack.
type Engine struct {
	cfg       Config
	jobs      extraction.JobStore
	entities  extraction.EntityStore
	mapper    extraction.Mapper
	orch      *strategy.Orchestrator
	blobs     extraction.BlobStore
	publisher extraction.Publisher
	clock     extraction.Clock
	ids       extraction.IDGenerator
	hasher    *sha256.Hasher
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// New wires an Engine. Blob store and publisher are optional; pass nil to
// disable offloading and completion events.
func New(
	cfg Config,
	jobs extraction.JobStore,
	entities extraction.EntityStore,
	mapper extraction.Mapper,
	orch *strategy.Orchestrator,
	blobs extraction.BlobStore,
	publisher extraction.Publisher,
	clock extraction.Clock,
	ids extraction.IDGenerator,
	logger *zap.Logger,
) *Engine {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 15
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *ratelimit.Limiter
	if cfg.PageQPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.PageQPS})
	}
	metrics.Init()
	return &Engine{
		cfg:       cfg,
		jobs:      jobs,
		entities:  entities,
		mapper:    mapper,
		orch:      orch,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		hasher:    sha256.New(),
		limiter:   limiter,
		logger:    logger,
	}
}

// Request identifies what to extract.
type Request struct {
	EventID  string
	StartURL string
}

func (r Request) validate() error {
	if r.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}
	u, err := url.Parse(r.StartURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return fmt.Errorf("%w: start_url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}

// Run executes one extraction synchronously and returns its summary. The job
// row transitions queued -> crawling -> extracting -> saving -> complete, or
// to failed on the first unrecoverable error. Cancellation of ctx fails the
// job with a cancellation note; the terminal snapshot is still persisted.
func (e *Engine) Run(ctx context.Context, req Request) (extraction.RunSummary, error) {
	if err := req.validate(); err != nil {
		return extraction.RunSummary{}, err
	}

	jobID, err := e.ids.NewID()
	if err != nil {
		return extraction.RunSummary{}, fmt.Errorf("generate job id: %w", err)
	}

	start := e.clock.Now()
	job := extraction.Job{
		ID:        jobID,
		EventID:   req.EventID,
		StartURL:  req.StartURL,
		Status:    extraction.JobStatusQueued,
		CreatedAt: start,
		UpdatedAt: start,
	}
	if err := e.jobs.CreateJob(ctx, job); err != nil {
		return extraction.RunSummary{}, fmt.Errorf("create job: %w", err)
	}

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	summary, runErr := e.run(ctx, &job)

	status := string(job.Status)
	metrics.ObserveJob(status)
	metrics.ObserveRunDuration(status, e.clock.Now().Sub(start))
	e.notify(ctx, &job)
	return summary, runErr
}

func (e *Engine) run(ctx context.Context, job *extraction.Job) (extraction.RunSummary, error) {
	log := e.logger.With(zap.String("job_id", job.ID), zap.String("event_id", job.EventID))
	logf := func(format string, args ...any) {
		job.AppendLog(fmt.Sprintf(format, args...))
	}

	// crawling: map the site and narrow the URL set
	e.transition(ctx, job, extraction.JobStatusCrawling)
	logf("mapping %s", job.StartURL)
	mapped, err := e.mapper.Map(ctx, job.StartURL)
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("map site: %w", err))
	}
	filtered, err := extraction.FilterURLs(job.StartURL, mapped.Links)
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("filter urls: %w", err))
	}
	targets := extraction.SelectTargets(filtered, e.cfg.MaxPages)

	job.MappedURLs = mapped.Links
	job.FilteredURLs = filtered
	job.Counters.TotalURLsMapped = mapped.TotalLinks
	job.Counters.URLsDiscovered = len(filtered)
	job.Counters.URLsTargeted = len(targets)
	logf("mapped %d urls, %d in scope, %d targeted", mapped.TotalLinks, len(filtered), len(targets))
	log.Info("site mapped",
		zap.Int("total", mapped.TotalLinks),
		zap.Int("filtered", len(filtered)),
		zap.Int("targeted", len(targets)),
	)
	e.snapshot(ctx, job)

	// extracting: run strategies page by page
	e.transition(ctx, job, extraction.JobStatusExtracting)
	res := resolver.New(log)
	for _, target := range targets {
		if ctx.Err() != nil {
			return e.cancel(ctx, job)
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, target); err != nil {
				return e.cancel(ctx, job)
			}
		}
		pc := extraction.ClassifyPage(target)
		outcome := e.orch.ProcessPage(ctx, pc, logf)

		e.recordArtifacts(ctx, job, outcome.Attempts)
		if ctx.Err() != nil {
			// Cancellation landed while this page's strategies ran; the page
			// did not complete, so it stays off the processed list.
			return e.cancel(ctx, job)
		}
		job.Counters.PagesProcessed++
		job.ProcessedURLs = append(job.ProcessedURLs, target)

		if outcome.Result == nil {
			job.Counters.ScrapeErrors++
			metrics.ObservePage(target, "miss")
			logf("no extraction from %s: %s", target, outcome.ErrorText)
		} else {
			res.AddSessions(outcome.Result.Sessions)
			res.AddAppearances(outcome.Result.Appearances)
			job.Counters.SessionsFound = res.SessionCount()
			job.Counters.SpeakerAppearancesFound += len(outcome.Result.Appearances)
			job.Counters.UniqueSpeakersFound = res.UniqueSpeakerCount()
			metrics.ObservePage(target, "extracted")
			metrics.ObserveAppearances(target, len(outcome.Result.Appearances))
		}
		e.snapshot(ctx, job)
	}
	if ctx.Err() != nil {
		return e.cancel(ctx, job)
	}

	// saving: resolve identities into canonical rows
	e.transition(ctx, job, extraction.JobStatusSaving)
	stats, err := res.Persist(ctx, job.EventID, e.entities)
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("persist entities: %w", err))
	}
	logf("persisted %d sessions, %d new speakers, %d reused, %d links",
		stats.SessionsUpserted, stats.SpeakersCreated, stats.SpeakersReused, stats.LinksUpserted)
	log.Info("entities persisted",
		zap.Int("sessions", stats.SessionsUpserted),
		zap.Int("speakers_created", stats.SpeakersCreated),
		zap.Int("speakers_reused", stats.SpeakersReused),
		zap.Int("links", stats.LinksUpserted),
		zap.Int("links_dropped", stats.LinksDropped),
	)

	job.Counters.UniqueSpeakersFound = res.UniqueSpeakerCount()
	e.transition(ctx, job, extraction.JobStatusComplete)
	return e.summary(job, len(job.ProcessedURLs)), nil
}

// recordArtifacts stamps, optionally offloads, and appends scrape attempts.
func (e *Engine) recordArtifacts(ctx context.Context, job *extraction.Job, attempts []extraction.ScrapeAttempt) {
	if len(attempts) == 0 {
		return
	}
	// Artifacts are audit records; they are written even when the run's
	// context has already been cancelled.
	ctx = context.WithoutCancel(ctx)
	for i := range attempts {
		a := &attempts[i]
		a.JobID = job.ID
		if a.ID == "" {
			if id, err := e.ids.NewID(); err == nil {
				a.ID = id
			}
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = e.clock.Now()
		}
		metrics.ObserveAttempt(a.Strategy, a.Success)
		e.offload(ctx, a)
	}
	if err := e.jobs.AppendArtifacts(ctx, attempts); err != nil {
		e.logger.Warn("append artifacts failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// offload moves oversized inline payloads to the blob store, leaving a URI
// behind on the artifact row.
func (e *Engine) offload(ctx context.Context, a *extraction.ScrapeAttempt) {
	if e.blobs == nil || e.cfg.BlobThreshold <= 0 {
		return
	}
	if len(a.RawPayload)+len(a.HTML) <= e.cfg.BlobThreshold {
		return
	}
	body := append([]byte(nil), a.RawPayload...)
	contentType := "application/json"
	if len(body) == 0 {
		body = []byte(a.HTML)
		contentType = "text/html"
	}
	digest, err := e.hasher.Hash(body)
	if err != nil {
		e.logger.Warn("artifact digest failed", zap.String("attempt_id", a.ID), zap.Error(err))
		return
	}
	// Content-addressed paths deduplicate identical payloads across attempts.
	path := fmt.Sprintf("jobs/%s/blobs/%s", a.JobID, digest)
	uri, err := e.blobs.PutObject(ctx, path, contentType, body)
	if err != nil {
		e.logger.Warn("artifact offload failed", zap.String("path", path), zap.Error(err))
		return
	}
	a.BlobURI = uri
	a.RawPayload = nil
	a.HTML = ""
}

// transition moves the job to the next status and snapshots it.
func (e *Engine) transition(ctx context.Context, job *extraction.Job, status extraction.JobStatus) {
	job.Status = status
	job.UpdatedAt = e.clock.Now()
	e.snapshot(ctx, job)
}

// snapshot persists the current job row; failures are logged, never fatal.
func (e *Engine) snapshot(ctx context.Context, job *extraction.Job) {
	job.UpdatedAt = e.clock.Now()
	if err := e.jobs.UpdateJob(context.WithoutCancel(ctx), *job); err != nil {
		e.logger.Warn("job snapshot failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// fail marks the job failed with the error and returns it.
func (e *Engine) fail(ctx context.Context, job *extraction.Job, err error) (extraction.RunSummary, error) {
	job.ErrorText = err.Error()
	job.AppendLog(err.Error())
	e.transition(ctx, job, extraction.JobStatusFailed)
	e.logger.Error("run failed", zap.String("job_id", job.ID), zap.Error(err))
	return e.summary(job, len(job.ProcessedURLs)), err
}

// cancel marks the job failed due to caller cancellation. The terminal
// snapshot is written on a detached context.
func (e *Engine) cancel(ctx context.Context, job *extraction.Job) (extraction.RunSummary, error) {
	err := fmt.Errorf("run cancelled: %w", context.Cause(ctx))
	job.ErrorText = err.Error()
	job.AppendLog("cancelled")
	e.transition(ctx, job, extraction.JobStatusFailed)
	e.logger.Warn("run cancelled", zap.String("job_id", job.ID))
	return e.summary(job, len(job.ProcessedURLs)), err
}

// notify publishes the terminal job state. Best effort; the run result never
// depends on it.
func (e *Engine) notify(ctx context.Context, job *extraction.Job) {
	if e.publisher == nil || e.cfg.CompletionTopic == "" {
		return
	}
	event := map[string]any{
		"job_id":   job.ID,
		"event_id": job.EventID,
		"status":   string(job.Status),
		"counters": job.Counters,
	}
	id, err := e.publisher.Publish(context.WithoutCancel(ctx), e.cfg.CompletionTopic, event)
	if err != nil {
		e.logger.Warn("completion publish failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	e.logger.Debug("completion published", zap.String("job_id", job.ID), zap.String("message_id", id))
}

func (e *Engine) summary(job *extraction.Job, processed int) extraction.RunSummary {
	return extraction.RunSummary{
		EventID:                 job.EventID,
		JobID:                   job.ID,
		TotalMappedURLs:         job.Counters.TotalURLsMapped,
		FilteredURLsCount:       job.Counters.URLsDiscovered,
		TargetedSessionURLs:     job.Counters.URLsTargeted,
		ProcessedURLsCount:      processed,
		ScrapeErrorsCount:       job.Counters.ScrapeErrors,
		SessionsFound:           job.Counters.SessionsFound,
		SpeakerAppearancesFound: job.Counters.SpeakerAppearancesFound,
		UniqueSpeakersFound:     job.Counters.UniqueSpeakersFound,
	}
}
