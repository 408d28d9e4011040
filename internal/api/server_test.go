package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscope/extractor/internal/clock/system"
	"github.com/eventscope/extractor/internal/config"
	"github.com/eventscope/extractor/internal/extraction"
	"github.com/eventscope/extractor/internal/id/uuid"
	"github.com/eventscope/extractor/internal/runner"
	"github.com/eventscope/extractor/internal/storage/memory"
	"github.com/eventscope/extractor/internal/strategy"
)

type fixedMapper struct {
	links []string
	err   error
}

func (m *fixedMapper) Map(context.Context, string) (extraction.MapResult, error) {
	if m.err != nil {
		return extraction.MapResult{}, m.err
	}
	return extraction.MapResult{TotalLinks: len(m.links), Links: m.links}, nil
}

type fixedStrategy struct {
	results map[string]*strategy.Result
}

func (s *fixedStrategy) Name() string                            { return "fixed" }
func (s *fixedStrategy) Score(extraction.PageClassification) int { return 50 }

func (s *fixedStrategy) Run(_ context.Context, pc extraction.PageClassification, _ strategy.LogFunc) (*strategy.Result, error) {
	if res, ok := s.results[pc.URL]; ok {
		return res, nil
	}
	return &strategy.Result{}, nil
}

func newTestServer(t *testing.T, cfg config.Config, mapper extraction.Mapper, strat strategy.Strategy) (*Server, *memory.JobStore) {
	t.Helper()
	jobs := memory.NewJobStore()
	orch := strategy.NewOrchestrator(system.New(), nil, strat)
	engine := runner.New(runner.Config{MaxPages: 10}, jobs, memory.NewEntityStore(),
		mapper, orch, nil, nil, system.New(), uuid.NewUUIDGenerator(), nil)
	return NewServer(engine, jobs, cfg, nil), jobs
}

func speakersPage(url string, names ...string) *strategy.Result {
	res := &strategy.Result{
		Sessions: []extraction.SessionRecord{{Title: "Session", URL: url}},
		Attempts: []extraction.ScrapeAttempt{{URL: url, Strategy: "fixed", Success: true}},
	}
	for _, n := range names {
		res.Appearances = append(res.Appearances, extraction.SpeakerAppearance{
			Name:       n,
			SessionURL: url,
		})
	}
	return res
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{}, &fixedMapper{}, &fixedStrategy{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestTriggerRunReturnsSummary(t *testing.T) {
	speakersURL := "https://conf.example/speakers"
	srv, jobs := newTestServer(t, config.Config{},
		&fixedMapper{links: []string{"https://conf.example/", speakersURL}},
		&fixedStrategy{results: map[string]*strategy.Result{
			speakersURL: speakersPage(speakersURL, "Jane Doe", "John Smith"),
		}},
	)

	body := bytes.NewBufferString(`{"event_id":"evt-1","start_url":"https://conf.example/"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/extraction/map", body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary extraction.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "evt-1", summary.EventID)
	assert.NotEmpty(t, summary.JobID)
	assert.Equal(t, 2, summary.TotalMappedURLs)
	assert.Equal(t, 2, summary.SpeakerAppearancesFound)
	assert.Equal(t, 2, summary.UniqueSpeakersFound)

	job, err := jobs.GetJob(context.Background(), summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, extraction.JobStatusComplete, job.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestTriggerRunRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{}, &fixedMapper{}, &fixedStrategy{})

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"event_id":`},
		{"missing event", `{"start_url":"https://conf.example/"}`},
		{"relative url", `{"event_id":"evt-1","start_url":"/speakers"}`},
		{"wrong scheme", `{"event_id":"evt-1","start_url":"ftp://conf.example/"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/extraction/map", bytes.NewBufferString(tc.body))
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestTriggerRunReportsFailedJob(t *testing.T) {
	srv, jobs := newTestServer(t, config.Config{},
		&fixedMapper{err: errors.New("dns failure")}, &fixedStrategy{})

	body := bytes.NewBufferString(`{"event_id":"evt-1","start_url":"https://conf.example/"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/extraction/map", body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Summary extraction.RunSummary `json:"summary"`
		Error   string                `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Error, "dns failure")
	require.NotEmpty(t, out.Summary.JobID)

	job, err := jobs.GetJob(context.Background(), out.Summary.JobID)
	require.NoError(t, err)
	assert.Equal(t, extraction.JobStatusFailed, job.Status)
}

func TestGetJob(t *testing.T) {
	srv, jobs := newTestServer(t, config.Config{}, &fixedMapper{}, &fixedStrategy{})

	require.NoError(t, jobs.CreateJob(context.Background(), extraction.Job{
		ID:      "job-1",
		EventID: "evt-1",
		Status:  extraction.JobStatusComplete,
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extraction/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var job extraction.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, extraction.JobStatusComplete, job.Status)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extraction/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobArtifacts(t *testing.T) {
	srv, jobs := newTestServer(t, config.Config{}, &fixedMapper{}, &fixedStrategy{})

	require.NoError(t, jobs.CreateJob(context.Background(), extraction.Job{ID: "job-1"}))
	require.NoError(t, jobs.AppendArtifacts(context.Background(), []extraction.ScrapeAttempt{
		{ID: "att-1", JobID: "job-1", URL: "https://conf.example/speakers", Strategy: "fixed"},
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extraction/jobs/job-1/artifacts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		JobID     string                    `json:"job_id"`
		Artifacts []extraction.ScrapeAttempt `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "job-1", out.JobID)
	require.Len(t, out.Artifacts, 1)
	assert.Equal(t, "att-1", out.Artifacts[0].ID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extraction/jobs/missing/artifacts", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv, _ := newTestServer(t, cfg, &fixedMapper{}, &fixedStrategy{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extraction/jobs/job-1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/extraction/jobs/job-1", nil)
	req.Header.Set("X-API-Key", "secret")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/extraction/jobs/job-1?api_key=secret", nil)
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
