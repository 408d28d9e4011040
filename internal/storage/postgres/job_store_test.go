package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscope/extractor/internal/extraction"
)

func testJob(now time.Time) extraction.Job {
	return extraction.Job{
		ID:        "job-1",
		EventID:   "evt-1",
		StartURL:  "https://conf.example",
		Status:    extraction.JobStatusQueued,
		LogLines:  []string{"mapping https://conf.example"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := testJob(now)
	counters, err := json.Marshal(job.Counters)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO extraction_jobs").
		WithArgs(
			job.ID,
			job.EventID,
			job.StartURL,
			string(job.Status),
			counters,
			job.LogLines,
			job.MappedURLs,
			job.FilteredURLs,
			job.ProcessedURLs,
			job.ErrorText,
			job.CreatedAt,
			job.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	err = store.CreateJob(context.Background(), extraction.Job{})
	require.Error(t, err)
}

func TestUpdateJobMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	job := testJob(time.Now().UTC())
	counters, err := json.Marshal(job.Counters)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE extraction_jobs").
		WithArgs(
			job.ID,
			string(job.Status),
			counters,
			job.LogLines,
			job.MappedURLs,
			job.FilteredURLs,
			job.ProcessedURLs,
			job.ErrorText,
			job.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateJob(context.Background(), job)
	assert.ErrorIs(t, err, extraction.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	counters := []byte(`{"total_urls_mapped":12,"urls_discovered":5,"urls_targeted":3,"pages_processed":3,"sessions_found":2,"speaker_appearances_found":7,"unique_speakers_found":4,"scrape_errors":1}`)

	mock.ExpectQuery("SELECT id, event_id, start_url").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "event_id", "start_url", "status", "counters", "log_lines",
			"mapped_urls", "filtered_urls", "processed_urls", "error_text",
			"created_at", "updated_at",
		}).AddRow(
			"job-1", "evt-1", "https://conf.example", "complete", counters,
			[]string{"done"}, []string{"https://conf.example/speakers"},
			[]string{"https://conf.example/speakers"}, []string{"https://conf.example/speakers"},
			"", now, now,
		))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, extraction.JobStatusComplete, job.Status)
	assert.Equal(t, 12, job.Counters.TotalURLsMapped)
	assert.Equal(t, 4, job.Counters.UniqueSpeakersFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, event_id, start_url").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, extraction.ErrNotFound)
}

func TestAppendArtifactsInsertsEachRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	attempt := extraction.ScrapeAttempt{
		ID:         "att-1",
		JobID:      "job-1",
		URL:        "https://conf.example/speakers",
		Strategy:   "structured_content_scrape",
		Mode:       extraction.ModeSpeakerDirectory,
		Pass:       1,
		Success:    true,
		RawPayload: json.RawMessage(`{"speakers":[]}`),
		CreatedAt:  now,
	}
	metadata, err := json.Marshal(attempt.Metadata)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO scrape_artifacts").
		WithArgs(
			attempt.ID,
			attempt.JobID,
			attempt.URL,
			attempt.Strategy,
			string(attempt.Mode),
			attempt.Pass,
			attempt.Success,
			[]byte(attempt.RawPayload),
			attempt.Markdown,
			attempt.HTML,
			metadata,
			attempt.ErrorText,
			attempt.BlobURI,
			attempt.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.AppendArtifacts(context.Background(), []extraction.ScrapeAttempt{attempt}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListArtifactsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT id, job_id, url, strategy").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "job_id", "url", "strategy", "mode", "pass", "success",
			"raw_payload", "markdown", "html", "metadata", "error_text", "blob_uri", "created_at",
		}).AddRow(
			"att-1", "job-1", "https://conf.example/speakers", "network_response_probe",
			"speaker_directory", 0, true,
			[]byte(`[]`), "", "", []byte(`{"replays":3}`), "", "", now,
		))

	attempts, err := store.ListArtifacts(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, extraction.ModeSpeakerDirectory, attempts[0].Mode)
	assert.Equal(t, float64(3), attempts[0].Metadata["replays"])
	require.NoError(t, mock.ExpectationsWereMet())
}
