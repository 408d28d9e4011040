package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventscope/extractor/internal/extraction"
)

// Pool is the subset of pgxpool.Pool the stores need; pgxmock implements it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool opens a pgx pool from config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStore persists job rows and append-only scrape artifacts.
type JobStore struct {
	pool Pool
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(pool Pool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const insertJobSQL = `
INSERT INTO extraction_jobs (
	id,
	event_id,
	start_url,
	status,
	counters,
	log_lines,
	mapped_urls,
	filtered_urls,
	processed_urls,
	error_text,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job extraction.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertJobSQL,
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
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

const updateJobSQL = `
UPDATE extraction_jobs SET
	status = $2,
	counters = $3,
	log_lines = $4,
	mapped_urls = $5,
	filtered_urls = $6,
	processed_urls = $7,
	error_text = $8,
	updated_at = $9
WHERE id = $1`

// UpdateJob snapshots the full job row.
func (s *JobStore) UpdateJob(ctx context.Context, job extraction.Job) error {
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tag, err := s.pool.Exec(ctx, updateJobSQL,
		job.ID,
		string(job.Status),
		counters,
		job.LogLines,
		job.MappedURLs,
		job.FilteredURLs,
		job.ProcessedURLs,
		job.ErrorText,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return extraction.ErrNotFound
	}
	return nil
}

const selectJobSQL = `
SELECT id, event_id, start_url, status, counters, log_lines,
	mapped_urls, filtered_urls, processed_urls, error_text,
	created_at, updated_at
FROM extraction_jobs WHERE id = $1`

// GetJob fetches a job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (extraction.Job, error) {
	var (
		job      extraction.Job
		status   string
		counters []byte
	)
	err := s.pool.QueryRow(ctx, selectJobSQL, jobID).Scan(
		&job.ID,
		&job.EventID,
		&job.StartURL,
		&status,
		&counters,
		&job.LogLines,
		&job.MappedURLs,
		&job.FilteredURLs,
		&job.ProcessedURLs,
		&job.ErrorText,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return extraction.Job{}, extraction.ErrNotFound
	}
	if err != nil {
		return extraction.Job{}, fmt.Errorf("select job %s: %w", jobID, err)
	}
	job.Status = extraction.JobStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &job.Counters); err != nil {
			return extraction.Job{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	return job, nil
}

const insertArtifactSQL = `
INSERT INTO scrape_artifacts (
	id,
	job_id,
	url,
	strategy,
	mode,
	pass,
	success,
	raw_payload,
	markdown,
	html,
	metadata,
	error_text,
	blob_uri,
	created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING`

// AppendArtifacts inserts scrape attempts. Rows are append-only; replayed
// inserts with the same ID are ignored.
func (s *JobStore) AppendArtifacts(ctx context.Context, attempts []extraction.ScrapeAttempt) error {
	for _, a := range attempts {
		if a.ID == "" || a.JobID == "" {
			return fmt.Errorf("artifact id and job id are required")
		}
		metadata, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal artifact metadata: %w", err)
		}
		_, err = s.pool.Exec(ctx, insertArtifactSQL,
			a.ID,
			a.JobID,
			a.URL,
			a.Strategy,
			string(a.Mode),
			a.Pass,
			a.Success,
			[]byte(a.RawPayload),
			a.Markdown,
			a.HTML,
			metadata,
			a.ErrorText,
			a.BlobURI,
			a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert artifact %s: %w", a.ID, err)
		}
	}
	return nil
}

const selectArtifactsSQL = `
SELECT id, job_id, url, strategy, mode, pass, success,
	raw_payload, markdown, html, metadata, error_text, blob_uri, created_at
FROM scrape_artifacts WHERE job_id = $1
ORDER BY created_at, id`

// ListArtifacts returns all artifacts for a job in insertion order.
func (s *JobStore) ListArtifacts(ctx context.Context, jobID string) ([]extraction.ScrapeAttempt, error) {
	rows, err := s.pool.Query(ctx, selectArtifactsSQL, jobID)
	if err != nil {
		return nil, fmt.Errorf("select artifacts for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []extraction.ScrapeAttempt
	for rows.Next() {
		var (
			a        extraction.ScrapeAttempt
			mode     string
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(
			&a.ID,
			&a.JobID,
			&a.URL,
			&a.Strategy,
			&mode,
			&a.Pass,
			&a.Success,
			&payload,
			&a.Markdown,
			&a.HTML,
			&metadata,
			&a.ErrorText,
			&a.BlobURI,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		a.Mode = extraction.PageMode(mode)
		a.RawPayload = json.RawMessage(payload)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal artifact metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact rows: %w", err)
	}
	return out, nil
}
