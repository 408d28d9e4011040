// Package postgres provides Postgres-backed persistence implementations.
//
// It assumes a schema like:
//
//	CREATE TABLE extraction_jobs (
//		id TEXT PRIMARY KEY,
//		event_id TEXT NOT NULL,
//		start_url TEXT NOT NULL,
//		status TEXT NOT NULL,
//		counters JSONB NOT NULL DEFAULT '{}',
//		log_lines TEXT[] NOT NULL DEFAULT '{}',
//		mapped_urls TEXT[] NOT NULL DEFAULT '{}',
//		filtered_urls TEXT[] NOT NULL DEFAULT '{}',
//		processed_urls TEXT[] NOT NULL DEFAULT '{}',
//		error_text TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE scrape_artifacts (
//		id TEXT PRIMARY KEY,
//		job_id TEXT NOT NULL REFERENCES extraction_jobs (id),
//		url TEXT NOT NULL,
//		strategy TEXT NOT NULL,
//		mode TEXT NOT NULL,
//		pass INT NOT NULL,
//		success BOOLEAN NOT NULL,
//		raw_payload BYTEA,
//		markdown TEXT NOT NULL DEFAULT '',
//		html TEXT NOT NULL DEFAULT '',
//		metadata JSONB,
//		error_text TEXT NOT NULL DEFAULT '',
//		blob_uri TEXT NOT NULL DEFAULT '',
//		created_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE sessions (
//		id TEXT PRIMARY KEY,
//		event_id TEXT NOT NULL,
//		title TEXT NOT NULL DEFAULT '',
//		url TEXT NOT NULL,
//		normalized_url TEXT NOT NULL,
//		UNIQUE (event_id, normalized_url)
//	);
//
//	CREATE TABLE organizations (
//		id TEXT PRIMARY KEY,
//		name TEXT NOT NULL,
//		normalized_name TEXT NOT NULL UNIQUE
//	);
//
//	CREATE TABLE speakers (
//		id TEXT PRIMARY KEY,
//		event_id TEXT NOT NULL,
//		canonical_name TEXT NOT NULL,
//		normalized_name TEXT NOT NULL,
//		normalized_profile_url TEXT NOT NULL DEFAULT '',
//		organization_id TEXT NOT NULL DEFAULT '',
//		title TEXT NOT NULL DEFAULT '',
//		profile_url TEXT NOT NULL DEFAULT ''
//	);
//
//	CREATE TABLE session_speakers (
//		session_id TEXT NOT NULL REFERENCES sessions (id),
//		speaker_id TEXT NOT NULL REFERENCES speakers (id),
//		role TEXT NOT NULL DEFAULT '',
//		PRIMARY KEY (session_id, speaker_id)
//	);
package postgres
