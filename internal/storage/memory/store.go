// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventscope/extractor/internal/extraction"
)

// JobStore keeps job rows and artifacts in process memory.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]extraction.Job
	artifacts map[string][]extraction.ScrapeAttempt
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[string]extraction.Job),
		artifacts: make(map[string][]extraction.ScrapeAttempt),
	}
}

// CreateJob stores a new job row.
func (s *JobStore) CreateJob(_ context.Context, job extraction.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob snapshots the full job row.
func (s *JobStore) UpdateJob(_ context.Context, job extraction.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return extraction.ErrNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (extraction.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return extraction.Job{}, extraction.ErrNotFound
	}
	return cloneJob(job), nil
}

// AppendArtifacts appends scrape attempts for a job; artifacts are never
// overwritten.
func (s *JobStore) AppendArtifacts(_ context.Context, attempts []extraction.ScrapeAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attempts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		s.artifacts[a.JobID] = append(s.artifacts[a.JobID], a)
	}
	return nil
}

// ListArtifacts returns all recorded attempts for a job in append order.
func (s *JobStore) ListArtifacts(_ context.Context, jobID string) ([]extraction.ScrapeAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]extraction.ScrapeAttempt, len(s.artifacts[jobID]))
	copy(out, s.artifacts[jobID])
	return out, nil
}

func cloneJob(job extraction.Job) extraction.Job {
	cp := job
	cp.LogLines = append([]string(nil), job.LogLines...)
	cp.MappedURLs = append([]string(nil), job.MappedURLs...)
	cp.FilteredURLs = append([]string(nil), job.FilteredURLs...)
	cp.ProcessedURLs = append([]string(nil), job.ProcessedURLs...)
	return cp
}

// EntityStore keeps canonical entities in process memory with the same
// identity semantics as the Postgres gateway.
type EntityStore struct {
	mu sync.Mutex
	// eventID::normalizedURL -> session id
	sessions map[string]string
	// session id -> record
	sessionRows map[string]extraction.SessionRecord
	// normalized name -> organization
	orgs map[string]extraction.Organization
	// eventID::profile::<url> and eventID::nameorg::<name>::<org> -> speaker id
	speakerKeys map[string]string
	speakers    map[string]extraction.Speaker
	// sessionID::speakerID -> link
	links map[string]extraction.SessionSpeakerLink
}

// NewEntityStore constructs an EntityStore.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		sessions:    make(map[string]string),
		sessionRows: make(map[string]extraction.SessionRecord),
		orgs:        make(map[string]extraction.Organization),
		speakerKeys: make(map[string]string),
		speakers:    make(map[string]extraction.Speaker),
		links:       make(map[string]extraction.SessionSpeakerLink),
	}
}

// UpsertSessions inserts sessions keyed by normalized URL, keeping the first
// title on conflict, and returns normalized URL -> id.
func (s *EntityStore) UpsertSessions(_ context.Context, eventID string, sessions []extraction.SessionRecord) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(sessions))
	for _, rec := range sessions {
		normURL := extraction.NormalizeSessionURL(rec.URL)
		if normURL == "" {
			continue
		}
		key := eventID + "::" + normURL
		id, ok := s.sessions[key]
		if !ok {
			id = uuid.NewString()
			s.sessions[key] = id
			s.sessionRows[id] = rec
		}
		out[normURL] = id
	}
	return out, nil
}

// UpsertOrganization resolves or creates an organization by normalized name.
func (s *EntityStore) UpsertOrganization(_ context.Context, org extraction.Organization) (extraction.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orgs[org.NormalizedName]; ok {
		return existing, nil
	}
	org.ID = uuid.NewString()
	s.orgs[org.NormalizedName] = org
	return org, nil
}

// FindOrCreateSpeaker applies the two-tier identity lookup.
func (s *EntityStore) FindOrCreateSpeaker(_ context.Context, sp extraction.Speaker) (extraction.Speaker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profileKey := ""
	if norm := extraction.NormalizeProfileURL(sp.ProfileURL); norm != "" {
		profileKey = sp.EventID + "::profile::" + norm
		if id, ok := s.speakerKeys[profileKey]; ok {
			return s.speakers[id], false, nil
		}
	}
	orgName := ""
	if sp.OrganizationID != "" {
		for _, org := range s.orgs {
			if org.ID == sp.OrganizationID {
				orgName = org.NormalizedName
				break
			}
		}
	}
	nameOrgKey := sp.EventID + "::nameorg::" + sp.NormalizedName + "::" + orgName
	if profileKey == "" {
		if id, ok := s.speakerKeys[nameOrgKey]; ok {
			return s.speakers[id], false, nil
		}
	}

	sp.ID = uuid.NewString()
	s.speakers[sp.ID] = sp
	if profileKey != "" {
		s.speakerKeys[profileKey] = sp.ID
	} else {
		s.speakerKeys[nameOrgKey] = sp.ID
	}
	return sp, true, nil
}

// UpdateSpeaker replaces the display fields of an existing row.
func (s *EntityStore) UpdateSpeaker(_ context.Context, sp extraction.Speaker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.speakers[sp.ID]; !ok {
		return extraction.ErrNotFound
	}
	s.speakers[sp.ID] = sp
	return nil
}

// UpsertSessionSpeakerLinks dedupes links by (session, speaker) with
// last-write-wins on role.
func (s *EntityStore) UpsertSessionSpeakerLinks(_ context.Context, links []extraction.SessionSpeakerLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, link := range links {
		s.links[link.SessionID+"::"+link.SpeakerID] = link
	}
	return nil
}

// SpeakerCount returns the number of persisted speakers (test helper).
func (s *EntityStore) SpeakerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speakers)
}

// LinkCount returns the number of persisted links (test helper).
func (s *EntityStore) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// Speakers returns all persisted speakers (test helper).
func (s *EntityStore) Speakers() []extraction.Speaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]extraction.Speaker, 0, len(s.speakers))
	for _, sp := range s.speakers {
		out = append(out, sp)
	}
	return out
}

// Links returns all persisted links (test helper).
func (s *EntityStore) Links() []extraction.SessionSpeakerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]extraction.SessionSpeakerLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}
