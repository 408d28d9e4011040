// Package resolver folds speaker appearances into canonical entities, both
// in-memory during a run and against already-persisted rows.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/extraction"
)

// foldedSpeaker is one identity bucket accumulated during a run.
type foldedSpeaker struct {
	best extraction.SpeakerAppearance
	// normalized session URL -> role, last write wins
	sessions map[string]string
}

// Resolver owns the per-run dedup maps. It is created fresh for every run and
// never shared across runs. A mutex guards the maps because the browser
// response listener appends concurrently with the main control flow.
type Resolver struct {
	mu sync.Mutex

	sessions     map[string]extraction.SessionRecord
	sessionOrder []string

	speakers     map[string]*foldedSpeaker
	speakerOrder []string

	logger *zap.Logger
}

// New constructs an empty Resolver.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		sessions: make(map[string]extraction.SessionRecord),
		speakers: make(map[string]*foldedSpeaker),
		logger:   logger,
	}
}

// AddSessions merges session records by normalized URL and returns how many
// were new. On duplicate URLs the first title wins.
func (r *Resolver) AddSessions(records []extraction.SessionRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, rec := range records {
		key := extraction.NormalizeSessionURL(rec.URL)
		if key == "" {
			continue
		}
		if _, ok := r.sessions[key]; ok {
			continue
		}
		r.sessions[key] = rec
		r.sessionOrder = append(r.sessionOrder, key)
		added++
	}
	return added
}

// AddAppearances folds appearances by identity key and returns how many new
// identity buckets appeared. Appearances without a name are discarded. A
// later appearance with a higher completeness score replaces the bucket's
// display fields; session/role references accumulate with last-write-wins
// roles.
func (r *Resolver) AddAppearances(appearances []extraction.SpeakerAppearance) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, a := range appearances {
		if strings.TrimSpace(a.Name) == "" {
			continue
		}
		key := extraction.IdentityKey(a)
		bucket, ok := r.speakers[key]
		if !ok {
			bucket = &foldedSpeaker{best: a, sessions: make(map[string]string)}
			r.speakers[key] = bucket
			r.speakerOrder = append(r.speakerOrder, key)
			added++
		} else if extraction.CompletenessScore(a) > extraction.CompletenessScore(bucket.best) {
			bucket.best = a
		}
		if sessURL := extraction.NormalizeSessionURL(a.SessionURL); sessURL != "" {
			bucket.sessions[sessURL] = a.Role
		}
	}
	return added
}

// SessionCount returns the number of distinct sessions folded so far.
func (r *Resolver) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// UniqueSpeakerCount returns the number of identity buckets folded so far.
func (r *Resolver) UniqueSpeakerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.speakers)
}

// Sessions returns the folded session records in first-seen order.
func (r *Resolver) Sessions() []extraction.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]extraction.SessionRecord, 0, len(r.sessionOrder))
	for _, key := range r.sessionOrder {
		out = append(out, r.sessions[key])
	}
	return out
}

// PersistStats summarizes what Persist wrote.
type PersistStats struct {
	SessionsUpserted int
	SpeakersCreated  int
	SpeakersReused   int
	LinksUpserted    int
	LinksDropped     int
}

// Persist writes the folded state through the entity store: sessions first,
// then organizations, then speakers, then session-speaker links.
// Organizations are resolved before speakers so speaker rows reference a
// stable organization id. Links whose session never resolved are dropped, not
// errored. All store operations are idempotent, so re-running Persist with
// the same folded state does not create duplicate rows.
func (r *Resolver) Persist(ctx context.Context, eventID string, store extraction.EntityStore) (PersistStats, error) {
	r.mu.Lock()
	sessions := make([]extraction.SessionRecord, 0, len(r.sessionOrder))
	for _, key := range r.sessionOrder {
		sessions = append(sessions, r.sessions[key])
	}
	order := append([]string(nil), r.speakerOrder...)
	buckets := make(map[string]*foldedSpeaker, len(r.speakers))
	for k, v := range r.speakers {
		buckets[k] = v
	}
	r.mu.Unlock()

	var stats PersistStats

	sessionIDs, err := store.UpsertSessions(ctx, eventID, sessions)
	if err != nil {
		return stats, fmt.Errorf("upsert sessions: %w", err)
	}
	stats.SessionsUpserted = len(sessionIDs)

	orgCache := make(map[string]string)
	links := make(map[string]extraction.SessionSpeakerLink)

	for _, key := range order {
		bucket := buckets[key]
		best := bucket.best

		orgID := ""
		if normOrg := extraction.NormalizeText(best.Organization); normOrg != "" {
			id, ok := orgCache[normOrg]
			if !ok {
				org, orgErr := store.UpsertOrganization(ctx, extraction.Organization{
					Name:           strings.TrimSpace(best.Organization),
					NormalizedName: normOrg,
				})
				if orgErr != nil {
					return stats, fmt.Errorf("upsert organization %q: %w", best.Organization, orgErr)
				}
				id = org.ID
				orgCache[normOrg] = id
			}
			orgID = id
		}

		speaker, created, err := store.FindOrCreateSpeaker(ctx, extraction.Speaker{
			EventID:        eventID,
			CanonicalName:  strings.TrimSpace(best.Name),
			NormalizedName: extraction.NormalizeText(best.Name),
			OrganizationID: orgID,
			Title:          strings.TrimSpace(best.Title),
			ProfileURL:     strings.TrimSpace(best.ProfileURL),
		})
		if err != nil {
			return stats, fmt.Errorf("find or create speaker %q: %w", best.Name, err)
		}
		if created {
			stats.SpeakersCreated++
		} else {
			stats.SpeakersReused++
			if richer := r.richerSpeaker(speaker, best, orgID); richer != nil {
				if updErr := store.UpdateSpeaker(ctx, *richer); updErr != nil {
					return stats, fmt.Errorf("update speaker %s: %w", speaker.ID, updErr)
				}
			}
		}

		for sessURL, role := range bucket.sessions {
			sessionID, ok := sessionIDs[sessURL]
			if !ok {
				stats.LinksDropped++
				r.logger.Debug("dropping appearance with unresolved session",
					zap.String("speaker", best.Name),
					zap.String("session_url", sessURL),
				)
				continue
			}
			links[sessionID+"::"+speaker.ID] = extraction.SessionSpeakerLink{
				SessionID: sessionID,
				SpeakerID: speaker.ID,
				Role:      role,
			}
		}
	}

	if len(links) > 0 {
		batch := make([]extraction.SessionSpeakerLink, 0, len(links))
		for _, link := range links {
			batch = append(batch, link)
		}
		if err := store.UpsertSessionSpeakerLinks(ctx, batch); err != nil {
			return stats, fmt.Errorf("upsert session speaker links: %w", err)
		}
		stats.LinksUpserted = len(batch)
	}
	return stats, nil
}

// richerSpeaker returns an updated row when the new appearance is strictly
// more complete than the stored one; identity fields are never rewritten so
// each identity bucket keeps mapping to exactly one row.
func (r *Resolver) richerSpeaker(existing extraction.Speaker, best extraction.SpeakerAppearance, orgID string) *extraction.Speaker {
	existingScore := 0
	if existing.OrganizationID != "" {
		existingScore++
	}
	if existing.Title != "" {
		existingScore++
	}
	if existing.ProfileURL != "" {
		existingScore++
	}
	newScore := 0
	if orgID != "" {
		newScore++
	}
	if strings.TrimSpace(best.Title) != "" {
		newScore++
	}
	if strings.TrimSpace(best.ProfileURL) != "" {
		newScore++
	}
	if newScore <= existingScore {
		return nil
	}
	updated := existing
	if orgID != "" {
		updated.OrganizationID = orgID
	}
	if t := strings.TrimSpace(best.Title); t != "" {
		updated.Title = t
	}
	if p := strings.TrimSpace(best.ProfileURL); p != "" && updated.ProfileURL == "" {
		updated.ProfileURL = p
	}
	return &updated
}
