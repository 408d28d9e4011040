package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/eventscope/extractor/internal/extraction"
)

// EntityStore performs idempotent upserts for canonical entities. Conflict
// targets mirror the identity rules: sessions by (event, normalized URL),
// organizations globally by normalized name, speakers per event by profile
// URL first and (normalized name, organization) second.
type EntityStore struct {
	pool Pool
	ids  extraction.IDGenerator
}

// NewEntityStore constructs an EntityStore over an existing pool.
func NewEntityStore(pool Pool, ids extraction.IDGenerator) (*EntityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &EntityStore{pool: pool, ids: ids}, nil
}

const upsertSessionSQL = `
INSERT INTO sessions (id, event_id, title, url, normalized_url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (event_id, normalized_url)
DO UPDATE SET normalized_url = EXCLUDED.normalized_url
RETURNING id`

// UpsertSessions writes session rows keyed by normalized URL and returns the
// normalized-URL -> id mapping. An existing row keeps its original title.
func (s *EntityStore) UpsertSessions(ctx context.Context, eventID string, sessions []extraction.SessionRecord) (map[string]string, error) {
	out := make(map[string]string, len(sessions))
	for _, rec := range sessions {
		normURL := extraction.NormalizeSessionURL(rec.URL)
		if normURL == "" {
			continue
		}
		if _, done := out[normURL]; done {
			continue
		}
		newID, err := s.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		var id string
		err = s.pool.QueryRow(ctx, upsertSessionSQL,
			newID, eventID, rec.Title, rec.URL, normURL,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("upsert session %s: %w", rec.URL, err)
		}
		out[normURL] = id
	}
	return out, nil
}

const upsertOrganizationSQL = `
INSERT INTO organizations (id, name, normalized_name)
VALUES ($1, $2, $3)
ON CONFLICT (normalized_name)
DO UPDATE SET normalized_name = EXCLUDED.normalized_name
RETURNING id, name`

// UpsertOrganization resolves or creates an organization by normalized name.
// An existing row keeps its display name.
func (s *EntityStore) UpsertOrganization(ctx context.Context, org extraction.Organization) (extraction.Organization, error) {
	if org.NormalizedName == "" {
		return extraction.Organization{}, fmt.Errorf("normalized organization name is required")
	}
	newID, err := s.ids.NewID()
	if err != nil {
		return extraction.Organization{}, fmt.Errorf("generate organization id: %w", err)
	}
	out := extraction.Organization{NormalizedName: org.NormalizedName}
	err = s.pool.QueryRow(ctx, upsertOrganizationSQL,
		newID, org.Name, org.NormalizedName,
	).Scan(&out.ID, &out.Name)
	if err != nil {
		return extraction.Organization{}, fmt.Errorf("upsert organization %s: %w", org.NormalizedName, err)
	}
	return out, nil
}

const selectSpeakerByProfileSQL = `
SELECT id, event_id, canonical_name, normalized_name, organization_id, title, profile_url
FROM speakers WHERE event_id = $1 AND normalized_profile_url = $2`

const selectSpeakerByNameOrgSQL = `
SELECT id, event_id, canonical_name, normalized_name, organization_id, title, profile_url
FROM speakers WHERE event_id = $1 AND normalized_name = $2 AND organization_id = $3
	AND normalized_profile_url = ''`

const insertSpeakerSQL = `
INSERT INTO speakers (
	id, event_id, canonical_name, normalized_name, normalized_profile_url,
	organization_id, title, profile_url
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// FindOrCreateSpeaker looks a speaker up by profile URL first, then by
// (normalized name, organization), creating the row when neither matches.
func (s *EntityStore) FindOrCreateSpeaker(ctx context.Context, sp extraction.Speaker) (extraction.Speaker, bool, error) {
	normProfile := extraction.NormalizeProfileURL(sp.ProfileURL)

	var row pgx.Row
	if normProfile != "" {
		row = s.pool.QueryRow(ctx, selectSpeakerByProfileSQL, sp.EventID, normProfile)
	} else {
		row = s.pool.QueryRow(ctx, selectSpeakerByNameOrgSQL, sp.EventID, sp.NormalizedName, sp.OrganizationID)
	}
	existing, err := scanSpeaker(row)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return extraction.Speaker{}, false, fmt.Errorf("select speaker: %w", err)
	}

	newID, err := s.ids.NewID()
	if err != nil {
		return extraction.Speaker{}, false, fmt.Errorf("generate speaker id: %w", err)
	}
	sp.ID = newID
	_, err = s.pool.Exec(ctx, insertSpeakerSQL,
		sp.ID,
		sp.EventID,
		sp.CanonicalName,
		sp.NormalizedName,
		normProfile,
		sp.OrganizationID,
		sp.Title,
		sp.ProfileURL,
	)
	if err != nil {
		return extraction.Speaker{}, false, fmt.Errorf("insert speaker %s: %w", sp.CanonicalName, err)
	}
	return sp, true, nil
}

func scanSpeaker(row pgx.Row) (extraction.Speaker, error) {
	var sp extraction.Speaker
	err := row.Scan(
		&sp.ID,
		&sp.EventID,
		&sp.CanonicalName,
		&sp.NormalizedName,
		&sp.OrganizationID,
		&sp.Title,
		&sp.ProfileURL,
	)
	return sp, err
}

const updateSpeakerSQL = `
UPDATE speakers SET
	canonical_name = $2,
	normalized_name = $3,
	organization_id = $4,
	title = $5,
	profile_url = $6,
	normalized_profile_url = $7
WHERE id = $1`

// UpdateSpeaker replaces the display fields of an existing speaker row.
func (s *EntityStore) UpdateSpeaker(ctx context.Context, sp extraction.Speaker) error {
	tag, err := s.pool.Exec(ctx, updateSpeakerSQL,
		sp.ID,
		sp.CanonicalName,
		sp.NormalizedName,
		sp.OrganizationID,
		sp.Title,
		sp.ProfileURL,
		extraction.NormalizeProfileURL(sp.ProfileURL),
	)
	if err != nil {
		return fmt.Errorf("update speaker %s: %w", sp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return extraction.ErrNotFound
	}
	return nil
}

const upsertLinkSQL = `
INSERT INTO session_speakers (session_id, speaker_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (session_id, speaker_id)
DO UPDATE SET role = EXCLUDED.role`

// UpsertSessionSpeakerLinks writes links with last-write-wins on role.
func (s *EntityStore) UpsertSessionSpeakerLinks(ctx context.Context, links []extraction.SessionSpeakerLink) error {
	for _, link := range links {
		if link.SessionID == "" || link.SpeakerID == "" {
			return fmt.Errorf("session id and speaker id are required")
		}
		if _, err := s.pool.Exec(ctx, upsertLinkSQL, link.SessionID, link.SpeakerID, link.Role); err != nil {
			return fmt.Errorf("upsert link %s/%s: %w", link.SessionID, link.SpeakerID, err)
		}
	}
	return nil
}
