package extraction

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

// Job status values persisted in the job store. Transitions run strictly
// queued -> crawling -> extracting -> saving -> {complete | failed}; a failed
// run is never retried in place, a new job row is created instead.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusCrawling   JobStatus = "crawling"
	JobStatusExtracting JobStatus = "extracting"
	JobStatusSaving     JobStatus = "saving"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status allows no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// JobCounters tracks extraction progress per job.
type JobCounters struct {
	TotalURLsMapped         int `json:"total_urls_mapped"`
	URLsDiscovered          int `json:"urls_discovered"`
	URLsTargeted            int `json:"urls_targeted"`
	PagesProcessed          int `json:"pages_processed"`
	SessionsFound           int `json:"sessions_found"`
	SpeakerAppearancesFound int `json:"speaker_appearances_found"`
	UniqueSpeakersFound     int `json:"unique_speakers_found"`
	ScrapeErrors            int `json:"scrape_errors"`
}

// MaxJobLogLines bounds the log ring carried on the job row.
const MaxJobLogLines = 20

// Job is the persisted record for one extraction run. It is created once per
// run and then mutated in place by the owning run until terminal; the row is
// the only externally observable progress channel.
type Job struct {
	ID            string      `json:"id"`
	EventID       string      `json:"event_id"`
	StartURL      string      `json:"start_url"`
	Status        JobStatus   `json:"status"`
	Counters      JobCounters `json:"counters"`
	LogLines      []string    `json:"log_lines,omitempty"`
	MappedURLs    []string    `json:"mapped_urls,omitempty"`
	FilteredURLs  []string    `json:"filtered_urls,omitempty"`
	ProcessedURLs []string    `json:"processed_urls,omitempty"`
	ErrorText     string      `json:"error_text,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// AppendLog pushes a line onto the bounded log ring, evicting the oldest
// entries beyond MaxJobLogLines.
func (j *Job) AppendLog(line string) {
	j.LogLines = append(j.LogLines, line)
	if overflow := len(j.LogLines) - MaxJobLogLines; overflow > 0 {
		j.LogLines = append([]string(nil), j.LogLines[overflow:]...)
	}
}

// PageMode classifies what kind of listing a candidate page is expected to be.
type PageMode string

// Supported page modes.
const (
	ModeSession          PageMode = "session"
	ModeSpeakerDirectory PageMode = "speaker_directory"
)

// PageClassification is the classifier verdict for one candidate URL. It is
// derived purely from path/query keywords and never persisted.
type PageClassification struct {
	URL       string
	Mode      PageMode
	Ambiguous bool
}

// SessionRecord is one discovered session. Identity key is the normalized URL
// with the fragment stripped; within a run the first title wins on merge.
type SessionRecord struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SpeakerAppearance is one sighting of a speaker on one session or page,
// before deduplication. It exists only during a run.
type SpeakerAppearance struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Title        string `json:"title,omitempty"`
	ProfileURL   string `json:"profile_url,omitempty"`
	Role         string `json:"role,omitempty"`
	SessionURL   string `json:"session_url,omitempty"`
}

// ScrapeAttempt is the append-only audit artifact recorded for every strategy
// invocation, successful or not.
type ScrapeAttempt struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	URL        string          `json:"url"`
	Strategy   string          `json:"strategy"`
	Mode       PageMode        `json:"mode"`
	Pass       int             `json:"pass"`
	Success    bool            `json:"success"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	Markdown   string          `json:"markdown,omitempty"`
	HTML       string          `json:"html,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	ErrorText  string          `json:"error_text,omitempty"`
	BlobURI    string          `json:"blob_uri,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Organization is a canonical, global entity keyed by normalized name.
// Created on first sighting and never deleted; the display name does not
// change once created.
type Organization struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
}

// Speaker is a canonical entity scoped to one event. Unique per event by
// profile URL when present, else by (normalized name, normalized org name).
type Speaker struct {
	ID             string `json:"id"`
	EventID        string `json:"event_id"`
	CanonicalName  string `json:"canonical_name"`
	NormalizedName string `json:"normalized_name"`
	OrganizationID string `json:"organization_id,omitempty"`
	Title          string `json:"title,omitempty"`
	ProfileURL     string `json:"profile_url,omitempty"`
}

// SessionSpeakerLink joins a speaker to a session. Unique per
// (session, speaker); role is last-write-wins within a run.
type SessionSpeakerLink struct {
	SessionID string `json:"session_id"`
	SpeakerID string `json:"speaker_id"`
	Role      string `json:"role,omitempty"`
}

// MapResult is what the page-discovery API returns for a domain.
type MapResult struct {
	TotalLinks int
	Links      []string
}

// PageAction describes one browser interaction requested from the scrape API.
type PageAction struct {
	Type         string `json:"type"` // "wait", "scroll", "click"
	Milliseconds int    `json:"milliseconds,omitempty"`
	Selector     string `json:"selector,omitempty"`
}

// ScrapeOptions parameterizes a single scrape API call.
type ScrapeOptions struct {
	ExtractSchema   map[string]any
	ExtractPrompt   string
	OnlyMainContent bool
	Actions         []PageAction
	Timeout         time.Duration
}

// ScrapeResult is the scrape API response consumed by strategies.
type ScrapeResult struct {
	StructuredJSON json.RawMessage
	Markdown       string
	HTML           string
	Metadata       map[string]any
}

// RunSummary is the synchronous response of the job trigger endpoint.
type RunSummary struct {
	EventID                 string `json:"event_id"`
	JobID                   string `json:"job_id"`
	TotalMappedURLs         int    `json:"total_mapped_urls"`
	FilteredURLsCount       int    `json:"filtered_urls_count"`
	TargetedSessionURLs     int    `json:"targeted_session_urls_count"`
	ProcessedURLsCount      int    `json:"processed_urls_count"`
	ScrapeErrorsCount       int    `json:"scrape_errors_count"`
	SessionsFound           int    `json:"sessions_found"`
	SpeakerAppearancesFound int    `json:"speaker_appearances_found"`
	UniqueSpeakersFound     int    `json:"unique_speakers_found"`
}
