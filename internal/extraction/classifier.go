package extraction

import (
	"net/url"
	"strings"
)

var speakerKeywords = []string{"speaker", "speakers", "presenter", "presenters", "faculty"}

var sessionKeywords = []string{"session", "sessions", "agenda", "schedule", "program"}

// targetKeywords is the coarser set used upstream to decide which filtered
// URLs are worth visiting at all.
var targetKeywords = []string{"agenda", "schedule", "session", "sessions", "program", "speaker", "speakers"}

// ClassifyPage decides whether a candidate URL looks like a session listing
// or a speaker directory based purely on path/query keywords. Pages that
// match both sets, neither set, or fail to parse fall back to session mode
// flagged ambiguous.
func ClassifyPage(rawURL string) PageClassification {
	c := PageClassification{URL: rawURL, Mode: ModeSession, Ambiguous: true}
	u, err := url.Parse(rawURL)
	if err != nil {
		return c
	}
	subject := strings.ToLower(u.Path + "?" + u.RawQuery)

	speakerish := matchesAny(subject, speakerKeywords)
	sessionish := matchesAny(subject, sessionKeywords)
	switch {
	case speakerish && !sessionish:
		c.Mode = ModeSpeakerDirectory
		c.Ambiguous = false
	case sessionish && !speakerish:
		c.Mode = ModeSession
		c.Ambiguous = false
	}
	return c
}

// SelectTargets keeps the filtered URLs that match the coarse targeting
// keywords, capped at maxPages. When nothing matches it falls back to the
// first maxPages filtered URLs.
func SelectTargets(filtered []string, maxPages int) []string {
	if maxPages <= 0 {
		maxPages = len(filtered)
	}
	targets := make([]string, 0, maxPages)
	for _, raw := range filtered {
		if len(targets) >= maxPages {
			break
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if matchesAny(strings.ToLower(u.Path+"?"+u.RawQuery), targetKeywords) {
			targets = append(targets, raw)
		}
	}
	if len(targets) > 0 {
		return targets
	}
	if len(filtered) > maxPages {
		return append([]string(nil), filtered[:maxPages]...)
	}
	return append([]string(nil), filtered...)
}

func matchesAny(subject string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}
