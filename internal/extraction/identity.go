package extraction

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText canonicalizes a name or organization string for identity
// comparison: trim, lowercase, compatibility-decompose and drop combining
// marks, strip everything but word characters and spaces, collapse runs of
// whitespace. The same function backs in-run and cross-run dedup so the two
// always agree.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))
	lastSpace := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark from decomposition, dropped
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeProfileURL strips the fragment and lowercases a profile URL.
func NormalizeProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	u.Fragment = ""
	return strings.ToLower(u.String())
}

// NormalizeSessionURL strips the fragment from a session URL; it is the
// session identity key within and across runs.
func NormalizeSessionURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

// IdentityKey computes the two-tier speaker identity key: the normalized
// profile URL when present, else normalized name plus normalized org.
func IdentityKey(a SpeakerAppearance) string {
	if p := NormalizeProfileURL(a.ProfileURL); p != "" {
		return "profile::" + p
	}
	return "nameorg::" + NormalizeText(a.Name) + "::" + NormalizeText(a.Organization)
}

// CompletenessScore ranks appearances for display selection: one point each
// for organization, title, and profile URL being present.
func CompletenessScore(a SpeakerAppearance) int {
	score := 0
	if strings.TrimSpace(a.Organization) != "" {
		score++
	}
	if strings.TrimSpace(a.Title) != "" {
		score++
	}
	if strings.TrimSpace(a.ProfileURL) != "" {
		score++
	}
	return score
}
