package extraction

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// assetExtensions are final-path-segment extensions that mark a mapped URL as
// a static asset rather than a page.
var assetExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".pdf": {}, ".zip": {}, ".gz": {}, ".tar": {}, ".rar": {}, ".7z": {},
	".mp4": {}, ".mp3": {}, ".webm": {}, ".avi": {}, ".mov": {}, ".wav": {},
	".xml": {}, ".json": {}, ".txt": {},
}

// FilterURLs canonicalizes mapped URLs and keeps only same-origin, http(s),
// page-like candidates. Relative links are resolved against the start URL,
// fragments are stripped, and the result is deduplicated by normalized string
// form. Pure function, no network I/O.
func FilterURLs(startURL string, mapped []string) ([]string, error) {
	start, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("parse start url: %w", err)
	}
	origin := strings.ToLower(start.Hostname())
	if origin == "" {
		return nil, fmt.Errorf("start url %q has no hostname", startURL)
	}

	seen := make(map[string]struct{}, len(mapped))
	out := make([]string, 0, len(mapped))
	for _, raw := range mapped {
		normalized, ok := normalizeCandidate(raw, start, origin)
		if !ok {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

func normalizeCandidate(raw string, start *url.URL, origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	// Mappers commonly emit site-relative links; resolve those against the
	// start URL before the scheme and origin checks.
	if u.Scheme == "" {
		u = start.ResolveReference(u)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), origin) {
		return "", false
	}
	if isAssetPath(u.Path) {
		return "", false
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), true
}

// isAssetPath reports whether the final path segment carries an asset
// extension. Paths without an extension are always page-like.
func isAssetPath(p string) bool {
	ext := strings.ToLower(path.Ext(path.Base(p)))
	if ext == "" {
		return false
	}
	_, blocked := assetExtensions[ext]
	return blocked
}
