package strategy

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/eventscope/extractor/internal/extraction"
)

// Field-name sets used to recognize speaker-like objects in arbitrary JSON.
// Keys are compared lowercased with separators intact.
var (
	nameFields = []string{"name", "fullname", "full_name", "speakername", "speaker_name", "displayname", "display_name"}
	orgFields  = []string{"company", "organization", "organisation", "org", "affiliation", "employer"}
	jobFields  = []string{"title", "jobtitle", "job_title", "position"}
	urlFields  = []string{"profileurl", "profile_url", "profile", "url", "slug", "website", "link"}
	idFields   = []string{"id", "uuid", "speakerid", "speaker_id"}
	roleFields = []string{"role", "sessionrole", "session_role"}
)

// ExtractSpeakerLike walks arbitrary nested JSON depth-first and collects
// objects that look like speakers: a name-like field plus at least one of
// organization, job title, profile URL, or id. At most nodeCap nodes are
// visited to bound cost on pathological payloads.
func ExtractSpeakerLike(raw []byte, nodeCap int) []extraction.SpeakerAppearance {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil
	}
	w := &jsonWalker{budget: nodeCap}
	w.walk(root)
	return w.found
}

type jsonWalker struct {
	budget int
	found  []extraction.SpeakerAppearance
}

func (w *jsonWalker) walk(node any) {
	if w.budget <= 0 {
		return
	}
	w.budget--
	switch v := node.(type) {
	case map[string]any:
		if a, ok := speakerFromObject(v); ok {
			w.found = append(w.found, a)
		}
		for _, child := range v {
			w.walk(child)
		}
	case []any:
		for _, child := range v {
			w.walk(child)
		}
	}
}

func speakerFromObject(obj map[string]any) (extraction.SpeakerAppearance, bool) {
	lowered := make(map[string]any, len(obj))
	for k, v := range obj {
		lowered[strings.ToLower(k)] = v
	}

	name := firstString(lowered, nameFields)
	if strings.TrimSpace(name) == "" {
		return extraction.SpeakerAppearance{}, false
	}
	org := firstString(lowered, orgFields)
	job := firstString(lowered, jobFields)
	profile := firstString(lowered, urlFields)
	id := firstScalar(lowered, idFields)
	if org == "" && job == "" && profile == "" && id == "" {
		return extraction.SpeakerAppearance{}, false
	}

	return extraction.SpeakerAppearance{
		Name:         strings.TrimSpace(name),
		Organization: strings.TrimSpace(org),
		Title:        strings.TrimSpace(job),
		ProfileURL:   strings.TrimSpace(profile),
		Role:         strings.TrimSpace(firstString(lowered, roleFields)),
	}, true
}

func firstString(obj map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// firstScalar accepts strings and numbers; ids are frequently numeric.
func firstScalar(obj map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// looksLikeJSON is a cheap sniff for response bodies that lack a JSON
// content type.
func looksLikeJSON(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}
