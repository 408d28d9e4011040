package strategy

import (
	"net/url"
	"strconv"
)

// Pagination styles recognized on captured endpoint URLs.
const (
	paginationPage   = "page"
	paginationOffset = "offset"
)

var (
	pageParams   = []string{"page", "p"}
	offsetParams = []string{"offset", "start", "from"}
	stepParams   = []string{"limit", "pagesize", "page_size", "pageSize", "per_page", "size"}
)

// paginationPlan captures how to replay a JSON endpoint for the next page of
// results. Inferred once from the best capture's URL and then committed to
// for all subsequent replays.
type paginationPlan struct {
	style string
	param string
	base  int
	step  int
}

// inferPagination inspects the query of a captured endpoint URL for page- or
// offset-style parameters. Returns nil when neither is present.
func inferPagination(rawURL string, defaultStep int) *paginationPlan {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	q := u.Query()

	for _, p := range pageParams {
		if v := q.Get(p); v != "" {
			if n, convErr := strconv.Atoi(v); convErr == nil {
				return &paginationPlan{style: paginationPage, param: p, base: n, step: 1}
			}
		}
	}
	for _, p := range offsetParams {
		if v := q.Get(p); v != "" {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				continue
			}
			step := defaultStep
			for _, sp := range stepParams {
				if sv := q.Get(sp); sv != "" {
					if sn, sErr := strconv.Atoi(sv); sErr == nil && sn > 0 {
						step = sn
						break
					}
				}
			}
			return &paginationPlan{style: paginationOffset, param: p, base: n, step: step}
		}
	}
	return nil
}

// replayURL builds the endpoint URL for the i-th replay (1-based).
func (p *paginationPlan) replayURL(rawURL string, i int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set(p.param, strconv.Itoa(p.base+i*p.step))
	u.RawQuery = q.Encode()
	return u.String()
}
