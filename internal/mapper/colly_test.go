package mapper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapCollectsInHostLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/speakers">Speakers</a>
			<a href="/agenda">Agenda</a>
			<a href="https://external.example/out">External</a>
		</body></html>`)
	})
	mux.HandleFunc("/speakers", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/speakers/jane">Jane</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := New(Config{MaxDepth: 3}, nil)
	res, err := m.Map(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.Contains(t, res.Links, srv.URL+"/speakers")
	assert.Contains(t, res.Links, srv.URL+"/agenda")
	assert.Contains(t, res.Links, srv.URL+"/speakers/jane")
	// Off-host links are excluded at the collector level but still recorded
	// as discovered anchors.
	assert.Equal(t, len(res.Links), res.TotalLinks)
}

func TestMapRejectsInvalidURL(t *testing.T) {
	m := New(Config{}, nil)
	_, err := m.Map(context.Background(), "not a url")
	require.Error(t, err)
}

func TestMapHonorsLinkCap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 50; i++ {
			fmt.Fprintf(w, `<a href="/p/%d">p%d</a>`, i, i)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := New(Config{MaxLinks: 10}, nil)
	res, err := m.Map(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Links), 10)
}
