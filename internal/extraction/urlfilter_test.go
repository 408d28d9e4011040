package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterURLs(t *testing.T) {
	t.Run("same origin only", func(t *testing.T) {
		got, err := FilterURLs("https://conf.example/", []string{
			"/agenda",
			"/style.css",
			"https://other.com/agenda",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://conf.example/agenda"}, got)
	})

	t.Run("resolves relative links against start url", func(t *testing.T) {
		got, err := FilterURLs("https://conf.example/2026/", []string{
			"/speakers",
			"sessions",
			"//cdn.example/lib.js",
			"https://conf.example/speakers#bios",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://conf.example/speakers",
			"https://conf.example/2026/sessions",
		}, got)
	})

	t.Run("case insensitive hostname", func(t *testing.T) {
		got, err := FilterURLs("https://Conf.Example/", []string{
			"https://CONF.EXAMPLE/Speakers",
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})

	t.Run("rejects non http schemes", func(t *testing.T) {
		got, err := FilterURLs("https://conf.example/", []string{
			"ftp://conf.example/agenda",
			"mailto:info@conf.example",
			"javascript:void(0)",
		})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("strips fragments and dedupes", func(t *testing.T) {
		got, err := FilterURLs("https://conf.example/", []string{
			"https://conf.example/agenda#day-1",
			"https://conf.example/agenda#day-2",
			"https://conf.example/agenda",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://conf.example/agenda"}, got)
	})

	t.Run("extensionless paths are page-like", func(t *testing.T) {
		got, err := FilterURLs("https://conf.example/", []string{
			"https://conf.example/speakers/jane-doe",
			"https://conf.example/speakers.json",
			"https://conf.example/brochure.pdf",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://conf.example/speakers/jane-doe"}, got)
	})

	t.Run("invalid start url", func(t *testing.T) {
		_, err := FilterURLs("not a url", []string{"https://conf.example/"})
		assert.Error(t, err)
	})
}

func TestIsAssetPath(t *testing.T) {
	cases := []struct {
		path  string
		asset bool
	}{
		{"/agenda", false},
		{"/static/app.js", true},
		{"/img/logo.PNG", true},
		{"/feed.xml", true},
		{"/sessions/ai.html", false},
		{"/v1.2/agenda", false},
	}
	for _, tc := range cases {
		if got := isAssetPath(tc.path); got != tc.asset {
			t.Fatalf("isAssetPath(%q) = %v, want %v", tc.path, got, tc.asset)
		}
	}
}
