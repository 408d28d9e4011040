package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Jane Doe", "jane doe"},
		{"jane   doe", "jane doe"},
		{"ACME, INC.", "acme inc"},
		{"  Acme Inc. ", "acme inc"},
		{"José Müller", "jose muller"},
		{"O'Brien & Sons", "obrien sons"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeText(tc.in), "input %q", tc.in)
	}
}

func TestIdentityKey(t *testing.T) {
	t.Run("same person different casing", func(t *testing.T) {
		a := SpeakerAppearance{Name: "Jane Doe", Organization: "Acme Inc."}
		b := SpeakerAppearance{Name: "jane   doe", Organization: "ACME, INC."}
		assert.Equal(t, IdentityKey(a), IdentityKey(b))
	})

	t.Run("profile url dominates", func(t *testing.T) {
		a := SpeakerAppearance{Name: "Jane Doe", ProfileURL: "https://conf.example/speakers/jane#bio"}
		b := SpeakerAppearance{Name: "J. Doe", ProfileURL: "HTTPS://conf.example/speakers/jane"}
		assert.Equal(t, IdentityKey(a), IdentityKey(b))
	})

	t.Run("profile urls differ", func(t *testing.T) {
		a := SpeakerAppearance{Name: "Jane Doe", ProfileURL: "https://conf.example/speakers/jane"}
		b := SpeakerAppearance{Name: "Jane Doe", ProfileURL: "https://conf.example/speakers/jane-2"}
		assert.NotEqual(t, IdentityKey(a), IdentityKey(b))
	})

	t.Run("name plus org fallback", func(t *testing.T) {
		a := SpeakerAppearance{Name: "Jane Doe", Organization: "Acme"}
		b := SpeakerAppearance{Name: "Jane Doe", Organization: "Globex"}
		assert.NotEqual(t, IdentityKey(a), IdentityKey(b))
	})
}

func TestCompletenessScore(t *testing.T) {
	assert.Equal(t, 0, CompletenessScore(SpeakerAppearance{Name: "Jane"}))
	assert.Equal(t, 3, CompletenessScore(SpeakerAppearance{
		Name:         "Jane",
		Organization: "Acme",
		Title:        "CTO",
		ProfileURL:   "https://conf.example/speakers/jane",
	}))
}

func TestJobAppendLog(t *testing.T) {
	var j Job
	for i := 0; i < MaxJobLogLines+7; i++ {
		j.AppendLog("line")
	}
	assert.Len(t, j.LogLines, MaxJobLogLines)
}
