package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPage(t *testing.T) {
	cases := []struct {
		url       string
		mode      PageMode
		ambiguous bool
	}{
		{"https://conf.example/speakers/keynotes", ModeSpeakerDirectory, false},
		{"https://conf.example/faculty", ModeSpeakerDirectory, false},
		{"https://conf.example/agenda", ModeSession, false},
		{"https://conf.example/2026/schedule", ModeSession, false},
		{"https://conf.example/info", ModeSession, true},
		{"https://conf.example/program/speakers", ModeSession, true}, // both sets match
		{"https://conf.example/?tab=presenters", ModeSpeakerDirectory, false},
		{"://bad", ModeSession, true},
	}
	for _, tc := range cases {
		got := ClassifyPage(tc.url)
		assert.Equal(t, tc.mode, got.Mode, "url %s", tc.url)
		assert.Equal(t, tc.ambiguous, got.Ambiguous, "url %s", tc.url)
	}
}

func TestSelectTargets(t *testing.T) {
	filtered := []string{
		"https://conf.example/about",
		"https://conf.example/agenda",
		"https://conf.example/speakers",
		"https://conf.example/venue",
		"https://conf.example/program",
	}

	t.Run("keyword matches win", func(t *testing.T) {
		got := SelectTargets(filtered, 10)
		assert.Equal(t, []string{
			"https://conf.example/agenda",
			"https://conf.example/speakers",
			"https://conf.example/program",
		}, got)
	})

	t.Run("cap applies", func(t *testing.T) {
		got := SelectTargets(filtered, 2)
		assert.Len(t, got, 2)
	})

	t.Run("fallback to first N", func(t *testing.T) {
		plain := []string{
			"https://conf.example/a",
			"https://conf.example/b",
			"https://conf.example/c",
		}
		got := SelectTargets(plain, 2)
		assert.Equal(t, plain[:2], got)
	})
}
