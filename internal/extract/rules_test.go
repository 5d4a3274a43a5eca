package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	r := mustDefaultRules(t)

	s := r.Summary()
	assert.Greater(t, s.Triggers, 20)
	assert.Equal(t, 5, s.DatePatterns)
	assert.Equal(t, 8, s.HeadingMaxWord)
	assert.Equal(t, 1500, r.MaxChunkChars())
	for _, et := range EventTypes {
		if et == EventGeneric {
			continue
		}
		assert.Positive(t, s.TriggersByType[string(et)], "no trigger for %s", et)
	}
}

func TestParseRules_OverridesKeepDefaults(t *testing.T) {
	r, err := ParseRules([]byte(`
events:
  Hearing: [heard]
date_patterns:
  - '\b\d{4}-\d{2}-\d{2}\b'
headings:
  max_words: 4
`))
	require.NoError(t, err)

	assert.Equal(t, 4, r.headings.maxWords)
	assert.Equal(t, 0.6, r.headings.minUpperRatio)
	assert.Equal(t, 0.3, r.scoring.Date)
	assert.Equal(t, 1500, r.MaxChunkChars())
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		target error
	}{
		{"no events", "date_patterns: ['\\d{4}']", ErrNoTriggers},
		{"no patterns", "events: {Hearing: [heard]}", ErrNoDatePatterns},
		{"only blank phrases", "events: {Hearing: ['  ']}\ndate_patterns: ['\\d{4}']", ErrNoTriggers},
		{"unknown event", "events: {Hearsay: [heard]}\ndate_patterns: ['\\d{4}']", nil},
		{"duplicate trigger", "events: {Hearing: [order], Order: [order]}\ndate_patterns: ['\\d{4}']", nil},
		{"bad date regex", "events: {Hearing: [heard]}\ndate_patterns: ['(']", nil},
		{"bad heading regex", "events: {Hearing: [heard]}\ndate_patterns: ['\\d{4}']\nheadings: {patterns: ['[']}", nil},
		{"bad ratio", "events: {Hearing: [heard]}\ndate_patterns: ['\\d{4}']\nheadings: {min_upper_ratio: 1.5}", nil},
		{"bad chunk size", "events: {Hearing: [heard]}\ndate_patterns: ['\\d{4}']\nchunking: {max_chunk_chars: 0}", nil},
		{"inverted length range", "events: {Hearing: [heard]}\ndate_patterns: ['\\d{4}']\nscoring: {min_chars: 500, max_chars: 10}", nil},
		{"not yaml", "events: [", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	t.Run("empty path uses default", func(t *testing.T) {
		r, err := LoadRules("")
		require.NoError(t, err)
		assert.Greater(t, r.Summary().Triggers, 0)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("events: {Bail: [bail]}\ndate_patterns: ['\\b\\d{4}-\\d{2}-\\d{2}\\b']\n"), 0o600))

		r, err := LoadRules(path)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"Bail": 1}, r.Summary().TriggersByType)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}

func TestTriggerOrderIsDeterministic(t *testing.T) {
	events := map[string][]string{
		"Order":   {"order", "directed"},
		"Filing":  {"filed"},
		"Hearing": {"heard"},
	}
	for i := 0; i < 10; i++ {
		r := rulesWithEvents(t, events)
		var phrases []string
		for _, tr := range r.triggers {
			phrases = append(phrases, tr.phrase)
		}
		assert.Equal(t, []string{"filed", "heard", "order", "directed"}, phrases)
	}
}

func TestPhraseRegexp_WordBoundaries(t *testing.T) {
	re, err := phraseRegexp("act")
	require.NoError(t, err)
	assert.True(t, re.MatchString("under the Act of 1908"))
	assert.False(t, re.MatchString("the parties transacted"))

	re, err = phraseRegexp("sub-section")
	require.NoError(t, err)
	assert.True(t, re.MatchString("see Sub-Section (2)"))
}
