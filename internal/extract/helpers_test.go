package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// defaultRuleSet decodes the embedded table so tests can tweak a copy.
func defaultRuleSet(t *testing.T) RuleSet {
	t.Helper()
	rs := baseRuleSet()
	require.NoError(t, yaml.Unmarshal(defaultRulesYAML, &rs))
	return rs
}

// rulesWithEvents keeps the default patterns and headings but swaps the
// trigger table and clears statute cues.
func rulesWithEvents(t *testing.T, events map[string][]string) *Rules {
	t.Helper()
	rs := defaultRuleSet(t)
	rs.Events = events
	rs.StatuteCues = nil
	r, err := rs.Compile()
	require.NoError(t, err)
	return r
}

func leaseRules(t *testing.T) *Rules {
	t.Helper()
	return rulesWithEvents(t, map[string][]string{
		"Lease": {"filed", "lease"},
	})
}

func mustDefaultRules(t *testing.T) *Rules {
	t.Helper()
	r, err := DefaultRules()
	require.NoError(t, err)
	return r
}
