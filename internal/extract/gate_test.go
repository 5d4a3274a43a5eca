package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_ShouldNormalize(t *testing.T) {
	g := NewGate(0.7)

	tests := []struct {
		name string
		c    Candidate
		want bool
	}{
		{"low confidence", Candidate{Confidence: 0.5, HasDate: true, HasEvent: true}, true},
		{"confident and complete", Candidate{Confidence: 0.8, HasDate: true, HasEvent: true}, false},
		{"exactly at threshold", Candidate{Confidence: 0.7, HasDate: true, HasEvent: true}, false},
		{"missing date", Candidate{Confidence: 0.95, HasEvent: true}, true},
		{"missing event", Candidate{Confidence: 0.95, HasDate: true}, true},
		{"nothing", Candidate{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.ShouldNormalize(tt.c))
		})
	}
}

func TestGate_Route(t *testing.T) {
	g := NewGate(DefaultConfidenceThreshold)
	c := Candidate{Date: "1921-03-11", EventType: EventLease, Confidence: 0.4, HasDate: true, HasEvent: true, Description: "x"}

	r := g.Route(c)
	assert.Equal(t, NeedsNormalization, r.Decision)
	assert.Equal(t, c, r.Candidate, "candidate is carried through untouched")

	c.Confidence = 0.9
	assert.Equal(t, Accepted, g.Route(c).Decision)

	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "needs_normalization", NeedsNormalization.String())
	assert.Equal(t, 0.6, g.Threshold())
}

func TestGate_AnalysisSuppression(t *testing.T) {
	rules := mustDefaultRules(t)
	c := Candidate{
		Description: "It is observed that the hearing was held without notice.",
		Confidence:  0.3,
		HasEvent:    true,
	}

	assert.True(t, NewGate(0.6).ShouldNormalize(c))
	assert.False(t, NewGate(0.6, WithAnalysisSuppression(rules)).ShouldNormalize(c))

	c.Description = "Hearing held on the appointed day."
	assert.True(t, NewGate(0.6, WithAnalysisSuppression(rules)).ShouldNormalize(c))
}
