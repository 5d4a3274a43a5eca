package extract

import "fmt"

// DefaultConfidenceThreshold is the gate threshold when none is configured.
const DefaultConfidenceThreshold = 0.6

// Decision is the gate's verdict on one candidate.
type Decision int

const (
	// Accepted candidates pass straight to the resolver.
	Accepted Decision = iota
	// NeedsNormalization candidates are forwarded to the normalizer.
	NeedsNormalization
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case NeedsNormalization:
		return "needs_normalization"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Routed pairs a candidate with the gate's decision. The candidate is carried
// through untouched.
type Routed struct {
	Decision  Decision
	Candidate Candidate
}

// Gate decides which rule candidates are sent for normalization. It is a pure
// predicate over the candidate and its configuration; it never consults
// network or pipeline state.
type Gate struct {
	threshold    float64
	skipAnalysis bool
	rules        *Rules
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAnalysisSuppression accepts reasoning paragraphs (per the rule table's
// analysis cues) as-is instead of sending them for normalization.
func WithAnalysisSuppression(rules *Rules) GateOption {
	return func(g *Gate) {
		g.skipAnalysis = rules != nil
		g.rules = rules
	}
}

// NewGate creates a gate with the given threshold.
func NewGate(threshold float64, opts ...GateOption) *Gate {
	g := &Gate{threshold: threshold}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Threshold returns the configured confidence threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// ShouldNormalize is true when the candidate scores under the threshold or is
// missing a date or an event.
func (g *Gate) ShouldNormalize(c Candidate) bool {
	if g.skipAnalysis && g.rules.IsAnalysis(c.Description) {
		return false
	}
	return c.Confidence < g.threshold || !c.HasDate || !c.HasEvent
}

// Route wraps ShouldNormalize in a tagged result.
func (g *Gate) Route(c Candidate) Routed {
	if g.ShouldNormalize(c) {
		return Routed{Decision: NeedsNormalization, Candidate: c}
	}
	return Routed{Decision: Accepted, Candidate: c}
}
