package extract

import (
	"sort"
	"strings"
)

// GovernorConfig controls how many normalizer calls one document may spend.
type GovernorConfig struct {
	// MaxRequestsPerDocument caps normalizer calls per document. Requests are
	// ranked first; the lowest-ranked are dropped. 0 means unlimited.
	MaxRequestsPerDocument int

	// DedupeRequests sends each distinct (location, chunk text) pair once.
	// Default: true.
	DedupeRequests bool
}

// DefaultGovernorConfig returns the recommended default governor settings.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		MaxRequestsPerDocument: 0,
		DedupeRequests:         true,
	}
}

// Governor filters and ranks one document's normalizer requests. It decides
// volume only; which candidates need normalizing is the Gate's call.
type Governor struct {
	config GovernorConfig
}

// NewGovernor creates a Governor with the given config.
func NewGovernor(cfg GovernorConfig) *Governor {
	return &Governor{config: cfg}
}

// Apply drops empty and repeated requests, ranks the rest and applies the
// per-document cap. The result is in reading order.
func (g *Governor) Apply(reqs []NormalizeRequest) []NormalizeRequest {
	if len(reqs) == 0 {
		return reqs
	}

	// Phase 1: drop requests with nothing to read
	type indexed struct {
		req   NormalizeRequest
		order int
		score int
	}
	kept := make([]indexed, 0, len(reqs))
	seen := map[string]bool{}
	for i, r := range reqs {
		if strings.TrimSpace(r.Chunk.Text) == "" {
			continue
		}
		// Phase 2: dedupe
		if g.config.DedupeRequests {
			key := r.Chunk.SourcePath + "\x00" + r.Chunk.Location() + "\x00" + r.Chunk.Text
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		kept = append(kept, indexed{req: r, order: i, score: requestScore(r)})
	}

	// Phase 3 + 4: rank and cap
	limit := g.config.MaxRequestsPerDocument
	if limit > 0 && len(kept) > limit {
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].score > kept[j].score
		})
		kept = kept[:limit]
		sort.Slice(kept, func(i, j int) bool {
			return kept[i].order < kept[j].order
		})
	}

	out := make([]NormalizeRequest, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.req)
	}
	return out
}

// requestScore favours chunks the rules half-understood: a found trigger or a
// date-shaped span makes a dated event more likely.
func requestScore(r NormalizeRequest) int {
	score := 0
	if r.Hints.HasEvent {
		score += 2
	}
	if len(r.Hints.Dates) > 0 {
		score++
	}
	if r.Candidate.HasDate {
		score++
	}
	return score
}
