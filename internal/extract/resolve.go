package extract

import (
	"sort"
	"unicode/utf8"
)

// Resolve merges candidates from both tiers into the final record set.
//
// Candidates without a strict ISO date are dropped unconditionally, duplicates
// of the identity key collapse to one survivor, and survivors are sorted by
// source, date and page. The result depends only on the multiset of inputs,
// never on their order, so concurrent collection is safe to feed in as-is.
// Resolve performs no I/O.
func Resolve(candidates []Candidate) []Candidate {
	groups := make(map[Key]Candidate, len(candidates))
	for _, c := range candidates {
		if !c.HasDate || !ValidISODate(c.Date) {
			continue
		}
		k := c.Key()
		if cur, ok := groups[k]; !ok || Outranks(c, cur) {
			groups[k] = c
		}
	}

	out := make([]Candidate, 0, len(groups))
	for _, c := range groups {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourcePath != b.SourcePath {
			return a.SourcePath < b.SourcePath
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		return a.EventType < b.EventType
	})
	return out
}

// Outranks reports whether a beats b for the same identity key: higher
// confidence, then longer description, then llm over rule. The remaining
// comparisons only make the order total so that identical inputs always pick
// the same survivor.
func Outranks(a, b Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if la, lb := utf8.RuneCountInString(a.Description), utf8.RuneCountInString(b.Description); la != lb {
		return la > lb
	}
	if a.Origin != b.Origin {
		return a.Origin == OriginLLM
	}
	if a.Description != b.Description {
		return a.Description < b.Description
	}
	if a.Location != b.Location {
		return a.Location < b.Location
	}
	if a.HasEvent != b.HasEvent {
		return a.HasEvent
	}
	return false
}
