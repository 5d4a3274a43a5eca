// Package extract turns document text into legal case event records.
//
// The pipeline has two tiers, in the same shape as most of this codebase:
//   - Tier 1: a deterministic rule engine (dates, trigger phrases, headings)
//   - Tier 2: an optional LLM normalizer for candidates the rules are unsure of
//
// A pure confidence gate decides which candidates reach Tier 2, and the
// resolver merges both tiers into one deduplicated, ordered record set.
package extract

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Engine is the Tier 1 rule engine. It holds only the compiled rule table and
// is safe for concurrent use.
type Engine struct {
	rules *Rules
}

// NewEngine creates a rule engine over a compiled rule table.
func NewEngine(rules *Rules) *Engine {
	return &Engine{rules: rules}
}

// Rules returns the engine's rule table.
func (e *Engine) Rules() *Rules {
	return e.rules
}

// Extract scans one chunk and returns its candidates. A chunk with neither a
// trigger nor anything date-shaped yields none. Malformed input never errors;
// at worst the candidate carries both flags false and a low score.
func (e *Engine) Extract(chunk Chunk) []Candidate {
	text := collapseSpace(chunk.Text)
	if text == "" {
		return nil
	}

	scan := e.rules.findDates(text)
	trig, hasEvent := e.rules.detectTrigger(text)
	if !hasEvent && !scan.dateLike() {
		return nil
	}

	dates := scan.validHits()
	var date string
	if len(dates) > 0 {
		date = pickDate(dates, trig, hasEvent).iso
	}

	eventType := EventGeneric
	if hasEvent {
		eventType = trig.event
	}

	c := Candidate{
		Date:        date,
		EventType:   eventType,
		Description: TruncateDescription(text),
		Location:    chunk.Location(),
		SourcePath:  chunk.SourcePath,
		PageNumber:  chunk.PageNumber,
		HasDate:     date != "",
		HasEvent:    hasEvent,
		Origin:      OriginRule,
	}
	c.Confidence = e.rules.score(text, chunk.SectionLabel, c.HasDate, c.HasEvent, len(dates))
	return []Candidate{c}
}

// triggerMatch is the chosen trigger and where it sits in the text.
type triggerMatch struct {
	event      EventType
	phrase     string
	start, end int
}

// detectTrigger picks the earliest trigger in the text; ties go to the longest
// phrase, then to table order. Statutory context without a court step
// suppresses the match.
func (r *Rules) detectTrigger(text string) (triggerMatch, bool) {
	if matchesAny(r.statuteCues, text) && !matchesAny(r.courtStepWords, text) {
		return triggerMatch{}, false
	}

	best := triggerMatch{start: -1}
	for _, t := range r.triggers {
		loc := t.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best.start < 0 ||
			loc[0] < best.start ||
			(loc[0] == best.start && loc[1]-loc[0] > best.end-best.start) {
			best = triggerMatch{event: t.event, phrase: t.phrase, start: loc[0], end: loc[1]}
		}
	}
	return best, best.start >= 0
}

// pickDate returns the date nearest the trigger, measured as the character gap
// between the two spans; equal gaps keep the earlier date. Without a trigger
// the first date in reading order wins.
func pickDate(dates []dateHit, trig triggerMatch, hasTrigger bool) dateHit {
	if !hasTrigger || len(dates) == 1 {
		return dates[0]
	}
	best, bestGap := dates[0], spanGap(dates[0].start, dates[0].end, trig.start, trig.end)
	for _, d := range dates[1:] {
		if gap := spanGap(d.start, d.end, trig.start, trig.end); gap < bestGap {
			best, bestGap = d, gap
		}
	}
	return best
}

func spanGap(aStart, aEnd, bStart, bEnd int) int {
	switch {
	case aEnd <= bStart:
		return bStart - aEnd
	case bEnd <= aStart:
		return aStart - bEnd
	default:
		return 0
	}
}

// score combines fixed weights into a confidence in [0,1].
func (r *Rules) score(text, section string, hasDate, hasEvent bool, validDates int) float64 {
	s := r.scoring
	var score float64
	if hasDate {
		score += s.Date
	}
	if hasEvent {
		score += s.Event
	}
	if section != "" {
		score += s.Section
		lower := strings.ToLower(section)
		for _, kw := range s.ProceedingsKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				score += s.ProceedingsSection
				break
			}
		}
	}
	if validDates > 1 {
		score -= s.MultipleDatesPenalty
	}
	n := utf8.RuneCountInString(text)
	if s.MinChars > 0 && n < s.MinChars {
		score -= s.ShortPenalty
	}
	if s.MaxChars > 0 && n > s.MaxChars {
		score -= s.LongPenalty
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	// round away float noise so equal inputs compare equal downstream
	v = math.Round(v*1e6) / 1e6
	return math.Max(0, math.Min(1, v))
}

// TruncateDescription clamps s to MaxDescriptionLength characters, cutting at
// the last word boundary. Nothing is appended.
func TruncateDescription(s string) string {
	return truncateAtWordBoundary(strings.TrimSpace(s), MaxDescriptionLength)
}

// truncateAtWordBoundary truncates s to at most maxLen runes, cutting at the
// last space so no partial word remains.
func truncateAtWordBoundary(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if runes[maxLen] == ' ' {
		return strings.TrimRight(string(runes[:maxLen]), " ")
	}
	head := string(runes[:maxLen])
	cut := strings.LastIndex(head, " ")
	if cut <= 0 {
		return head // a single word longer than maxLen
	}
	return strings.TrimRight(head[:cut], " ")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
