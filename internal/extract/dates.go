package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// isoLayout is the only date form a record may carry.
const isoLayout = "2006-01-02"

var isoDateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidISODate reports whether s is strict YYYY-MM-DD and a real calendar day.
func ValidISODate(s string) bool {
	if !isoDateRE.MatchString(s) {
		return false
	}
	_, err := time.Parse(isoLayout, s)
	return err == nil
}

// dateHit is one date found in chunk text.
type dateHit struct {
	start, end int
	raw        string
	iso        string // empty when the span looked like a date but did not parse
}

func (h dateHit) valid() bool { return h.iso != "" }

// dateScan is the outcome of scanning one chunk for dates.
type dateScan struct {
	hits []dateHit // reading order, valid and invalid
}

// dateLike reports whether any date-shaped span was seen.
func (s dateScan) dateLike() bool { return len(s.hits) > 0 }

// validHits returns the parsed dates in reading order, one per distinct value.
func (s dateScan) validHits() []dateHit {
	var out []dateHit
	seen := map[string]bool{}
	for _, h := range s.hits {
		if !h.valid() || seen[h.iso] {
			continue
		}
		seen[h.iso] = true
		out = append(out, h)
	}
	return out
}

// findDates applies the configured patterns in order; a span overlapping one
// already claimed by an earlier pattern is skipped. When no pattern matches at
// all, the natural-language fallback runs.
func (r *Rules) findDates(text string) dateScan {
	var hits []dateHit
	for _, re := range r.datePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if overlapsAny(hits, loc[0], loc[1]) {
				continue
			}
			raw := text[loc[0]:loc[1]]
			iso, _ := parseDateSpan(raw)
			hits = append(hits, dateHit{start: loc[0], end: loc[1], raw: raw, iso: iso})
		}
	}
	if len(hits) == 0 {
		hits = fallbackDates(text)
	}
	sortHits(hits)
	return dateScan{hits: hits}
}

func overlapsAny(hits []dateHit, start, end int) bool {
	for _, h := range hits {
		if start < h.end && h.start < end {
			return true
		}
	}
	return false
}

func sortHits(hits []dateHit) {
	// insertion sort: a chunk holds a handful of dates at most
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].start < hits[j-1].start; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

var (
	ordinalRE   = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)
	dayOfRE     = regexp.MustCompile(`(?i)\s+day\s+of\s+`)
	septRE      = regexp.MustCompile(`(?i)\bsept\b`)
	numericSepR = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d+)$`)
	wsRE        = regexp.MustCompile(`\s+`)
)

// textLayouts are tried in order against a cleaned span. Numeric forms are
// handled separately and read day-first.
var textLayouts = []string{
	isoLayout,
	"2 January 2006",
	"2 Jan 2006",
	"January 2 2006",
	"Jan 2 2006",
}

// parseDateSpan normalizes a matched span to ISO. Two-digit years, missing
// days, day zero and impossible calendar days all fail.
func parseDateSpan(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = ordinalRE.ReplaceAllString(s, "$1")
	s = dayOfRE.ReplaceAllString(s, " ")
	s = septRE.ReplaceAllString(s, "sep")
	s = strings.NewReplacer(",", " ", ". ", " ").Replace(s)
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSpace(wsRE.ReplaceAllString(s, " "))

	if m := numericSepR.FindStringSubmatch(s); m != nil {
		if len(m[3]) != 4 {
			return "", false
		}
		s = m[1] + "-" + m[2] + "-" + m[3]
		return parseWithLayouts(s, "2-1-2006")
	}
	return parseWithLayouts(s, textLayouts...)
}

func parseWithLayouts(s string, layouts ...string) (string, bool) {
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 1000 {
			return "", false
		}
		return t.Format(isoLayout), true
	}
	return "", false
}

var (
	yearTokenRE = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)
	fieldTrim   = ",.;:()[]\"'"
)

// fallbackDates looks for dates the configured patterns do not describe. For
// each four-digit year it tries the widest window of up to five preceding
// words that the natural-language parser accepts, and keeps it only when the
// window names an explicit day.
func fallbackDates(text string) []dateHit {
	var hits []dateHit
	for _, loc := range yearTokenRE.FindAllStringIndex(text, -1) {
		year, _ := strconv.Atoi(text[loc[0]:loc[1]])
		starts := precedingWordStarts(text, loc[0], 5)
		for _, start := range starts {
			window := strings.Trim(text[start:loc[1]], fieldTrim+" ")
			if len(strings.Fields(window)) < 2 {
				continue
			}
			t, err := dateparse.ParseAny(window, dateparse.PreferMonthFirst(false))
			if err != nil || t.Year() != year {
				continue
			}
			if !hasExplicitDay(window, year, t.Day()) {
				continue
			}
			if overlapsAny(hits, start, loc[1]) {
				break
			}
			hits = append(hits, dateHit{start: start, end: loc[1], raw: window, iso: t.Format(isoLayout)})
			break
		}
	}
	return hits
}

// precedingWordStarts returns byte offsets of up to n word starts before end,
// widest first.
func precedingWordStarts(text string, end, n int) []int {
	var starts []int
	i := end
	for len(starts) < n {
		for i > 0 && text[i-1] == ' ' {
			i--
		}
		if i == 0 {
			break
		}
		j := i
		for j > 0 && text[j-1] != ' ' && text[j-1] != '\n' {
			j--
		}
		if j > 0 && text[j-1] == '\n' {
			starts = append(starts, j)
			break
		}
		starts = append(starts, j)
		i = j
	}
	// reverse so the widest window comes first
	for l, r := 0, len(starts)-1; l < r; l, r = l+1, r-1 {
		starts[l], starts[r] = starts[r], starts[l]
	}
	return starts
}

// hasExplicitDay requires a 1-2 digit token equal to the parsed day, so that
// "March 1921" is not silently read as the first of March.
func hasExplicitDay(window string, year, day int) bool {
	for _, f := range strings.Fields(window) {
		f = ordinalRE.ReplaceAllString(strings.Trim(f, fieldTrim), "$1")
		for _, part := range strings.FieldsFunc(f, func(r rune) bool { return r == '/' || r == '-' || r == '.' }) {
			if len(part) > 2 {
				continue
			}
			if n, err := strconv.Atoi(part); err == nil && n == day && n != year {
				return true
			}
		}
	}
	return false
}
