package extract

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(date string, et EventType, page int, conf float64, desc string) Candidate {
	return Candidate{
		Date:        date,
		EventType:   et,
		Description: desc,
		Location:    formatLocation(page, ""),
		SourcePath:  "case.pdf",
		PageNumber:  page,
		Confidence:  conf,
		HasDate:     date != "",
		HasEvent:    et != EventGeneric,
		Origin:      OriginRule,
	}
}

func TestResolve_HigherConfidenceWins(t *testing.T) {
	hi := cand("1921-03-11", EventHearing, 1, 0.9, "short")
	lo := cand("1921-03-11", EventHearing, 1, 0.4, "a much longer description here")

	for _, in := range [][]Candidate{{hi, lo}, {lo, hi}} {
		out := Resolve(in)
		require.Len(t, out, 1)
		assert.Equal(t, hi, out[0])
	}
}

func TestResolve_LongerDescriptionBreaksTie(t *testing.T) {
	long := cand("1921-03-11", EventHearing, 1, 0.7, strings.Repeat("x", 120))
	short := cand("1921-03-11", EventHearing, 1, 0.7, strings.Repeat("y", 50))

	for _, in := range [][]Candidate{{long, short}, {short, long}} {
		out := Resolve(in)
		require.Len(t, out, 1)
		assert.Equal(t, long, out[0])
	}
}

func TestResolve_LLMPreferredOnFullTie(t *testing.T) {
	rule := cand("1921-03-11", EventHearing, 1, 0.75, "same text")
	llm := rule
	llm.Origin = OriginLLM

	for _, in := range [][]Candidate{{rule, llm}, {llm, rule}} {
		out := Resolve(in)
		require.Len(t, out, 1)
		assert.Equal(t, OriginLLM, out[0].Origin)
	}
}

func TestResolve_DropsInvalidDates(t *testing.T) {
	in := []Candidate{
		cand("1923-03-00", EventHearing, 1, 0.9, "day zero"),
		cand("", EventHearing, 1, 0.9, "no date"),
		cand("11/03/1921", EventHearing, 1, 0.9, "not iso"),
		cand("1921-03-11", EventHearing, 1, 0.9, "ok"),
	}
	bad := cand("1921-03-12", EventHearing, 1, 0.9, "flag says no date")
	bad.HasDate = false
	in = append(in, bad)

	out := Resolve(in)
	require.Len(t, out, 1)
	assert.Equal(t, "1921-03-11", out[0].Date)
}

func TestResolve_DistinctKeysSurvive(t *testing.T) {
	in := []Candidate{
		cand("1921-03-11", EventHearing, 1, 0.9, "a"),
		cand("1921-03-11", EventOrder, 1, 0.9, "b"),
		cand("1921-03-11", EventHearing, 2, 0.9, "c"),
	}
	other := cand("1921-03-11", EventHearing, 1, 0.9, "d")
	other.SourcePath = "other.pdf"
	in = append(in, other)

	assert.Len(t, Resolve(in), 4)
}

func TestResolve_SortOrder(t *testing.T) {
	b := cand("1920-01-01", EventHearing, 1, 0.9, "b")
	b.SourcePath = "b.pdf"
	in := []Candidate{
		b,
		cand("1921-03-11", EventOrder, 2, 0.9, "x"),
		cand("1921-03-11", EventHearing, 2, 0.9, "y"),
		cand("1921-03-11", EventHearing, 1, 0.9, "z"),
		cand("1919-12-31", EventFiling, 9, 0.9, "w"),
	}

	out := Resolve(in)
	require.Len(t, out, 5)
	var got []string
	for _, c := range out {
		got = append(got, c.SourcePath+"|"+c.Date+"|"+c.Location+"|"+string(c.EventType))
	}
	assert.Equal(t, []string{
		"b.pdf|1920-01-01|p.1|Hearing",
		"case.pdf|1919-12-31|p.9|Filing",
		"case.pdf|1921-03-11|p.1|Hearing",
		"case.pdf|1921-03-11|p.2|Hearing",
		"case.pdf|1921-03-11|p.2|Order",
	}, got)
}

func TestResolve_OrderIndependentAndIdempotent(t *testing.T) {
	var in []Candidate
	for i := 0; i < 40; i++ {
		page := i%4 + 1
		date := []string{"1921-03-11", "1922-01-05", "1923-03-00", "1930-07-19"}[i%4]
		et := []EventType{EventHearing, EventOrder}[i%2]
		c := cand(date, et, page, float64(i%5)/5, strings.Repeat("d", i%7+1))
		if i%3 == 0 {
			c.Origin = OriginLLM
		}
		in = append(in, c)
	}

	want := Resolve(in)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]Candidate(nil), in...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Resolve(shuffled))
	}

	assert.Equal(t, want, Resolve(want))

	seen := map[Key]bool{}
	for _, c := range want {
		assert.False(t, seen[c.Key()], "duplicate key %+v", c.Key())
		seen[c.Key()] = true
		assert.True(t, ValidISODate(c.Date))
	}
}

func TestResolve_Empty(t *testing.T) {
	assert.Empty(t, Resolve(nil))
}

func TestOutranks_IsStrict(t *testing.T) {
	a := cand("1921-03-11", EventHearing, 1, 0.7, "same")
	assert.False(t, Outranks(a, a))

	b := a
	b.HasEvent = false
	assert.True(t, Outranks(a, b))
	assert.False(t, Outranks(b, a))
}
