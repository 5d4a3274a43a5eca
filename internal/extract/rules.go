package extract

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

var (
	// ErrNoTriggers is returned when a rule table defines no event triggers.
	ErrNoTriggers = errors.New("rule table defines no event triggers")
	// ErrNoDatePatterns is returned when a rule table defines no date patterns.
	ErrNoDatePatterns = errors.New("rule table defines no date patterns")
)

// RuleSet is the on-disk (YAML) form of the rule table.
type RuleSet struct {
	Events         map[string][]string `yaml:"events"`
	DatePatterns   []string            `yaml:"date_patterns"`
	Headings       HeadingRules        `yaml:"headings"`
	Chunking       ChunkingRules       `yaml:"chunking"`
	StatuteCues    []string            `yaml:"statute_cues"`
	CourtStepWords []string            `yaml:"court_step_words"`
	AnalysisCues   []string            `yaml:"analysis_cues"`
	Scoring        Scoring             `yaml:"scoring"`
}

// HeadingRules decide whether a line is a section heading.
type HeadingRules struct {
	MaxWords            int      `yaml:"max_words"`
	MaxLength           int      `yaml:"max_length"`
	MinUpperRatio       float64  `yaml:"min_upper_ratio"`
	TerminalPunctuation string   `yaml:"terminal_punctuation"`
	SentenceStarters    []string `yaml:"sentence_starters"`
	Patterns            []string `yaml:"patterns"`
}

// ChunkingRules bound chunk size.
type ChunkingRules struct {
	MaxChunkChars int `yaml:"max_chunk_chars"`
}

// Scoring holds the confidence weights. All terms are fixed so scores are reproducible.
type Scoring struct {
	Date                 float64  `yaml:"date"`
	Event                float64  `yaml:"event"`
	Section              float64  `yaml:"section"`
	ProceedingsSection   float64  `yaml:"proceedings_section"`
	ProceedingsKeywords  []string `yaml:"proceedings_keywords"`
	MultipleDatesPenalty float64  `yaml:"multiple_dates_penalty"`
	ShortPenalty         float64  `yaml:"short_penalty"`
	LongPenalty          float64  `yaml:"long_penalty"`
	MinChars             int      `yaml:"min_chars"`
	MaxChars             int      `yaml:"max_chars"`
}

// baseRuleSet holds the defaults a rule file is decoded over, so a file only
// needs to state what it changes. Triggers and patterns have no defaults.
func baseRuleSet() RuleSet {
	return RuleSet{
		Headings: HeadingRules{
			MaxWords:            8,
			MaxLength:           80,
			MinUpperRatio:       0.6,
			TerminalPunctuation: ".?!;,",
		},
		Chunking: ChunkingRules{MaxChunkChars: 1500},
		Scoring: Scoring{
			Date:                 0.3,
			Event:                0.4,
			Section:              0.1,
			ProceedingsSection:   0.1,
			ProceedingsKeywords:  []string{"proceeding", "hearing"},
			MultipleDatesPenalty: 0.1,
			ShortPenalty:         0.15,
			LongPenalty:          0.1,
			MinChars:             25,
			MaxChars:             1200,
		},
	}
}

// Rules is a compiled rule table. It is immutable after Compile and safe to
// share between goroutines.
type Rules struct {
	triggers       []trigger
	datePatterns   []*regexp.Regexp
	headings       compiledHeadings
	maxChunkChars  int
	statuteCues    []*regexp.Regexp
	courtStepWords []*regexp.Regexp
	analysisCues   []*regexp.Regexp
	scoring        Scoring
}

type trigger struct {
	phrase string
	event  EventType
	re     *regexp.Regexp
}

type compiledHeadings struct {
	maxWords      int
	maxLength     int
	minUpperRatio float64
	terminal      string
	starters      map[string]struct{}
	patterns      []*regexp.Regexp
}

// DefaultRules compiles the embedded default rule table.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRulesYAML)
}

// LoadRules reads and compiles a YAML rule table. An empty path selects the
// embedded default table.
func LoadRules(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules %s: %w", path, err)
	}
	r, err := ParseRules(b)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return r, nil
}

// ParseRules decodes and compiles a YAML rule table.
func ParseRules(data []byte) (*Rules, error) {
	rs := baseRuleSet()
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	return rs.Compile()
}

// Compile validates the rule set and builds the immutable lookup structure.
func (rs RuleSet) Compile() (*Rules, error) {
	if len(rs.Events) == 0 {
		return nil, ErrNoTriggers
	}
	if len(rs.DatePatterns) == 0 {
		return nil, ErrNoDatePatterns
	}
	if rs.Headings.MaxWords <= 0 {
		return nil, fmt.Errorf("headings.max_words must be positive, got %d", rs.Headings.MaxWords)
	}
	if rs.Headings.MinUpperRatio <= 0 || rs.Headings.MinUpperRatio > 1 {
		return nil, fmt.Errorf("headings.min_upper_ratio must be in (0,1], got %v", rs.Headings.MinUpperRatio)
	}
	if rs.Chunking.MaxChunkChars <= 0 {
		return nil, fmt.Errorf("chunking.max_chunk_chars must be positive, got %d", rs.Chunking.MaxChunkChars)
	}
	if rs.Scoring.MinChars > rs.Scoring.MaxChars {
		return nil, fmt.Errorf("scoring.min_chars (%d) exceeds scoring.max_chars (%d)", rs.Scoring.MinChars, rs.Scoring.MaxChars)
	}

	triggers, err := compileTriggers(rs.Events)
	if err != nil {
		return nil, err
	}

	r := &Rules{
		triggers:      triggers,
		maxChunkChars: rs.Chunking.MaxChunkChars,
		scoring:       rs.Scoring,
	}

	for i, p := range rs.DatePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("date_patterns[%d]: %w", i, err)
		}
		r.datePatterns = append(r.datePatterns, re)
	}

	r.headings = compiledHeadings{
		maxWords:      rs.Headings.MaxWords,
		maxLength:     rs.Headings.MaxLength,
		minUpperRatio: rs.Headings.MinUpperRatio,
		terminal:      rs.Headings.TerminalPunctuation,
		starters:      make(map[string]struct{}, len(rs.Headings.SentenceStarters)),
	}
	for _, s := range rs.Headings.SentenceStarters {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			r.headings.starters[s] = struct{}{}
		}
	}
	for i, p := range rs.Headings.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("headings.patterns[%d]: %w", i, err)
		}
		r.headings.patterns = append(r.headings.patterns, re)
	}

	if r.statuteCues, err = compilePhrases("statute_cues", rs.StatuteCues); err != nil {
		return nil, err
	}
	if r.courtStepWords, err = compileStems("court_step_words", rs.CourtStepWords); err != nil {
		return nil, err
	}
	if r.analysisCues, err = compilePhrases("analysis_cues", rs.AnalysisCues); err != nil {
		return nil, err
	}

	return r, nil
}

// compileTriggers orders triggers by the canonical event order and then by
// their position in the file, so table order is deterministic even though
// the YAML mapping is not.
func compileTriggers(events map[string][]string) ([]trigger, error) {
	labels := make([]string, 0, len(events))
	for label := range events {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return eventRank(labels[i]) < eventRank(labels[j])
	})

	seen := map[string]EventType{}
	var out []trigger
	for _, label := range labels {
		et, ok := lookupEventType(label)
		if !ok {
			return nil, fmt.Errorf("events: unknown event type %q", label)
		}
		for _, phrase := range events[label] {
			phrase = strings.ToLower(strings.TrimSpace(phrase))
			if phrase == "" {
				continue
			}
			if prev, dup := seen[phrase]; dup {
				return nil, fmt.Errorf("events: trigger %q mapped to both %s and %s", phrase, prev, et)
			}
			seen[phrase] = et
			re, err := phraseRegexp(phrase)
			if err != nil {
				return nil, fmt.Errorf("events.%s: %w", label, err)
			}
			out = append(out, trigger{phrase: phrase, event: et, re: re})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoTriggers
	}
	return out, nil
}

func eventRank(label string) int {
	for i, et := range EventTypes {
		if strings.EqualFold(label, string(et)) {
			return i
		}
	}
	return len(EventTypes)
}

func compilePhrases(field string, phrases []string) ([]*regexp.Regexp, error) {
	return compileMatchers(field, phrases, true)
}

// compileStems matches each word as a prefix, so "order" also finds
// "ordered" and "orders".
func compileStems(field string, stems []string) ([]*regexp.Regexp, error) {
	return compileMatchers(field, stems, false)
}

func compileMatchers(field string, phrases []string, wholeWord bool) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		re, err := boundedRegexp(p, wholeWord)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// phraseRegexp builds a case-insensitive literal matcher with word boundaries
// on whichever ends of the phrase are word characters.
func phraseRegexp(phrase string) (*regexp.Regexp, error) {
	return boundedRegexp(phrase, true)
}

func boundedRegexp(phrase string, trailing bool) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?i)`)
	first, _ := utf8.DecodeRuneInString(phrase)
	last, _ := utf8.DecodeLastRuneInString(phrase)
	if isWordRune(first) {
		b.WriteString(`\b`)
	}
	b.WriteString(regexp.QuoteMeta(phrase))
	if trailing && isWordRune(last) {
		b.WriteString(`\b`)
	}
	return regexp.Compile(b.String())
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func matchesAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// MaxChunkChars is the configured chunk size bound.
func (r *Rules) MaxChunkChars() int {
	return r.maxChunkChars
}

// IsAnalysis reports whether text reads like a reasoning paragraph rather than
// a procedural step.
func (r *Rules) IsAnalysis(text string) bool {
	return matchesAny(r.analysisCues, text)
}

// RulesSummary describes a compiled table for display.
type RulesSummary struct {
	Triggers       int            `json:"triggers"`
	TriggersByType map[string]int `json:"triggers_by_type"`
	DatePatterns   int            `json:"date_patterns"`
	HeadingMaxWord int            `json:"heading_max_words"`
	StatuteCues    int            `json:"statute_cues"`
	AnalysisCues   int            `json:"analysis_cues"`
	MaxChunkChars  int            `json:"max_chunk_chars"`
}

// Summary reports the size of each table.
func (r *Rules) Summary() RulesSummary {
	s := RulesSummary{
		Triggers:       len(r.triggers),
		TriggersByType: map[string]int{},
		DatePatterns:   len(r.datePatterns),
		HeadingMaxWord: r.headings.maxWords,
		StatuteCues:    len(r.statuteCues),
		AnalysisCues:   len(r.analysisCues),
		MaxChunkChars:  r.maxChunkChars,
	}
	for _, t := range r.triggers {
		s.TriggersByType[string(t.event)]++
	}
	return s
}
