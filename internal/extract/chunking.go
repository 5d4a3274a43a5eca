package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits page text into bounded chunks, tracking the page number and
// the nearest heading above each chunk.
type Chunker struct {
	rules               *Rules
	lineBreakIsBoundary bool
}

// NewChunker creates a chunker. When lineBreakIsBoundary is true every line
// is its own chunk; otherwise lines accumulate until a blank line, heading,
// page end or the size bound.
func NewChunker(rules *Rules, lineBreakIsBoundary bool) *Chunker {
	return &Chunker{rules: rules, lineBreakIsBoundary: lineBreakIsBoundary}
}

// chunkState is the fold carried through one document's scan. Each
// ChunkDocument call owns its own state, so documents chunk independently.
type chunkState struct {
	section string
	buf     []string
	bufLen  int
	out     []Chunk
}

// ChunkDocument chunks the ordered pages of one document. The current section
// carries across page boundaries.
func (c *Chunker) ChunkDocument(sourcePath string, pages []Page) []Chunk {
	var st chunkState
	for _, p := range pages {
		st = c.chunkPage(st, sourcePath, p)
	}
	return st.out
}

func (c *Chunker) chunkPage(st chunkState, sourcePath string, page Page) chunkState {
	flush := func() {
		if len(st.buf) == 0 {
			return
		}
		st.out = append(st.out, Chunk{
			Text:         strings.Join(st.buf, " "),
			PageNumber:   page.Number,
			SectionLabel: st.section,
			SourcePath:   sourcePath,
			FromOCR:      page.FromOCR,
		})
		st.buf, st.bufLen = nil, 0
	}

	text := strings.ReplaceAll(page.Text, "\r\n", "\n")
	for _, raw := range strings.Split(text, "\n") {
		line := collapseSpace(raw)
		switch {
		case line == "":
			flush()
		case c.rules.IsHeading(line):
			flush()
			st.section = line
		default:
			n := utf8.RuneCountInString(line)
			if len(st.buf) > 0 && (c.lineBreakIsBoundary || st.bufLen+1+n > c.rules.maxChunkChars) {
				flush()
			}
			if len(st.buf) > 0 {
				st.bufLen++ // joining space
			}
			st.buf = append(st.buf, line)
			st.bufLen += n
		}
	}
	flush()
	return st
}

// IsHeading reports whether a line is a section heading: short, mostly
// uppercase, no terminal punctuation, not a sentence opener, and not a date.
func (r *Rules) IsHeading(line string) bool {
	h := r.headings
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	words := strings.Fields(line)
	if len(words) > h.maxWords {
		return false
	}
	if h.maxLength > 0 && utf8.RuneCountInString(line) > h.maxLength {
		return false
	}
	if upperRatio(line) < h.minUpperRatio {
		return false
	}
	if last, _ := utf8.DecodeLastRuneInString(line); strings.ContainsRune(h.terminal, last) {
		return false
	}
	if _, ok := h.starters[strings.ToLower(strings.Trim(words[0], ",;:"))]; ok {
		return false
	}
	if matchesAny(r.datePatterns, line) {
		return false
	}
	if len(h.patterns) > 0 && !matchesAny(h.patterns, line) {
		return false
	}
	return true
}

// upperRatio is the share of letters that are uppercase; 0 with no letters.
func upperRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
