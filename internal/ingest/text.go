package ingest

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hurttlocker/docket/internal/extract"
)

// TextLoader handles .txt files. Plain text has no pages, so page breaks are
// recovered from form feeds and from page-number lines: a line holding only a
// 3-4 digit number starts the page with that number.
type TextLoader struct{}

// CanHandle returns true for .txt files.
func (t *TextLoader) CanHandle(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".txt"
}

// Load reads a text file into pages.
func (t *TextLoader) Load(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Document{SourcePath: path, Pages: splitTextPages(string(data))}, nil
}

var pageMarkRE = regexp.MustCompile(`^\s*(\d{3,4})\s*$`)

// splitTextPages splits text on page markers. Text before the first marker is
// page 1. Pages with no text are dropped; a file with no markers is one page.
func splitTextPages(content string) []extract.Page {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var pages []extract.Page
	cur := 1
	var lines []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		if text != "" {
			pages = append(pages, extract.Page{Number: cur, Text: text})
		}
		lines = nil
	}

	for _, line := range strings.Split(content, "\n") {
		for strings.Contains(line, "\f") {
			i := strings.Index(line, "\f")
			lines = append(lines, line[:i])
			flush()
			cur++
			line = line[i+1:]
		}
		if m := pageMarkRE.FindStringSubmatch(line); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			cur = n
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return pages
}
