package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/hurttlocker/docket/internal/extract"
)

// Document is one input file as ordered page text.
type Document struct {
	SourcePath string         // display path; s3:// URIs are kept as given
	Pages      []extract.Page // 1-based page numbers, in order
}

// TextLen returns the number of bytes of text across all pages.
func (d *Document) TextLen() int {
	n := 0
	for _, p := range d.Pages {
		n += len(p.Text)
	}
	return n
}

// OCRPages counts pages whose text came from OCR.
func (d *Document) OCRPages() int {
	n := 0
	for _, p := range d.Pages {
		if p.FromOCR {
			n++
		}
	}
	return n
}

// Loader handles a specific file format.
type Loader interface {
	// CanHandle returns true if this loader supports the given file path.
	CanHandle(path string) bool

	// Load reads the file into page text.
	Load(ctx context.Context, path string) (*Document, error)
}

// ErrUnsupported is returned for inputs no loader handles.
var ErrUnsupported = errors.New("unsupported file type")

// LoadError records a non-fatal error for one input.
type LoadError struct {
	File    string
	Message string
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// DiscoverOptions configures input discovery.
type DiscoverOptions struct {
	Recursive   bool
	MaxFileSize int64 // bytes, default 50MB
	ProgressFn  func(current, total int, file string)
}

// DefaultMaxFileSize is 50MB. Court bundles are larger than notes.
const DefaultMaxFileSize = 50 * 1024 * 1024

// SupportedExtensions are the file types discovery picks up.
var SupportedExtensions = []string{".pdf", ".docx", ".txt"}
