// Package ingest turns input paths into ordered page text for the extractor.
//
// Each supported format (PDF, DOCX, plain text) has its own loader that
// implements the Loader interface. The engine expands directories and s3://
// prefixes into individual inputs, picks a loader by file extension, and
// keeps the original path as the provenance of every page.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Engine discovers and loads input documents.
type Engine struct {
	loaders []Loader
	objects ObjectStore // nil disables s3:// inputs
}

// Option configures an Engine.
type Option func(*Engine)

// WithOCR enables OCR for PDF pages without a text layer.
func WithOCR(ocr OCR) Option {
	return func(e *Engine) {
		for _, l := range e.loaders {
			if p, ok := l.(*PDFLoader); ok {
				p.OCR = ocr
			}
		}
	}
}

// WithObjectStore enables s3:// inputs.
func WithObjectStore(s ObjectStore) Option {
	return func(e *Engine) { e.objects = s }
}

// NewEngine creates an engine with the PDF, DOCX and text loaders.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		loaders: []Loader{
			&PDFLoader{},
			&DocxLoader{},
			&TextLoader{},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetectLoader returns the loader for path, or nil.
func (e *Engine) DetectLoader(path string) Loader {
	for _, l := range e.loaders {
		if l.CanHandle(path) {
			return l
		}
	}
	return nil
}

// Discover expands inputs into individual document references in sorted
// order. Files are taken as given; directories are walked (hidden entries
// skipped) for supported extensions; s3://bucket/prefix lists objects.
// Unreadable entries become LoadErrors rather than failing the whole call.
func (e *Engine) Discover(ctx context.Context, inputs []string, opts DiscoverOptions) ([]string, []LoadError, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	seen := map[string]bool{}
	var refs []string
	var errs []LoadError
	add := func(ref string) {
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, errs, err
		}
		in = strings.TrimSpace(in)
		if in == "" {
			continue
		}

		if IsS3URI(in) {
			keys, err := e.discoverS3(ctx, in)
			if err != nil {
				return nil, errs, err
			}
			for _, k := range keys {
				add(k)
			}
			continue
		}

		info, err := os.Lstat(in)
		if err != nil {
			return nil, errs, fmt.Errorf("input %s: %w", in, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Stat(in)
			if err != nil {
				return nil, errs, fmt.Errorf("input %s: %w", in, err)
			}
			if target.IsDir() {
				return nil, errs, fmt.Errorf("input %s: symlinked directory is not supported", in)
			}
			info = target
		}

		if !info.IsDir() {
			if e.DetectLoader(in) == nil {
				return nil, errs, fmt.Errorf("input %s: %w", in, ErrUnsupported)
			}
			add(in)
			continue
		}

		found, walkErrs := e.walkDir(in, opts)
		errs = append(errs, walkErrs...)
		for _, f := range found {
			add(f)
		}
	}

	sort.Strings(refs)
	if opts.ProgressFn != nil {
		for i, ref := range refs {
			opts.ProgressFn(i+1, len(refs), ref)
		}
	}
	return refs, errs, nil
}

func (e *Engine) walkDir(root string, opts DiscoverOptions) ([]string, []LoadError) {
	var files []string
	var errs []LoadError

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, LoadError{File: path, Message: err.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && !opts.Recursive {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !supportedExt(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			errs = append(errs, LoadError{File: path, Message: err.Error()})
			return nil
		}
		if info.Size() > opts.MaxFileSize {
			errs = append(errs, LoadError{File: path, Message: fmt.Sprintf("file too large (%d bytes)", info.Size())})
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, errs
}

func supportedExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Load reads one discovered reference. s3:// references are downloaded to a
// temporary file first; the document keeps the URI as its source path.
func (e *Engine) Load(ctx context.Context, ref string) (*Document, error) {
	l := e.DetectLoader(ref)
	if l == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrUnsupported)
	}

	if !IsS3URI(ref) {
		return l.Load(ctx, ref)
	}

	local, cleanup, err := e.fetchS3(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	doc, err := l.Load(ctx, local)
	if err != nil {
		return nil, err
	}
	doc.SourcePath = ref
	return doc, nil
}
