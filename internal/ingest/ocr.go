package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// OCR recognizes the text of one PDF page.
type OCR interface {
	Recognize(ctx context.Context, pdfPath string, page int) (string, error)
}

// TesseractOCR renders a page with pdftoppm and reads it with tesseract.
// Both binaries must be on PATH (poppler-utils and tesseract-ocr).
type TesseractOCR struct {
	PdftoppmPath  string // default "pdftoppm"
	TesseractPath string // default "tesseract"
	DPI           int    // default 200
	Lang          string // default "eng"
}

// NewTesseractOCR returns a TesseractOCR with defaults and checks that the
// binaries exist.
func NewTesseractOCR() (*TesseractOCR, error) {
	t := &TesseractOCR{}
	t.defaults()
	for _, bin := range []string{t.PdftoppmPath, t.TesseractPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("ocr needs %s on PATH: %w", bin, err)
		}
	}
	return t, nil
}

func (t *TesseractOCR) defaults() {
	if t.PdftoppmPath == "" {
		t.PdftoppmPath = "pdftoppm"
	}
	if t.TesseractPath == "" {
		t.TesseractPath = "tesseract"
	}
	if t.DPI <= 0 {
		t.DPI = 200
	}
	if t.Lang == "" {
		t.Lang = "eng"
	}
}

// Recognize renders page to a PNG in a temp dir and returns tesseract's text.
func (t *TesseractOCR) Recognize(ctx context.Context, pdfPath string, page int) (string, error) {
	t.defaults()

	dir, err := os.MkdirTemp("", "docket-ocr-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	render := exec.CommandContext(ctx, t.PdftoppmPath,
		"-r", strconv.Itoa(t.DPI), "-f", n, "-l", n, "-png", "-singlefile", pdfPath, prefix)
	if out, err := render.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}

	var stdout, stderr bytes.Buffer
	read := exec.CommandContext(ctx, t.TesseractPath, prefix+".png", "stdout", "-l", t.Lang)
	read.Stdout, read.Stderr = &stdout, &stderr
	if err := read.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return cleanPageText(stdout.String()), nil
}
