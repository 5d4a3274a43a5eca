package ingest

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/docket/internal/extract"
)

// DocxLoader reads paragraphs from word/document.xml. A .docx has no fixed
// pagination, so the whole document is page 1 unless it carries explicit page
// breaks, which start a new page.
type DocxLoader struct{}

// CanHandle returns true for .docx files.
func (d *DocxLoader) CanHandle(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".docx"
}

// Load returns one line per non-empty paragraph.
func (d *DocxLoader) Load(ctx context.Context, path string) (*Document, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in archive")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	pages, err := docxPages(rc)
	if err != nil {
		return nil, err
	}
	return &Document{SourcePath: path, Pages: pages}, nil
}

func docxPages(r io.Reader) ([]extract.Page, error) {
	decoder := xml.NewDecoder(r)

	var pages []extract.Page
	var lines []string
	var para strings.Builder
	inParagraph, inText := false, false
	pageNr := 1

	flushPage := func() {
		if len(lines) > 0 {
			pages = append(pages, extract.Page{Number: pageNr, Text: strings.Join(lines, "\n")})
		}
		lines = nil
	}
	endParagraph := func() {
		if text := strings.TrimSpace(para.String()); text != "" {
			lines = append(lines, text)
		}
		para.Reset()
	}

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				para.Reset()
			case "t":
				inText = inParagraph
			case "tab":
				if inParagraph {
					para.WriteByte(' ')
				}
			case "br":
				if !inParagraph {
					continue
				}
				if isPageBreak(t) {
					endParagraph()
					flushPage()
					pageNr++
				} else {
					para.WriteByte(' ')
				}
			}

		case xml.CharData:
			if inText {
				para.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if inParagraph {
					endParagraph()
					inParagraph = false
				}
			}
		}
	}
	flushPage()
	return pages, nil
}

func isPageBreak(el xml.StartElement) bool {
	for _, attr := range el.Attr {
		if attr.Name.Local == "type" && attr.Value == "page" {
			return true
		}
	}
	return false
}
