// Package output writes resolved records as CSV or JSON.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/docket/internal/extract"
)

// Columns is the CSV header, in order.
var Columns = []string{"DATE", "EVENT", "DESCRIPTION", "PAGE/SECTION", "SOURCE"}

// Format selects the serialization.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Row is one record in output form.
type Row struct {
	Date        string `json:"DATE"`
	Event       string `json:"EVENT"`
	Description string `json:"DESCRIPTION"`
	Location    string `json:"PAGE/SECTION"`
	Source      string `json:"SOURCE"`
}

// RowFrom converts a resolved record.
func RowFrom(c extract.Candidate) Row {
	return Row{
		Date:        c.Date,
		Event:       string(c.EventType),
		Description: c.Description,
		Location:    c.Location,
		Source:      c.SourcePath,
	}
}

// FormatForPath picks JSON for a .json path and CSV otherwise.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatCSV
}

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: csv, json)", s)
	}
}

// Write serializes records to w in the given format.
func Write(w io.Writer, format Format, records []extract.Candidate) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteCSV writes a header row followed by one row per record.
func WriteCSV(w io.Writer, records []extract.Candidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, c := range records {
		r := RowFrom(c)
		if err := cw.Write([]string{r.Date, r.Event, r.Description, r.Location, r.Source}); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes an indented array of rows. An empty result is "[]".
func WriteJSON(w io.Writer, records []extract.Candidate) error {
	rows := make([]Row, 0, len(records))
	for _, c := range records {
		rows = append(rows, RowFrom(c))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("writing json: %w", err)
	}
	return nil
}

// WriteFile writes records to path, creating parent directories. The format
// follows the file extension.
func WriteFile(path string, records []extract.Candidate) error {
	return WriteFileFormat(path, FormatForPath(path), records)
}

// WriteFileFormat is WriteFile with an explicit format.
func WriteFileFormat(path string, format Format, records []extract.Candidate) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Write(f, format, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
