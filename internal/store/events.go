package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ListEvents returns the records of one run in output order
// (source, date, page). With no RunID the latest run is used; with no runs
// at all the result is empty.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	runID := f.RunID
	if runID == "" {
		latest, err := s.latestRunID(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		runID = latest
	}

	where := []string{"run_id = ?"}
	args := []any{runID}
	if f.Source != "" {
		where = append(where, "source_path LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.Source)+"%")
	}
	if f.EventType != "" {
		where = append(where, "event_type = ? COLLATE NOCASE")
		args = append(args, f.EventType)
	}
	if f.From != "" {
		where = append(where, "date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "date <= ?")
		args = append(args, f.To)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)

	query := `SELECT id, run_id, source_path, date, event_type, description, location,
	                 page_number, confidence, origin
	          FROM events
	          WHERE ` + strings.Join(where, " AND ") + `
	          ORDER BY source_path, date, page_number, event_type
	          LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.SourcePath, &e.Date, &e.EventType, &e.Description,
			&e.Location, &e.PageNumber, &e.Confidence, &e.Origin); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
