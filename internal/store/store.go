// Package store persists extraction runs and their records in SQLite.
//
// Each run of the pipeline is recorded once with its inputs and settings,
// and every record it produced is stored as an event row tied to that run.
// Later runs never modify earlier ones.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hurttlocker/docket/internal/extract"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.docket/docket.db"

// DefaultListLimit caps ListEvents and ListRuns when no limit is given.
const DefaultListLimit = 500

// ErrNotFound is returned when a run lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Run describes one pipeline invocation.
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Inputs          []string
	Threshold       float64
	UsedLLM         bool
	Model           string
	Documents       int
	FailedDocuments int
	RecordCount     int
	Warnings        []string
}

// Event is one persisted record.
type Event struct {
	ID          int64
	RunID       string
	SourcePath  string
	Date        string
	EventType   string
	Description string
	Location    string
	PageNumber  int
	Confidence  float64
	Origin      string
}

// Candidate converts a stored event back to an extraction record.
func (e Event) Candidate() extract.Candidate {
	return extract.Candidate{
		Date:        e.Date,
		EventType:   extract.ParseEventType(e.EventType),
		Description: e.Description,
		Location:    e.Location,
		SourcePath:  e.SourcePath,
		PageNumber:  e.PageNumber,
		Confidence:  e.Confidence,
		HasDate:     e.Date != "",
		HasEvent:    true,
		Origin:      extract.Origin(e.Origin),
	}
}

// EventFilter narrows ListEvents. Zero values mean "any".
type EventFilter struct {
	RunID     string // empty selects the latest run
	Source    string // substring match on source_path
	EventType string
	From      string // inclusive ISO date
	To        string // inclusive ISO date
	Limit     int
}

// StoreStats holds counts for observability.
type StoreStats struct {
	RunCount    int64
	EventCount  int64
	LatestRunID string
	DBSizeBytes int64
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the persistence interface.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, run *Run, records []extract.Candidate) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Events
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	return openSQLite(cfg)
}

func openSQLite(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	cfg.DBPath = expandPath(cfg.DBPath)

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own empty database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum reclaims free pages.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns run and event counts plus the on-disk size.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&stats.RunCount); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&stats.EventCount); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	latest, err := s.latestRunID(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	stats.LatestRunID = latest

	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			stats.DBSizeBytes = info.Size()
		}
	}
	return stats, nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
