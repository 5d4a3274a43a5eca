package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hurttlocker/docket/internal/extract"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecords() []extract.Candidate {
	return []extract.Candidate{
		{Date: "1921-03-11", EventType: extract.EventLease, Description: "the plaintiff filed a lease",
			Location: "p.1 / FACTS", SourcePath: "/cases/a.txt", PageNumber: 1, Confidence: 0.8,
			HasDate: true, HasEvent: true, Origin: extract.OriginRule},
		{Date: "1922-01-05", EventType: extract.EventHearing, Description: "heard in open court",
			Location: "p.2", SourcePath: "/cases/a.txt", PageNumber: 2, Confidence: 0.75,
			HasDate: true, HasEvent: true, Origin: extract.OriginLLM},
		{Date: "1930-05-05", EventType: extract.EventOrder, Description: "order passed",
			Location: "p.1 / ORDER SHEET", SourcePath: "/cases/b_2.txt", PageNumber: 1, Confidence: 0.9,
			HasDate: true, HasEvent: true, Origin: extract.OriginRule},
	}
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()

	ss := s.(*SQLiteStore)
	for _, table := range []string{"runs", "events", "meta"} {
		var name string
		err := ss.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	for _, idx := range []string{"idx_events_run_date", "idx_events_type"} {
		var name string
		err := ss.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		if err != nil {
			t.Errorf("index %q not found: %v", idx, err)
		}
	}

	version, err := ss.getMetaValue("schema_version")
	if err != nil || version != "1" {
		t.Errorf("schema_version = %q, %v", version, err)
	}
}

func TestNewStore_ReopenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docket.db")

	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s.SaveRun(context.Background(), &Run{Threshold: 0.6}, sampleRecords()); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	s, err = NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.RunCount != 1 || stats.EventCount != 3 {
		t.Errorf("after reopen: %+v", stats)
	}
	if stats.DBSizeBytes == 0 {
		t.Error("expected a non-zero file size")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/.docket/docket.db"); got != filepath.Join(home, ".docket", "docket.db") {
		t.Errorf("expandPath = %q", got)
	}
	if got := expandPath("/abs/path.db"); got != "/abs/path.db" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := expandPath(":memory:"); got != ":memory:" {
		t.Errorf(":memory: changed: %q", got)
	}
}

// --- Runs ---

func TestSaveRun_AssignsIDAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &Run{
		StartedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 9, 0, time.UTC),
		Inputs:     []string{"/cases"},
		Threshold:  0.6,
		UsedLLM:    true,
		Model:      "google/gemini-2.5-flash",
		Documents:  2,
		Warnings:   []string{"/cases/broken.pdf: ingest: bad header"},
	}
	if err := s.SaveRun(ctx, run, sampleRecords()); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if len(run.ID) != 36 {
		t.Fatalf("expected a UUID, got %q", run.ID)
	}
	if run.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", run.RecordCount)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if !got.StartedAt.Equal(run.StartedAt) || !got.FinishedAt.Equal(run.FinishedAt) {
		t.Errorf("times = %v..%v", got.StartedAt, got.FinishedAt)
	}
	if !got.UsedLLM || got.Model != run.Model || got.Threshold != 0.6 || got.Documents != 2 {
		t.Errorf("unexpected run: %+v", got)
	}
	if len(got.Inputs) != 1 || got.Inputs[0] != "/cases" {
		t.Errorf("inputs = %v", got.Inputs)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != run.Warnings[0] {
		t.Errorf("warnings = %v", got.Warnings)
	}
}

func TestSaveRun_NoRecords(t *testing.T) {
	s := newTestStore(t)
	run := &Run{Threshold: 0.6}
	if err := s.SaveRun(context.Background(), run, nil); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	got, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.RecordCount != 0 || len(got.Inputs) != 0 || len(got.Warnings) != 0 {
		t.Errorf("unexpected run: %+v", got)
	}
}

func TestSaveRun_DuplicateKeyRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := sampleRecords()
	recs = append(recs, recs[0])
	run := &Run{ID: "dup-run", Threshold: 0.6}
	if err := s.SaveRun(ctx, run, recs); err == nil {
		t.Fatal("expected unique constraint error")
	}
	if _, err := s.GetRun(ctx, "dup-run"); !errors.Is(err, ErrNotFound) {
		t.Errorf("run should have been rolled back, got %v", err)
	}
	stats, _ := s.Stats(ctx)
	if stats.EventCount != 0 {
		t.Errorf("events should have been rolled back, got %d", stats.EventCount)
	}
}

func TestSaveRun_Nil(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveRun(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil run")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		run := &Run{ID: fmt.Sprintf("run-%d", i), StartedAt: base.Add(time.Duration(i) * time.Hour), Threshold: 0.6}
		if err := s.SaveRun(ctx, run, nil); err != nil {
			t.Fatalf("SaveRun %d failed: %v", i, err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-2" || runs[2].ID != "run-0" {
		t.Fatalf("unexpected order: %v", runIDs(runs))
	}

	runs, err = s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Errorf("limit 1: %v", runIDs(runs))
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

// --- Events ---

func TestListEvents_LatestRunByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	old := &Run{ID: "old", StartedAt: base, Threshold: 0.6}
	if err := s.SaveRun(ctx, old, sampleRecords()[:1]); err != nil {
		t.Fatalf("SaveRun old: %v", err)
	}
	latest := &Run{ID: "new", StartedAt: base.Add(time.Hour), Threshold: 0.6}
	if err := s.SaveRun(ctx, latest, sampleRecords()); err != nil {
		t.Fatalf("SaveRun new: %v", err)
	}

	events, err := s.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events from latest run, got %d", len(events))
	}
	for _, e := range events {
		if e.RunID != "new" {
			t.Errorf("event from run %q", e.RunID)
		}
	}
	// Ordered by source, date, page.
	if events[0].Date != "1921-03-11" || events[1].Date != "1922-01-05" || events[2].SourcePath != "/cases/b_2.txt" {
		t.Errorf("unexpected order: %s %s %s", events[0].Date, events[1].Date, events[2].SourcePath)
	}

	events, err = s.ListEvents(ctx, EventFilter{RunID: "old"})
	if err != nil {
		t.Fatalf("ListEvents old failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event from old run, got %d", len(events))
	}
}

func TestListEvents_NoRuns(t *testing.T) {
	s := newTestStore(t)
	events, err := s.ListEvents(context.Background(), EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestListEvents_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, &Run{Threshold: 0.6}, sampleRecords()); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"source substring", EventFilter{Source: "a.txt"}, 2},
		{"underscore is literal", EventFilter{Source: "b_2"}, 1},
		{"underscore does not wildcard", EventFilter{Source: "a_t"}, 0},
		{"event type case-insensitive", EventFilter{EventType: "hearing"}, 1},
		{"from", EventFilter{From: "1922-01-01"}, 2},
		{"to", EventFilter{To: "1921-12-31"}, 1},
		{"range", EventFilter{From: "1922-01-01", To: "1922-12-31"}, 1},
		{"limit", EventFilter{Limit: 2}, 2},
		{"unknown run", EventFilter{RunID: "nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.ListEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListEvents failed: %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("got %d events, want %d", len(events), tt.want)
			}
		})
	}
}

func TestEvent_Candidate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	recs := sampleRecords()
	if err := s.SaveRun(ctx, &Run{Threshold: 0.6}, recs); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	events, err := s.ListEvents(ctx, EventFilter{EventType: "Hearing"})
	if err != nil || len(events) != 1 {
		t.Fatalf("ListEvents: %v, %d", err, len(events))
	}
	got := events[0].Candidate()
	if got != recs[1] {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, recs[1])
	}
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	if err := s.Vacuum(context.Background()); err != nil {
		t.Fatalf("Vacuum failed: %v", err)
	}
}
