package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

type fakeObjectStore struct {
	objects map[string]string // "bucket/key" -> body
	fetched []string
}

func (f *fakeObjectStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for k := range f.objects {
		b, key, _ := strings.Cut(k, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeObjectStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	body, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	f.fetched = append(f.fetched, key)
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri, bucket, key string
		wantErr          bool
	}{
		{"s3://cases/2021/a.pdf", "cases", "2021/a.pdf", false},
		{"s3://cases", "cases", "", false},
		{"s3://cases/", "cases", "", false},
		{"s3:///a.pdf", "", "", true},
		{"/local/a.pdf", "", "", true},
	}
	for _, tt := range tests {
		b, k, err := ParseS3URI(tt.uri)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseS3URI(%q) err = %v", tt.uri, err)
			continue
		}
		if b != tt.bucket || k != tt.key {
			t.Errorf("ParseS3URI(%q) = %q, %q", tt.uri, b, k)
		}
	}
}

func TestEngine_DiscoverS3(t *testing.T) {
	store := &fakeObjectStore{objects: map[string]string{
		"cases/2021/b.txt":       "b",
		"cases/2021/a.pdf":       "a",
		"cases/2021/.hidden.txt": "h",
		"cases/2021/notes.md":    "n",
		"cases/2021/sub/":        "",
		"other/2021/c.txt":       "c",
	}}
	e := NewEngine(WithObjectStore(store))

	refs, _, err := e.Discover(context.Background(), []string{"s3://cases/2021/"}, DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	want := []string{"s3://cases/2021/a.pdf", "s3://cases/2021/b.txt"}
	if strings.Join(refs, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", refs, want)
	}

	refs, _, err = e.Discover(context.Background(), []string{"s3://cases/2021/b.txt"}, DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(refs) != 1 || refs[0] != "s3://cases/2021/b.txt" {
		t.Errorf("single object: got %v", refs)
	}
}

func TestEngine_DiscoverS3_NotConfigured(t *testing.T) {
	_, _, err := NewEngine().Discover(context.Background(), []string{"s3://cases/"}, DiscoverOptions{})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected not configured error, got %v", err)
	}
}

func TestEngine_LoadS3(t *testing.T) {
	store := &fakeObjectStore{objects: map[string]string{
		"cases/2021/order.txt": "ORDER SHEET\nHeard on 5 May 1930.",
	}}
	e := NewEngine(WithObjectStore(store))

	doc, err := e.Load(context.Background(), "s3://cases/2021/order.txt")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.SourcePath != "s3://cases/2021/order.txt" {
		t.Errorf("source path should keep the URI, got %q", doc.SourcePath)
	}
	if len(doc.Pages) != 1 || !strings.Contains(doc.Pages[0].Text, "Heard on 5 May 1930.") {
		t.Errorf("unexpected pages: %+v", doc.Pages)
	}
	if len(store.fetched) != 1 {
		t.Errorf("expected one download, got %v", store.fetched)
	}

	matches, _ := os.ReadDir(os.TempDir())
	for _, m := range matches {
		if strings.HasPrefix(m.Name(), "docket-") && strings.HasSuffix(m.Name(), ".txt") {
			t.Errorf("temp file %s left behind", m.Name())
		}
	}
}

func TestEngine_LoadS3_MissingObject(t *testing.T) {
	e := NewEngine(WithObjectStore(&fakeObjectStore{objects: map[string]string{}}))
	if _, err := e.Load(context.Background(), "s3://cases/missing.txt"); err == nil {
		t.Fatal("expected error")
	}
}
