package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"filedeck/internal/apperr"
	"filedeck/internal/files"
	"filedeck/internal/fsutil"
)

func newTestSearcher(t *testing.T) (*Searcher, string) {
	t.Helper()
	res, err := fsutil.NewResolver(filepath.Join(t.TempDir(), "root"), false)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return New(res), res.Root()
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func byPath(entries []files.Entry) map[string]files.Entry {
	m := make(map[string]files.Entry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}

func TestSearch_CapsAtMaxResults(t *testing.T) {
	s, root := newTestSearcher(t)
	for i := 0; i < 150; i++ {
		touch(t, filepath.Join(root, fmt.Sprintf("d%d", i%3), fmt.Sprintf("match-%03d.txt", i)))
	}

	res, err := s.Search(context.Background(), "", "MATCH")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Results) != MaxResults {
		t.Errorf("got %d results, want %d", len(res.Results), MaxResults)
	}
	if !res.Truncated || res.Reason != ReasonMaxResults {
		t.Errorf("truncated = %v reason = %q", res.Truncated, res.Reason)
	}
}

func TestSearch_ExactlyMaxResultsIsNotTruncated(t *testing.T) {
	s, root := newTestSearcher(t)
	for i := 0; i < MaxResults; i++ {
		touch(t, filepath.Join(root, fmt.Sprintf("d%d", i%3), fmt.Sprintf("match-%03d.txt", i)))
	}

	res, err := s.Search(context.Background(), "", "match")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Results) != MaxResults {
		t.Errorf("got %d results, want %d", len(res.Results), MaxResults)
	}
	if res.Truncated || res.Reason != "" {
		t.Errorf("truncated = %v reason = %q, want no truncation", res.Truncated, res.Reason)
	}
}

func TestSearch_MatchesNamesCaseInsensitive(t *testing.T) {
	s, root := newTestSearcher(t)
	touch(t, filepath.Join(root, "Photos", "Holiday.JPG"))
	touch(t, filepath.Join(root, "docs", "holiday-plan.md"))
	touch(t, filepath.Join(root, "holidays", "readme.txt"))
	touch(t, filepath.Join(root, ".cache", "holiday.tmp"))
	touch(t, filepath.Join(root, "other.txt"))

	res, err := s.Search(context.Background(), "", "HoLiDay")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	got := byPath(res.Results)
	for _, want := range []string{"Photos/Holiday.JPG", "docs/holiday-plan.md", "holidays", ".cache/holiday.tmp"} {
		if _, ok := got[want]; !ok {
			t.Errorf("missing match %q in %v", want, got)
		}
	}
	if len(got) != 4 {
		t.Errorf("got %d matches, want 4: %v", len(got), got)
	}
	if got["holidays"].Type != files.TypeFolder {
		t.Errorf("holidays type = %q", got["holidays"].Type)
	}
	if got["Photos/Holiday.JPG"].Extension != ".jpg" {
		t.Errorf("extension = %q", got["Photos/Holiday.JPG"].Extension)
	}
	if res.Truncated {
		t.Error("unexpected truncation")
	}
}

func TestSearch_PathsRelativeToRoot(t *testing.T) {
	s, root := newTestSearcher(t)
	touch(t, filepath.Join(root, "a", "b", "target.txt"))

	res, err := s.Search(context.Background(), "/a/", "target")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Path != "a/b/target.txt" {
		t.Errorf("results = %+v", res.Results)
	}
}

func TestSearch_EmptyQueryMatchesAll(t *testing.T) {
	s, root := newTestSearcher(t)
	touch(t, filepath.Join(root, "x", "y.txt"))

	res, err := s.Search(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Results) != 2 {
		t.Errorf("results = %+v", res.Results)
	}
}

func TestSearch_MaxScanned(t *testing.T) {
	s, root := newTestSearcher(t)
	s.maxScanned = 5
	for i := 0; i < 10; i++ {
		touch(t, filepath.Join(root, fmt.Sprintf("f%d", i)))
	}

	res, err := s.Search(context.Background(), "", "zzz")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !res.Truncated || res.Reason != ReasonMaxScanned {
		t.Errorf("truncated = %v reason = %q", res.Truncated, res.Reason)
	}
}

func TestSearch_Errors(t *testing.T) {
	s, root := newTestSearcher(t)
	touch(t, filepath.Join(root, "file.txt"))

	if _, err := s.Search(context.Background(), "missing", "x"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("missing: err = %v, want NotFound", err)
	}
	if _, err := s.Search(context.Background(), "file.txt", "x"); !apperr.Is(err, apperr.BadRequest) {
		t.Errorf("file: err = %v, want BadRequest", err)
	}
	if _, err := s.Search(context.Background(), "../..", "x"); !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("escape: err = %v, want Forbidden", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Search(ctx, "", "x"); err == nil {
		t.Error("expected error for canceled context")
	}
}
