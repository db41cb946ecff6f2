package scan

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeUpserter struct {
	mu    sync.Mutex
	calls int
	seen  map[string]bool
}

func newFakeUpserter() *fakeUpserter { return &fakeUpserter{seen: map[string]bool{}} }

func (f *fakeUpserter) UpsertScan(path string, size int64, mtime time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	added := !f.seen[path]
	f.seen[path] = true
	return added, nil
}

func TestScan_UpsertsVideoFilesOnly(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "movie.mkv"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "movie.mkv.bak"), []byte("x"), 0o644)

	fu := newFakeUpserter()
	s := New(fu, []string{dir})

	result, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Added != 1 {
		t.Fatalf("expected 1 video file added, got %d", result.Added)
	}
}

func TestScan_CachesResultBriefly(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "movie.mkv"), []byte("x"), 0o644)

	fu := newFakeUpserter()
	s := New(fu, []string{dir})

	s.Scan()
	callsAfterFirst := fu.calls
	s.Scan()
	if fu.calls != callsAfterFirst {
		t.Fatalf("expected second Scan to hit the cache, calls grew from %d to %d", callsAfterFirst, fu.calls)
	}
}
