// Package scan walks the configured media roots and feeds discovered video
// files into the Store as pending work. Concurrent scan requests for the
// same root are collapsed with singleflight, and a short-lived result
// cache avoids re-walking a root an operator just triggered.
package scan

import (
	"os"
	"path/filepath"
	"time"

	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/gwlsn/avfarm/internal/ffmpeg"
	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/safereplace"
)

// cacheTTL bounds how long a completed scan's result is remembered, so a
// burst of admin/scan calls against an unchanged tree doesn't re-walk it.
const cacheTTL = 30 * time.Second

// upserter is the one Store capability the Scanner needs.
type upserter interface {
	UpsertScan(path string, size int64, mtime time.Time) (added bool, err error)
}

// Result is the admin/scan response shape (spec §6).
type Result struct {
	Added   int
	Updated int
}

// Scanner walks MediaRoots and upserts every video file it finds.
type Scanner struct {
	store       upserter
	mediaRoots  []string
	group       singleflight.Group
	resultCache *cache.Cache
}

// New creates a Scanner over the given media roots.
func New(s upserter, mediaRoots []string) *Scanner {
	return &Scanner{
		store:       s,
		mediaRoots:  mediaRoots,
		resultCache: cache.New(cacheTTL, 2*cacheTTL),
	}
}

// Scan walks every configured root once, upserting each video file it
// finds that isn't a SafeReplace backup sibling. Concurrent callers
// collapse onto a single walk via singleflight; the key is fixed because
// a Scanner always walks the same configured roots.
func (s *Scanner) Scan() (Result, error) {
	const key = "scan-all-roots"

	if cached, ok := s.resultCache.Get(key); ok {
		return cached.(Result), nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.walkAll()
	})
	if err != nil {
		return Result{}, err
	}
	result := v.(Result)
	s.resultCache.Set(key, result, cache.DefaultExpiration)
	return result, nil
}

func (s *Scanner) walkAll() (Result, error) {
	var result Result
	for _, root := range s.mediaRoots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				logger.Warn("scan walk error", "path", path, "error", err)
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if safereplace.IsBackupPath(path) {
				return nil
			}
			if !ffmpeg.IsVideoFile(path) {
				return nil
			}

			added, err := s.store.UpsertScan(path, info.Size(), info.ModTime())
			if err != nil {
				logger.Warn("upsert scan failed", "path", path, "error", err)
				return nil
			}
			if added {
				result.Added++
			} else {
				result.Updated++
			}
			return nil
		})
		if err != nil {
			return result, err
		}
	}
	return result, nil
}
