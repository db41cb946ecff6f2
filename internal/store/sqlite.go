package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/model"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	directory TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	mtime TEXT NOT NULL DEFAULT '',

	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 0,
	preferred_worker_id TEXT NOT NULL DEFAULT '',
	pinned_at TEXT,

	assigned_worker_id TEXT NOT NULL DEFAULT '',
	assigned_at TEXT,
	last_progress_at TEXT,
	lease_token TEXT NOT NULL DEFAULT '',

	source_codec TEXT NOT NULL DEFAULT '',
	source_resolution TEXT NOT NULL DEFAULT '',
	source_audio_codec TEXT NOT NULL DEFAULT '',
	source_bitrate INTEGER NOT NULL DEFAULT 0,
	hdr_kind TEXT NOT NULL DEFAULT 'none',

	target_crf INTEGER NOT NULL DEFAULT 0,
	target_audio_bitrate INTEGER NOT NULL DEFAULT 0,

	output_size_bytes INTEGER NOT NULL DEFAULT 0,
	savings_bytes INTEGER NOT NULL DEFAULT 0,
	savings_percent REAL NOT NULL DEFAULT 0,

	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error_kind TEXT NOT NULL DEFAULT '',
	last_error_message TEXT NOT NULL DEFAULT '',
	error_at TEXT,
	skip_reason TEXT NOT NULL DEFAULT '',

	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS stats_daily (
	day TEXT PRIMARY KEY,
	completed_count INTEGER NOT NULL DEFAULT 0,
	failed_count INTEGER NOT NULL DEFAULT 0,
	skipped_count INTEGER NOT NULL DEFAULT 0,
	saved_bytes INTEGER NOT NULL DEFAULT 0,
	rolled_up_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_files_status_priority ON files(status, priority DESC, id ASC);
CREATE INDEX IF NOT EXISTS idx_files_preferred_worker ON files(preferred_worker_id, status);
CREATE INDEX IF NOT EXISTS idx_files_assigned_worker ON files(assigned_worker_id);
`

// SQLiteStore implements Store using modernc.org/sqlite, the teacher's
// pure-Go CGO-free driver of choice.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewSQLiteStore opens (creating if necessary) a WAL-mode SQLite database
// at dbPath and applies the schema, exactly as the teacher's
// NewSQLiteStore does for its own queue database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	} else if version < schemaVersion {
		// No migrations exist yet at version 1; future schema changes land
		// here as sequential `if version < N` ALTER TABLE blocks, the same
		// shape the teacher's store used across its six versions.
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("update schema version: %w", err)
		}
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func nowStr() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) UpsertScan(path string, size int64, mtime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	var status string
	err := s.db.QueryRow(`SELECT id, status FROM files WHERE path = ?`, path).Scan(&id, &status)
	if err == sql.ErrNoRows {
		now := nowStr()
		_, err := s.db.Exec(`
			INSERT INTO files (path, directory, filename, size_bytes, mtime, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
		`, path, filepath.Dir(path), filepath.Base(path), size, mtime.UTC().Format(time.RFC3339Nano), now, now)
		if err != nil {
			return false, fmt.Errorf("insert scanned file: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup scanned file: %w", err)
	}

	if status != string(model.StatusPending) && status != string(model.StatusFailed) {
		return false, nil
	}

	_, err = s.db.Exec(`
		UPDATE files SET size_bytes = ?, mtime = ?, updated_at = ? WHERE id = ?
	`, size, mtime.UTC().Format(time.RFC3339Nano), nowStr(), id)
	if err != nil {
		return false, fmt.Errorf("update scanned file: %w", err)
	}
	return false, nil
}

func (s *SQLiteStore) CandidatesForScheduling(orderingKey string, limit int) ([]*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderBy := "mtime ASC"
	switch orderingKey {
	case "newest_mtime":
		orderBy = "mtime DESC"
	case "largest_size":
		orderBy = "size_bytes DESC"
	case "smallest_size":
		orderBy = "size_bytes ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM files
		WHERE status = 'pending'
		ORDER BY priority DESC, %s, id ASC
		LIMIT ?
	`, fileColumns, orderBy)

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClaimNext(workerID string, candidateIDs []int64) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range candidateIDs {
		tx, err := s.db.Begin()
		if err != nil {
			return nil, err
		}

		var status string
		err = tx.QueryRow(`SELECT status FROM files WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			tx.Rollback()
			continue
		}
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if status != string(model.StatusPending) {
			tx.Rollback()
			continue
		}

		token := uuid.NewString()
		now := nowStr()
		res, err := tx.Exec(`
			UPDATE files SET status = 'assigned', assigned_worker_id = ?, assigned_at = ?,
				lease_token = ?, attempt_count = attempt_count + 1, updated_at = ?
			WHERE id = ? AND status = 'pending'
		`, workerID, now, token, now, id)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			tx.Rollback()
			continue
		}

		row := tx.QueryRow(fmt.Sprintf(`SELECT %s FROM files WHERE id = ?`, fileColumns), id)
		f, err := scanFile(row)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, nil
}

func (s *SQLiteStore) RecordProgress(fileID int64, leaseToken string, percent float64, speed float64, eta time.Duration, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var currentLease, status string
	err := s.db.QueryRow(`SELECT lease_token, status FROM files WHERE id = ?`, fileID).Scan(&currentLease, &status)
	if err == sql.ErrNoRows {
		return fileNotFound(fileID)
	}
	if err != nil {
		return err
	}
	if currentLease == "" || currentLease != leaseToken {
		logger.Warn("dropping progress report with stale lease", "file_id", fileID)
		return staleLease(fileID)
	}

	newStatus := status
	if status == string(model.StatusAssigned) {
		newStatus = string(model.StatusProcessing)
	}

	_, err = s.db.Exec(`
		UPDATE files SET status = ?, last_progress_at = ?, updated_at = ? WHERE id = ? AND lease_token = ?
	`, newStatus, nowStr(), nowStr(), fileID, leaseToken)
	return err
}

func (s *SQLiteStore) RecordCompletion(fileID int64, leaseToken string, outputSize int64, minSavingsPercent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var currentLease, status string
	var sizeBytes int64
	err := s.db.QueryRow(`SELECT lease_token, status, size_bytes FROM files WHERE id = ?`, fileID).Scan(&currentLease, &status, &sizeBytes)
	if err == sql.ErrNoRows {
		return fileNotFound(fileID)
	}
	if err != nil {
		return err
	}

	if status == string(model.StatusCompleted) {
		// Idempotent: first success already recorded this outcome.
		return nil
	}
	if currentLease == "" || currentLease != leaseToken {
		return staleLease(fileID)
	}

	savingsBytes := sizeBytes - outputSize
	var savingsPercent float64
	if sizeBytes > 0 {
		savingsPercent = float64(savingsBytes) / float64(sizeBytes) * 100
	}

	now := nowStr()

	// MIN_SAVINGS_PCT is enforced here, not just by the optional
	// safereplace.Replace() path: any caller claiming a success outcome with
	// too small an output is recorded as a skip instead, the same terminal
	// state an insufficient-savings rejection reaches via /files/{id}/result.
	if savingsPercent < minSavingsPercent {
		_, err = s.db.Exec(`
			UPDATE files SET status = 'skipped', skip_reason = ?, lease_token = '', assigned_worker_id = '',
				completed_at = ?, updated_at = ? WHERE id = ? AND lease_token = ?
		`, string(model.SkipOutputSmallerThanThreshold), now, now, fileID, leaseToken)
		if err != nil {
			return err
		}
		return insufficientSavings(fileID)
	}

	_, err = s.db.Exec(`
		UPDATE files SET status = 'completed', output_size_bytes = ?, savings_bytes = ?,
			savings_percent = ?, lease_token = '', assigned_worker_id = '', completed_at = ?, updated_at = ?
		WHERE id = ? AND lease_token = ?
	`, outputSize, savingsBytes, savingsPercent, now, now, fileID, leaseToken)
	return err
}

func (s *SQLiteStore) RecordFailure(fileID int64, leaseToken string, kind model.ErrorKind, message string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var currentLease string
	var attemptCount int
	err := s.db.QueryRow(`SELECT lease_token, attempt_count FROM files WHERE id = ?`, fileID).Scan(&currentLease, &attemptCount)
	if err == sql.ErrNoRows {
		return fileNotFound(fileID)
	}
	if err != nil {
		return err
	}
	if currentLease == "" || currentLease != leaseToken {
		return staleLease(fileID)
	}

	newStatus := model.StatusFailed
	if kind.Retryable() && attemptCount < maxAttempts {
		newStatus = model.StatusPending
	}

	now := nowStr()
	_, err = s.db.Exec(`
		UPDATE files SET status = ?, last_error_kind = ?, last_error_message = ?, error_at = ?,
			lease_token = '', assigned_worker_id = '', assigned_at = NULL, updated_at = ?
		WHERE id = ? AND lease_token = ?
	`, string(newStatus), string(kind), message, now, now, fileID, leaseToken)
	return err
}

func (s *SQLiteStore) RecordSkip(fileID int64, leaseToken string, reason model.SkipReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leaseToken != "" {
		var currentLease string
		err := s.db.QueryRow(`SELECT lease_token FROM files WHERE id = ?`, fileID).Scan(&currentLease)
		if err == sql.ErrNoRows {
			return fileNotFound(fileID)
		}
		if err != nil {
			return err
		}
		if currentLease != leaseToken {
			return staleLease(fileID)
		}
	}

	now := nowStr()
	_, err := s.db.Exec(`
		UPDATE files SET status = 'skipped', skip_reason = ?, lease_token = '', assigned_worker_id = '',
			completed_at = ?, updated_at = ? WHERE id = ?
	`, string(reason), now, now, fileID)
	return err
}

func (s *SQLiteStore) ReapAssignment(fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowStr()
	_, err := s.db.Exec(`
		UPDATE files SET status = 'pending', assigned_worker_id = '', assigned_at = NULL,
			lease_token = '', updated_at = ?
		WHERE id = ? AND status IN ('assigned', 'processing')
	`, now, fileID)
	return err
}

func (s *SQLiteStore) GetFile(id int64) (*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM files WHERE id = ?`, fileColumns), id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (s *SQLiteStore) ListByStatus(status model.Status) ([]*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM files WHERE status = ? ORDER BY id ASC`, fileColumns), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetPriority(fileID int64, priority int32) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE files SET priority = ?, updated_at = ? WHERE id = ?`, priority, nowStr(), fileID)
	if err != nil {
		return nil, err
	}
	return s.getFileLocked(fileID)
}

// SetPreferredWorker sets or clears the soft pin. Setting one stamps
// pinned_at with the current time, since spec §4.H's PIN_GRACE runs from
// when the pin was set, not from when the file was first scanned; clearing
// one (workerID == "") clears pinned_at too, so a later re-pin starts a
// fresh grace window instead of reusing a stale timestamp.
func (s *SQLiteStore) SetPreferredWorker(fileID int64, workerID string) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowStr()
	var pinnedAt any
	if workerID != "" {
		pinnedAt = now
	}
	_, err := s.db.Exec(`UPDATE files SET preferred_worker_id = ?, pinned_at = ?, updated_at = ? WHERE id = ?`, workerID, pinnedAt, now, fileID)
	if err != nil {
		return nil, err
	}
	return s.getFileLocked(fileID)
}

func (s *SQLiteStore) Skip(fileID int64, reason model.SkipReason) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowStr()
	_, err := s.db.Exec(`
		UPDATE files SET status = 'skipped', skip_reason = ?, lease_token = '', assigned_worker_id = '',
			completed_at = ?, updated_at = ? WHERE id = ?
	`, string(reason), now, now, fileID)
	if err != nil {
		return nil, err
	}
	return s.getFileLocked(fileID)
}

func (s *SQLiteStore) Delete(fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM files WHERE id = ?`, fileID)
	return err
}

func (s *SQLiteStore) Reset(fileID int64) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowStr()
	_, err := s.db.Exec(`
		UPDATE files SET status = 'pending', assigned_worker_id = '', assigned_at = NULL,
			lease_token = '', last_error_kind = '', last_error_message = '', error_at = NULL,
			skip_reason = '', attempt_count = 0, updated_at = ?
		WHERE id = ?
	`, now, fileID)
	if err != nil {
		return nil, err
	}
	return s.getFileLocked(fileID)
}

func (s *SQLiteStore) BulkResetFailed() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE files SET status = 'pending', attempt_count = 0, last_error_kind = '',
			last_error_message = '', error_at = NULL, updated_at = ?
		WHERE status = 'failed'
	`, nowStr())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) BulkDeleteCompleted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM files WHERE status = 'completed'`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) ReleaseStaleProcessing(silence time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-silence).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`
		UPDATE files SET status = 'failed', last_error_kind = 'stalled',
			last_error_message = 'no progress reported within the silence timeout',
			error_at = ?, lease_token = '', assigned_worker_id = '', updated_at = ?
		WHERE status = 'processing' AND (last_progress_at IS NULL OR last_progress_at < ?)
	`, nowStr(), nowStr(), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) SnapshotForUI(topN int) (model.Stats, []*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats model.Stats
	row := s.db.QueryRow(`
		SELECT
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'assigned' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END),
			COALESCE(SUM(size_bytes), 0),
			COALESCE(SUM(savings_bytes), 0)
		FROM files
	`)
	var pending, assigned, processing, completed, failed, skipped sql.NullInt64
	var totalSource, totalSaved sql.NullInt64
	if err := row.Scan(&pending, &assigned, &processing, &completed, &failed, &skipped, &totalSource, &totalSaved); err != nil {
		return stats, nil, err
	}
	stats.PendingCount = pending.Int64
	stats.AssignedCount = assigned.Int64
	stats.ProcessingCount = processing.Int64
	stats.CompletedCount = completed.Int64
	stats.FailedCount = failed.Int64
	stats.SkippedCount = skipped.Int64
	stats.TotalSourceBytes = totalSource.Int64
	stats.TotalSavedBytes = totalSaved.Int64

	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM files ORDER BY updated_at DESC LIMIT ?`, fileColumns), topN)
	if err != nil {
		return stats, nil, err
	}
	defer rows.Close()

	var top []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return stats, nil, err
		}
		top = append(top, f)
	}
	return stats, top, rows.Err()
}

func (s *SQLiteStore) RollupDaily(day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT
			SUM(CASE WHEN status = 'completed' AND substr(completed_at, 1, 10) = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' AND substr(error_at, 1, 10) = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'skipped' AND substr(completed_at, 1, 10) = ? THEN 1 ELSE 0 END),
			COALESCE(SUM(CASE WHEN status = 'completed' AND substr(completed_at, 1, 10) = ? THEN savings_bytes ELSE 0 END), 0)
		FROM files
	`, day, day, day, day)

	var completed, failed, skipped, saved sql.NullInt64
	if err := row.Scan(&completed, &failed, &skipped, &saved); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO stats_daily (day, completed_count, failed_count, skipped_count, saved_bytes, rolled_up_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			completed_count = excluded.completed_count,
			failed_count = excluded.failed_count,
			skipped_count = excluded.skipped_count,
			saved_bytes = excluded.saved_bytes,
			rolled_up_at = excluded.rolled_up_at
	`, day, completed.Int64, failed.Int64, skipped.Int64, saved.Int64, nowStr())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getFileLocked(id int64) (*model.FileRecord, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM files WHERE id = ?`, fileColumns), id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, fileNotFound(id)
	}
	return f, err
}
