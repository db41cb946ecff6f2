// Package store is the single-writer transactional source of truth for
// the farm's file queue. Every mutation described in spec §4.A goes
// through this interface; nothing else is allowed to hold coordinator
// state in memory, mirroring the teacher's own "Store" boundary.
package store

import (
	"time"

	"github.com/gwlsn/avfarm/internal/model"
)

// Store defines the persistence interface for file-queue data.
// Implementations must be safe for concurrent use and must serialize
// all mutating operations through a single writer.
type Store interface {
	// UpsertScan inserts a new pending FileRecord, or updates size/mtime
	// on an existing pending/failed record. Never touches an in-flight
	// (assigned/processing) record. Returns whether a row was added vs
	// updated, for the admin/scan response.
	UpsertScan(path string, size int64, mtime time.Time) (added bool, err error)

	// ClaimNext atomically assigns the first file in candidateIDs (in
	// priority order, already filtered/ordered by the caller) that is still
	// pending to worker, minting a fresh lease token and incrementing
	// attempt_count. Returns nil if none of the candidates is still pending.
	ClaimNext(workerID string, candidateIDs []int64) (*model.FileRecord, error)

	// CandidatesForScheduling returns pending files ordered by the
	// Scheduler's composite key, for the caller to filter by capability
	// and pin-grace before calling ClaimNext. limit bounds the scan.
	CandidatesForScheduling(orderingKey string, limit int) ([]*model.FileRecord, error)

	// RecordProgress rejects a stale lease with ErrStaleLease; otherwise
	// bumps last_progress_at and transitions assigned->processing on the
	// first progress report.
	RecordProgress(fileID int64, leaseToken string, percent float64, speed float64, eta time.Duration, message string) error

	// RecordCompletion transitions the file to completed. Idempotent: a
	// repeat call with the same (fileID, leaseToken) on an already
	// completed record is a no-op, not an error. If outputSize doesn't clear
	// minSavingsPercent the file is recorded as skipped
	// (SkipOutputSmallerThanThreshold) instead, and ErrInsufficientSavings is
	// returned — MIN_SAVINGS_PCT is enforced here, not only by the optional
	// safereplace path, since this is the one call every success outcome
	// passes through regardless of which RPC produced it.
	RecordCompletion(fileID int64, leaseToken string, outputSize int64, minSavingsPercent float64) error

	// RecordFailure transitions to pending (if retryable and under
	// MaxAttempts) or failed otherwise.
	RecordFailure(fileID int64, leaseToken string, kind model.ErrorKind, message string, maxAttempts int) error

	// RecordSkip marks a file as terminally skipped with reason, bypassing
	// the failure/retry path entirely (e.g. dynamic HDR, already-efficient).
	RecordSkip(fileID int64, leaseToken string, reason model.SkipReason) error

	// ReapAssignment clears an assignment held by a worker deemed
	// offline, returning the file to pending. No-op if the file is no
	// longer assigned to that worker (lost race with a legitimate report).
	ReapAssignment(fileID int64) error

	// GetFile retrieves a single record by ID. Returns nil, nil if absent.
	GetFile(id int64) (*model.FileRecord, error)

	// ListByStatus returns all records in a given status.
	ListByStatus(status model.Status) ([]*model.FileRecord, error)

	// Admin operations (spec §4.A).
	SetPriority(fileID int64, priority int32) (*model.FileRecord, error)
	SetPreferredWorker(fileID int64, workerID string) (*model.FileRecord, error)
	Skip(fileID int64, reason model.SkipReason) (*model.FileRecord, error)
	Delete(fileID int64) error
	Reset(fileID int64) (*model.FileRecord, error)
	BulkResetFailed() (int, error)
	BulkDeleteCompleted() (int, error)

	// ReleaseStaleProcessing force-fails any `processing` record whose
	// last_progress_at is older than silence, classifying it as stalled.
	// Used by the progress-silence timeout of spec §5.
	ReleaseStaleProcessing(silence time.Duration) (int, error)

	// SnapshotForUI returns a consistent read of counts plus the top-N
	// files by updated_at, for /status and the WS initial snapshot.
	SnapshotForUI(topN int) (model.Stats, []*model.FileRecord, error)

	// RollupDaily folds yesterday's completed/failed/skipped counters
	// into stats_daily. Invoked by the coordinator's daily cron (§12).
	RollupDaily(day string) error

	Close() error
}
