package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/avfarm/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertScan_InsertsPendingThenUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)

	added, err := s.UpsertScan("/media/a.mkv", 1000, time.Now())
	if err != nil {
		t.Fatalf("UpsertScan: %v", err)
	}
	if !added {
		t.Fatalf("expected first scan to add a row")
	}

	added, err = s.UpsertScan("/media/a.mkv", 2000, time.Now())
	if err != nil {
		t.Fatalf("UpsertScan update: %v", err)
	}
	if added {
		t.Fatalf("expected second scan to update, not add")
	}

	f, err := s.GetFile(1)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f.SizeBytes != 2000 {
		t.Fatalf("expected updated size 2000, got %d", f.SizeBytes)
	}
}

func TestUpsertScan_NeverTouchesInFlightRecord(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())

	f, err := s.ClaimNext("w1", []int64{1})
	if err != nil || f == nil {
		t.Fatalf("ClaimNext: %v, %v", f, err)
	}

	if _, err := s.UpsertScan("/media/a.mkv", 9999, time.Now()); err != nil {
		t.Fatalf("UpsertScan: %v", err)
	}

	got, _ := s.GetFile(1)
	if got.SizeBytes != 1000 {
		t.Fatalf("expected in-flight record untouched, got size %d", got.SizeBytes)
	}
}

func TestClaimNext_SetsAssignmentFields(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())

	f, err := s.ClaimNext("w1", []int64{1})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if f == nil {
		t.Fatalf("expected a claimed record")
	}
	if f.Status != model.StatusAssigned {
		t.Fatalf("expected status assigned, got %s", f.Status)
	}
	if f.AssignedWorkerID != "w1" {
		t.Fatalf("expected assigned_worker_id w1, got %q", f.AssignedWorkerID)
	}
	if f.LeaseToken == "" {
		t.Fatalf("expected a non-empty lease token")
	}
	if f.AttemptCount != 1 {
		t.Fatalf("expected attempt_count 1, got %d", f.AttemptCount)
	}
}

func TestClaimNext_AlreadyAssignedLosesRace(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	s.ClaimNext("w1", []int64{1})

	f, err := s.ClaimNext("w2", []int64{1})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil, file already claimed by w1")
	}
}

func TestRecordProgress_RejectsStaleLease(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	err := s.RecordProgress(claimed.ID, "not-the-real-token", 50, 1.2, 0, "")
	if err == nil {
		t.Fatalf("expected stale lease error")
	}
}

func TestRecordProgress_TransitionsAssignedToProcessing(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	if err := s.RecordProgress(claimed.ID, claimed.LeaseToken, 10, 1.0, 0, ""); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.Status != model.StatusProcessing {
		t.Fatalf("expected processing, got %s", f.Status)
	}
}

func TestRecordCompletion_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	if err := s.RecordCompletion(claimed.ID, claimed.LeaseToken, 400, 5); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	// A second completion with the same lease must be a silent no-op.
	if err := s.RecordCompletion(claimed.ID, claimed.LeaseToken, 999, 5); err != nil {
		t.Fatalf("RecordCompletion repeat: %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.OutputSizeBytes != 400 {
		t.Fatalf("expected output size to stay at first completion's value 400, got %d", f.OutputSizeBytes)
	}
}

func TestRecordCompletion_RejectsInsufficientSavings(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	// 970000 bytes out of 1000000 is 3% savings, under a 10% floor.
	err := s.RecordCompletion(claimed.ID, claimed.LeaseToken, 970000, 10)
	if err == nil || !errors.Is(err, ErrInsufficientSavings) {
		t.Fatalf("expected ErrInsufficientSavings, got %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.Status != model.StatusSkipped {
		t.Fatalf("expected skipped, got %s", f.Status)
	}
	if f.SkipReason != model.SkipOutputSmallerThanThreshold {
		t.Fatalf("expected skip reason output_smaller_than_threshold, got %s", f.SkipReason)
	}
	if f.OutputSizeBytes != 0 {
		t.Fatalf("a rejected completion must not record an output size, got %d", f.OutputSizeBytes)
	}
}

func TestRecordFailure_RetryableGoesBackToPendingUnderMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	if err := s.RecordFailure(claimed.ID, claimed.LeaseToken, model.ErrKindEncoderCrash, "boom", 3); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.Status != model.StatusPending {
		t.Fatalf("expected pending after retryable failure under max attempts, got %s", f.Status)
	}
}

func TestRecordFailure_FatalKindGoesToFailed(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	if err := s.RecordFailure(claimed.ID, claimed.LeaseToken, model.ErrKindMalformedSource, "bad header", 3); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.Status != model.StatusFailed {
		t.Fatalf("expected failed for a fatal error kind, got %s", f.Status)
	}
}

func TestReapAssignment_ReturnsFileToPending(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	if err := s.ReapAssignment(claimed.ID); err != nil {
		t.Fatalf("ReapAssignment: %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.Status != model.StatusPending {
		t.Fatalf("expected pending after reap, got %s", f.Status)
	}
	if f.AssignedWorkerID != "" || f.LeaseToken != "" {
		t.Fatalf("expected assignment fields cleared after reap")
	}
}

func TestBulkResetFailed(t *testing.T) {
	s := newTestStore(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	s.UpsertScan("/media/b.mkv", 1000, time.Now())

	c1, _ := s.ClaimNext("w1", []int64{1})
	s.RecordFailure(c1.ID, c1.LeaseToken, model.ErrKindMalformedSource, "bad", 3)

	n, err := s.BulkResetFailed()
	if err != nil {
		t.Fatalf("BulkResetFailed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row reset, got %d", n)
	}
}
