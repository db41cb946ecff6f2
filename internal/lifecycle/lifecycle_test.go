package lifecycle

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/avfarm/internal/eventbus"
	"github.com/gwlsn/avfarm/internal/model"
	"github.com/gwlsn/avfarm/internal/store"
)

func newTestLifecycle(t *testing.T) (*Lifecycle, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	bus := eventbus.New(10)
	return New(s, bus, 3, 5.0), s
}

func TestReportOutcome_SuccessCompletesFile(t *testing.T) {
	l, s := newTestLifecycle(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, err := s.ClaimNext("w1", []int64{1})
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v, %v", claimed, err)
	}

	outcome := model.NewSuccessOutcome(model.SuccessDetail{OutputSizeBytes: 400})
	if err := l.ReportOutcome(claimed.ID, claimed.LeaseToken, outcome); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", f.Status)
	}
}

func TestReportOutcome_RetryableFailureReturnsToPending(t *testing.T) {
	l, s := newTestLifecycle(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	outcome := model.NewFailureOutcome(model.FailureDetail{Kind: model.ErrKindEncoderCrash, Message: "boom"})
	if err := l.ReportOutcome(claimed.ID, claimed.LeaseToken, outcome); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.Status != model.StatusPending {
		t.Fatalf("expected pending after retryable failure, got %s", f.Status)
	}
}

func TestReportOutcome_SkipIsTerminal(t *testing.T) {
	l, s := newTestLifecycle(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	outcome := model.NewSkipOutcome(model.SkipDetail{Reason: model.SkipDynamicHDRUnpreservable})
	if err := l.ReportOutcome(claimed.ID, claimed.LeaseToken, outcome); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}

	f, _ := s.GetFile(claimed.ID)
	if f.Status != model.StatusSkipped {
		t.Fatalf("expected skipped, got %s", f.Status)
	}
}

func TestReportProgress_StaleLeaseIsSilentlyDropped(t *testing.T) {
	l, s := newTestLifecycle(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})

	if err := l.ReportProgress(claimed.ID, "not-the-real-token", 50, 1.0, 0, ""); err != nil {
		t.Fatalf("expected a stale lease to be swallowed, got %v", err)
	}
}

func TestOperatorReset_ReturnsFileToPending(t *testing.T) {
	l, s := newTestLifecycle(t)
	s.UpsertScan("/media/a.mkv", 1000, time.Now())
	claimed, _ := s.ClaimNext("w1", []int64{1})
	l.ReportOutcome(claimed.ID, claimed.LeaseToken, model.NewFailureOutcome(model.FailureDetail{Kind: model.ErrKindMalformedSource, Message: "bad"}))

	f, err := l.OperatorReset(claimed.ID)
	if err != nil {
		t.Fatalf("OperatorReset: %v", err)
	}
	if f.Status != model.StatusPending {
		t.Fatalf("expected pending after reset, got %s", f.Status)
	}
}
