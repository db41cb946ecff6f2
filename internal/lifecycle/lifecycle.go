// Package lifecycle walks one file from assigned to a terminal state
// (spec §4.I): it's the one place a worker's progress/completion/failure
// report, or an operator's reset/retry/skip/delete, turns into a Store
// mutation plus an EventBus notification.
package lifecycle

import (
	"errors"
	"time"

	"github.com/gwlsn/avfarm/internal/eventbus"
	"github.com/gwlsn/avfarm/internal/metrics"
	"github.com/gwlsn/avfarm/internal/model"
	"github.com/gwlsn/avfarm/internal/store"
)

// DefaultMaxAttempts is MAX_ATTEMPTS (spec §3): a failed record beyond this
// many attempts stays failed until an operator resets it.
const DefaultMaxAttempts = 3

// DefaultMinSavingsPercent is MIN_SAVINGS_PCT (spec §3): completion below
// this percent is rejected by the Store, not merely discouraged.
const DefaultMinSavingsPercent = 5.0

// DefaultProgressSilence is how long a processing record may go without a
// progress report before ReleaseStaleProcessing calls it stalled.
const DefaultProgressSilence = 2 * time.Minute

// Lifecycle wires the Store (source of truth) to the EventBus (notification
// fan-out). It holds no job state of its own.
type Lifecycle struct {
	store             store.Store
	bus               *eventbus.Bus
	maxAttempts       int
	minSavingsPercent float64
}

// New creates a Lifecycle over store s, publishing to bus.
func New(s store.Store, bus *eventbus.Bus, maxAttempts int, minSavingsPercent float64) *Lifecycle {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if minSavingsPercent <= 0 {
		minSavingsPercent = DefaultMinSavingsPercent
	}
	return &Lifecycle{store: s, bus: bus, maxAttempts: maxAttempts, minSavingsPercent: minSavingsPercent}
}

// ReportProgress records a worker's progress tick. A stale lease is
// reported as store.ErrStaleLease by the Store and silently dropped
// here too, per spec §4.F — a reaped assignment's straggling reports must
// never resurrect it.
func (l *Lifecycle) ReportProgress(fileID int64, leaseToken string, percent, speed float64, eta time.Duration, message string) error {
	if err := l.store.RecordProgress(fileID, leaseToken, percent, speed, eta, message); err != nil {
		if errors.Is(err, store.ErrStaleLease) {
			return nil
		}
		return err
	}
	l.bus.Publish(eventbus.Event{
		Kind: eventbus.KindProgress, FileID: fileID, Percent: percent, FPS: speed, ETA: eta, Message: message,
	})
	return nil
}

// ReportOutcome applies a worker's terminal report for an assignment:
// success, failure, or skip, per the Outcome tagged union.
func (l *Lifecycle) ReportOutcome(fileID int64, leaseToken string, outcome model.Outcome) error {
	switch outcome.Kind {
	case model.OutcomeSuccess:
		before, _ := l.store.GetFile(fileID)

		err := l.store.RecordCompletion(fileID, leaseToken, outcome.Success.OutputSizeBytes, l.minSavingsPercent)
		if errors.Is(err, store.ErrInsufficientSavings) {
			l.bus.Publish(eventbus.Event{
				Kind: eventbus.KindStateChange, FileID: fileID, Status: string(model.StatusSkipped),
				Message: string(model.SkipOutputSmallerThanThreshold),
			})
			return err
		}
		if err != nil {
			return err
		}
		l.recordCompletionMetrics(before, outcome.Success.OutputSizeBytes)
		l.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChange, FileID: fileID, Status: string(model.StatusCompleted)})
		return nil

	case model.OutcomeFailure:
		if err := l.store.RecordFailure(fileID, leaseToken, outcome.Failure.Kind, outcome.Failure.Message, l.maxAttempts); err != nil {
			return err
		}
		status := string(model.StatusPending)
		if !outcome.Failure.Kind.Retryable() {
			status = string(model.StatusFailed)
		}
		l.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChange, FileID: fileID, Status: status, Message: outcome.Failure.Message})
		return nil

	case model.OutcomeSkip:
		if err := l.store.RecordSkip(fileID, leaseToken, outcome.Skip.Reason); err != nil {
			return err
		}
		l.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChange, FileID: fileID, Status: string(model.StatusSkipped), Message: string(outcome.Skip.Reason)})
		return nil
	}
	return nil
}

// recordCompletionMetrics folds one completed transcode into the
// Prometheus counters/histograms: bytes reclaimed and wall-clock duration
// since the assignment was claimed. before is the pre-completion record
// fetched while the lease was still valid; a nil before (GetFile raced
// with a concurrent delete) just skips the observation.
func (l *Lifecycle) recordCompletionMetrics(before *model.FileRecord, outputSize int64) {
	if before == nil {
		return
	}
	if saved := before.SizeBytes - outputSize; saved > 0 {
		metrics.SavingsBytesTotal.Add(float64(saved))
	}
	if before.AssignedAt != nil {
		metrics.TranscodeDuration.Observe(time.Since(*before.AssignedAt).Seconds())
	}
}

// ReleaseStalled force-fails any processing record silent longer than
// DefaultProgressSilence. When any record was released it publishes a single
// state-change event for the whole batch, carrying no file ID.
func (l *Lifecycle) ReleaseStalled() (int, error) {
	n, err := l.store.ReleaseStaleProcessing(DefaultProgressSilence)
	if err != nil || n == 0 {
		return n, err
	}
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChange, Message: "stalled records released"})
	return n, nil
}

// --- Operator actions (spec §4.I's "operator: reset/retry/skip/delete") ---

func (l *Lifecycle) OperatorReset(fileID int64) (*model.FileRecord, error) {
	f, err := l.store.Reset(fileID)
	if err != nil {
		return nil, err
	}
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChange, FileID: fileID, Status: string(model.StatusPending)})
	return f, nil
}

func (l *Lifecycle) OperatorSkip(fileID int64, reason model.SkipReason) (*model.FileRecord, error) {
	f, err := l.store.Skip(fileID, reason)
	if err != nil {
		return nil, err
	}
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChange, FileID: fileID, Status: string(model.StatusSkipped)})
	return f, nil
}

func (l *Lifecycle) OperatorDelete(fileID int64) error {
	if err := l.store.Delete(fileID); err != nil {
		return err
	}
	l.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChange, FileID: fileID, Status: "deleted"})
	return nil
}

func (l *Lifecycle) OperatorSetPriority(fileID int64, priority int32) (*model.FileRecord, error) {
	return l.store.SetPriority(fileID, priority)
}

func (l *Lifecycle) OperatorSetPreferredWorker(fileID int64, workerID string) (*model.FileRecord, error) {
	return l.store.SetPreferredWorker(fileID, workerID)
}

func (l *Lifecycle) OperatorBulkResetFailed() (int, error) {
	return l.store.BulkResetFailed()
}

func (l *Lifecycle) OperatorBulkDeleteCompleted() (int, error) {
	return l.store.BulkDeleteCompleted()
}
