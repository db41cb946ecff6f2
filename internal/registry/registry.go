// Package registry tracks worker liveness and the fade-out toggle (spec
// §4.G). It holds the one piece of coordinator state that legitimately
// lives in memory rather than the Store: heartbeat bookkeeping is too
// high-frequency and too disposable to justify a durable write on every
// beat. Assignment reaping still goes through the Store, the single
// source of truth for file state.
package registry

import (
	"sync"
	"time"

	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/metrics"
	"github.com/gwlsn/avfarm/internal/model"
)

// assignmentReaper is the one Store capability the sweeper needs; kept
// narrow so callers (and tests) don't have to satisfy the full Store
// interface just to drive the sweeper.
type assignmentReaper interface {
	ReapAssignment(fileID int64) error
}

// DefaultLivenessTimeout is how long a worker may go without a heartbeat
// before it's considered offline.
const DefaultLivenessTimeout = 30 * time.Second

// DefaultSweepInterval is how often the stall sweeper scans for offline
// workers holding an assignment.
const DefaultSweepInterval = 10 * time.Second

// Announcement is what a worker sends on register.
type Announcement struct {
	WorkerID     string
	Hostname     string
	Capabilities []string
}

// Telemetry is what a worker sends on each heartbeat.
type Telemetry struct {
	CPUPercent    float64
	MemoryPercent float64
	CurrentFileID int64
}

// HeartbeatDirective is the registry's answer to a heartbeat: whether the
// worker should stop asking for new work, and whether its current job was
// cancelled out from under it by an operator.
type HeartbeatDirective struct {
	ShouldFadeOut bool
	CancelLease   string
}

type workerState struct {
	worker        model.Worker
	fadeOut       bool
	cancelPending string
}

// Registry is the coordinator's live view of connected workers.
type Registry struct {
	mu      sync.Mutex
	store   assignmentReaper
	workers map[string]*workerState

	livenessTimeout time.Duration
	sweepInterval   time.Duration
}

// New creates a Registry backed by s for assignment reaping.
func New(s assignmentReaper, livenessTimeout, sweepInterval time.Duration) *Registry {
	if livenessTimeout <= 0 {
		livenessTimeout = DefaultLivenessTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Registry{
		store:           s,
		workers:         make(map[string]*workerState),
		livenessTimeout: livenessTimeout,
		sweepInterval:   sweepInterval,
	}
}

// Register is idempotent by worker_id: a second registration from the same
// worker just refreshes its capability list.
func (r *Registry) Register(a Announcement) *model.Worker {
	r.mu.Lock()
	now := time.Now()
	st, ok := r.workers[a.WorkerID]
	if !ok {
		st = &workerState{worker: model.Worker{
			ID:           a.WorkerID,
			Hostname:     a.Hostname,
			RegisteredAt: now,
		}}
		r.workers[a.WorkerID] = st
	}
	st.worker.Capabilities = a.Capabilities
	st.worker.LastHeartbeat = now
	st.worker.Status = model.WorkerOnline

	cp := st.worker
	r.mu.Unlock()

	r.updateWorkerGauges()
	return &cp
}

// Heartbeat refreshes liveness and telemetry, and surfaces any pending
// operator directive (fade-out state, or a cancellation of the worker's
// current job).
func (r *Registry) Heartbeat(workerID string, t Telemetry) (HeartbeatDirective, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.workers[workerID]
	if !ok {
		return HeartbeatDirective{}, false
	}

	st.worker.LastHeartbeat = time.Now()
	st.worker.CPUPercent = t.CPUPercent
	st.worker.MemoryPercent = t.MemoryPercent
	st.worker.CurrentFileID = t.CurrentFileID
	if st.worker.Status != model.WorkerOffline {
		if st.fadeOut {
			st.worker.Status = model.WorkerDraining
		} else {
			st.worker.Status = model.WorkerOnline
		}
	}

	directive := HeartbeatDirective{ShouldFadeOut: st.fadeOut}
	if st.cancelPending != "" {
		directive.CancelLease = st.cancelPending
		st.cancelPending = ""
	}
	return directive, true
}

// SetFadeOut toggles the operator fade-out flag for a worker. Fade-out
// workers keep reporting progress on their current job but the Scheduler
// never hands them new work.
func (r *Registry) SetFadeOut(workerID string, fadeOut bool) bool {
	r.mu.Lock()
	st, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	st.fadeOut = fadeOut
	if fadeOut {
		st.worker.Status = model.WorkerDraining
	}
	r.mu.Unlock()

	r.updateWorkerGauges()
	return true
}

// CancelCurrent arranges for the next heartbeat from workerID to carry a
// cancellation directive for leaseToken.
func (r *Registry) CancelCurrent(workerID, leaseToken string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workers[workerID]
	if !ok {
		return false
	}
	st.cancelPending = leaseToken
	return true
}

// IsAvailable reports whether the Scheduler may hand workerID new work:
// known, online, not fading out.
func (r *Registry) IsAvailable(workerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workers[workerID]
	if !ok {
		return false
	}
	return st.worker.Status == model.WorkerOnline && !st.fadeOut
}

// Capabilities returns the announced capability set for workerID.
func (r *Registry) Capabilities(workerID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workers[workerID]
	if !ok {
		return nil, false
	}
	return st.worker.Capabilities, true
}

// Snapshot returns a copy of every known worker, for /status.
func (r *Registry) Snapshot() []model.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Worker, 0, len(r.workers))
	for _, st := range r.workers {
		out = append(out, st.worker)
	}
	return out
}

// sweepOnce marks overdue workers offline and reaps any assignment they
// were holding.
func (r *Registry) sweepOnce() {
	now := time.Now()

	r.mu.Lock()
	var toReap []int64
	for _, st := range r.workers {
		if st.worker.Status == model.WorkerOffline {
			continue
		}
		if now.Sub(st.worker.LastHeartbeat) > r.livenessTimeout {
			st.worker.Status = model.WorkerOffline
			if st.worker.CurrentFileID != 0 {
				toReap = append(toReap, st.worker.CurrentFileID)
				st.worker.CurrentFileID = 0
			}
		}
	}
	r.mu.Unlock()

	for _, fileID := range toReap {
		if err := r.store.ReapAssignment(fileID); err != nil {
			logger.Warn("reap failed after worker went offline", "file_id", fileID, "error", err)
			continue
		}
		logger.Info("worker_offline", "file_id", fileID)
	}

	r.updateWorkerGauges()
}

// updateWorkerGauges republishes WorkersByStatus from the current in-memory
// worker map. Called after any sweep and after Register/SetFadeOut so the
// gauge never drifts from reality for more than one sweep interval.
func (r *Registry) updateWorkerGauges() {
	r.mu.Lock()
	counts := map[model.WorkerStatus]int{}
	for _, st := range r.workers {
		status := st.worker.Status
		if st.fadeOut && status != model.WorkerOffline {
			status = model.WorkerDraining
		}
		counts[status]++
	}
	r.mu.Unlock()

	for _, status := range []model.WorkerStatus{model.WorkerOnline, model.WorkerDraining, model.WorkerOffline} {
		metrics.WorkersByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// RunSweeper blocks, running the stall sweeper every SweepInterval until
// the stop channel is closed or receives a value. Callers
// typically run this in its own goroutine from coordinator startup.
func (r *Registry) RunSweeper(stop <-chan struct{}) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}
