// Package scheduler implements the single decision point a worker's
// "give me work" request goes through (spec §4.H): next_for(worker_id).
package scheduler

import (
	"time"

	"github.com/gwlsn/avfarm/internal/metrics"
	"github.com/gwlsn/avfarm/internal/model"
)

// candidateStore is the narrow slice of store.Store the Scheduler needs;
// kept separate from the full interface so tests can supply a minimal fake.
type candidateStore interface {
	CandidatesForScheduling(orderingKey string, limit int) ([]*model.FileRecord, error)
	ClaimNext(workerID string, candidateIDs []int64) (*model.FileRecord, error)
}

// DefaultPinGrace is how long a soft preferred-worker pin holds before any
// idle worker may take the file.
const DefaultPinGrace = 60 * time.Second

// maxClaimRetries bounds the claim-and-retry loop when a race is lost.
const maxClaimRetries = 5

// candidateScanLimit bounds how many pending records CandidatesForScheduling
// considers per next_for call.
const candidateScanLimit = 64

// availability is the subset of Registry the Scheduler consults.
type availability interface {
	IsAvailable(workerID string) bool
	Capabilities(workerID string) ([]string, bool)
}

// Scheduler is the stateless decision point wired to a Store and a
// Registry; it holds no data of its own beyond its configured defaults.
type Scheduler struct {
	store       candidateStore
	registry    availability
	orderingKey string
	pinGrace    time.Duration
}

// New creates a Scheduler. orderingKey is one of oldest_mtime, newest_mtime,
// largest_size, smallest_size — the cluster-wide tie-break configured once.
func New(s candidateStore, reg availability, orderingKey string, pinGrace time.Duration) *Scheduler {
	if pinGrace <= 0 {
		pinGrace = DefaultPinGrace
	}
	return &Scheduler{store: s, registry: reg, orderingKey: orderingKey, pinGrace: pinGrace}
}

// NextFor implements next_for(worker_id): returns the claimed FileRecord, or
// nil if there's no work for this worker right now.
func (s *Scheduler) NextFor(workerID string) (*model.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.ClaimLatency.Observe(time.Since(start).Seconds()) }()

	if !s.registry.IsAvailable(workerID) {
		return nil, nil
	}

	caps, _ := s.registry.Capabilities(workerID)
	capSet := make(map[string]bool, len(caps))
	for _, c := range caps {
		capSet[c] = true
	}

	candidates, err := s.store.CandidatesForScheduling(s.orderingKey, candidateScanLimit)
	if err != nil {
		return nil, err
	}

	eligible := make([]int64, 0, len(candidates))
	now := time.Now()
	for _, f := range rankByPinAndPriority(candidates, workerID, s.pinGrace, now) {
		if !capabilitiesSatisfied(f, capSet) {
			continue
		}
		eligible = append(eligible, f.ID)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	retries := maxClaimRetries
	if retries > len(eligible) {
		retries = len(eligible)
	}
	for i := 0; i < retries; i++ {
		claimed, err := s.store.ClaimNext(workerID, eligible[i:])
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	return nil, nil
}

// rankByPinAndPriority sorts candidates by the composite key
// (pin_match DESC, priority DESC, ordering_key ASC), id ASC as the final
// tie-break. The sort is stable and compares only pin_match and priority, so
// ordering_key and id keep the order CandidatesForScheduling returned them
// in. PIN_GRACE runs from PinnedAt, the moment the pin was set, not
// from the file's CreatedAt scan time — a file pinned long after it was
// first scanned still gets the full grace window. Once PIN_GRACE elapses,
// the pin no longer excludes other workers; any idle worker may then take
// it on equal footing with unpinned files.
func rankByPinAndPriority(candidates []*model.FileRecord, workerID string, pinGrace time.Duration, now time.Time) []*model.FileRecord {
	ranked := make([]*model.FileRecord, len(candidates))
	copy(ranked, candidates)

	pinMatch := func(f *model.FileRecord) bool {
		if f.PreferredWorkerID == "" || f.PreferredWorkerID != workerID {
			return false
		}
		return true
	}
	pinStillExclusive := func(f *model.FileRecord) bool {
		if f.PreferredWorkerID == "" || f.PreferredWorkerID == workerID || f.PinnedAt == nil {
			return false
		}
		return now.Sub(*f.PinnedAt) < pinGrace
	}

	filtered := ranked[:0]
	for _, f := range ranked {
		if pinStillExclusive(f) {
			continue
		}
		filtered = append(filtered, f)
	}

	less := func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		am, bm := pinMatch(a), pinMatch(b)
		if am != bm {
			return am
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return false
	}
	insertionSort(filtered, less)
	return filtered
}

func insertionSort(items []*model.FileRecord, less func(i, j int) bool) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// capabilitiesSatisfied is the hook for future per-file requirements
// (spec §4.H names supports_file_distribution as the only one it expects
// today, but no FileRecord attribute yet demands it — every candidate
// passes until one does).
func capabilitiesSatisfied(f *model.FileRecord, capSet map[string]bool) bool {
	return true
}
