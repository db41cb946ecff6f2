package scheduler

import (
	"testing"
	"time"

	"github.com/gwlsn/avfarm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	available map[string]bool
	caps      map[string][]string
}

func (f *fakeRegistry) IsAvailable(workerID string) bool { return f.available[workerID] }
func (f *fakeRegistry) Capabilities(workerID string) ([]string, bool) {
	c, ok := f.caps[workerID]
	return c, ok
}

type fakeStore struct {
	candidates []*model.FileRecord
	claims     map[int64]bool
	claimCalls [][]int64
}

func (f *fakeStore) CandidatesForScheduling(orderingKey string, limit int) ([]*model.FileRecord, error) {
	return f.candidates, nil
}

func (f *fakeStore) ClaimNext(workerID string, candidateIDs []int64) (*model.FileRecord, error) {
	f.claimCalls = append(f.claimCalls, candidateIDs)
	for _, id := range candidateIDs {
		if f.claims[id] {
			continue // already lost the race
		}
		f.claims[id] = true
		for _, c := range f.candidates {
			if c.ID == id {
				cp := *c
				cp.Status = model.StatusAssigned
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func TestNextFor_UnavailableWorkerGetsNoWork(t *testing.T) {
	s := New(nil, &fakeRegistry{}, "oldest_mtime", time.Minute)
	f, err := s.NextFor("ghost")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestNextFor_PicksHighestPriorityThenLowestID(t *testing.T) {
	now := time.Now().Add(-time.Hour)
	fs := &fakeStore{
		claims: map[int64]bool{},
		candidates: []*model.FileRecord{
			{ID: 1, Priority: 0, CreatedAt: now},
			{ID: 2, Priority: 5, CreatedAt: now},
			{ID: 3, Priority: 5, CreatedAt: now},
		},
	}
	reg := &fakeRegistry{available: map[string]bool{"w1": true}, caps: map[string][]string{"w1": {}}}
	s := New(fs, reg, "oldest_mtime", time.Minute)

	claimed, err := s.NextFor("w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, int64(2), claimed.ID, "expected lowest id among equal-priority candidates")
}

func TestNextFor_SoftPinExpiresAfterGrace(t *testing.T) {
	// A file scanned long ago but pinned even longer ago than PIN_GRACE:
	// the common real case, where CreatedAt predates PinnedAt by a wide
	// margin and must not be mistaken for it.
	scannedAt := time.Now().Add(-48 * time.Hour)
	pinnedAt := time.Now().Add(-time.Hour)
	fs := &fakeStore{
		claims: map[int64]bool{},
		candidates: []*model.FileRecord{
			{ID: 1, PreferredWorkerID: "w-pinned", CreatedAt: scannedAt, PinnedAt: &pinnedAt},
		},
	}
	reg := &fakeRegistry{available: map[string]bool{"w2": true}, caps: map[string][]string{"w2": {}}}
	s := New(fs, reg, "oldest_mtime", time.Minute)

	claimed, err := s.NextFor("w2")
	require.NoError(t, err)
	require.NotNil(t, claimed, "expired pin should let another worker claim the file")
}

func TestNextFor_SoftPinHoldsWithinGrace(t *testing.T) {
	// A file scanned long before it was pinned: CreatedAt is old, but
	// PinnedAt is recent, so the pin must still hold.
	scannedAt := time.Now().Add(-48 * time.Hour)
	pinnedAt := time.Now()
	fs := &fakeStore{
		claims: map[int64]bool{},
		candidates: []*model.FileRecord{
			{ID: 1, PreferredWorkerID: "w-pinned", CreatedAt: scannedAt, PinnedAt: &pinnedAt},
		},
	}
	reg := &fakeRegistry{available: map[string]bool{"w2": true}, caps: map[string][]string{"w2": {}}}
	s := New(fs, reg, "oldest_mtime", time.Minute)

	claimed, err := s.NextFor("w2")
	require.NoError(t, err)
	assert.Nil(t, claimed, "a fresh pin should still be exclusive to the pinned worker")
}
