package registry

import (
	"testing"
	"time"

	"github.com/gwlsn/avfarm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	reaped []int64
}

func (f *fakeStore) ReapAssignment(fileID int64) error {
	f.reaped = append(f.reaped, fileID)
	return nil
}

func TestRegister_IsIdempotent(t *testing.T) {
	r := New(nil, time.Second, time.Second)
	r.Register(Announcement{WorkerID: "w1", Hostname: "host-a", Capabilities: []string{"a"}})
	w := r.Register(Announcement{WorkerID: "w1", Hostname: "host-a", Capabilities: []string{"a", "b"}})

	assert.Equal(t, []string{"a", "b"}, w.Capabilities)
	assert.Equal(t, model.WorkerOnline, w.Status)
}

func TestHeartbeat_UnknownWorkerFails(t *testing.T) {
	r := New(nil, time.Second, time.Second)
	_, ok := r.Heartbeat("ghost", Telemetry{})
	assert.False(t, ok)
}

func TestHeartbeat_SurfacesPendingCancellation(t *testing.T) {
	r := New(nil, time.Second, time.Second)
	r.Register(Announcement{WorkerID: "w1"})
	require.True(t, r.CancelCurrent("w1", "lease-123"))

	d, ok := r.Heartbeat("w1", Telemetry{})
	require.True(t, ok)
	assert.Equal(t, "lease-123", d.CancelLease)

	// The directive is delivered once; it must not repeat on the next beat.
	d2, _ := r.Heartbeat("w1", Telemetry{})
	assert.Empty(t, d2.CancelLease)
}

func TestSetFadeOut_MakesWorkerUnavailable(t *testing.T) {
	r := New(nil, time.Second, time.Second)
	r.Register(Announcement{WorkerID: "w1"})
	assert.True(t, r.IsAvailable("w1"))

	r.SetFadeOut("w1", true)
	assert.False(t, r.IsAvailable("w1"))

	d, _ := r.Heartbeat("w1", Telemetry{})
	assert.True(t, d.ShouldFadeOut)
}

func TestSweepOnce_ReapsOfflineWorkerAssignment(t *testing.T) {
	fs := &fakeStore{}
	r := New(fs, 10*time.Millisecond, time.Second)
	r.Register(Announcement{WorkerID: "w1"})
	r.Heartbeat("w1", Telemetry{CurrentFileID: 42})

	time.Sleep(20 * time.Millisecond)
	r.sweepOnce()

	assert.False(t, r.IsAvailable("w1"))
	assert.Equal(t, []int64{42}, fs.reaped)
}
