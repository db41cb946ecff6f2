// Package eventbus is the coordinator's in-memory fan-out of progress
// ticks, state-change events, and worker lifecycle events (spec §4.J).
// Every subscriber first receives a consistent snapshot, then a live
// stream; subscribers that fall too far behind are dropped and must
// re-subscribe.
package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gwlsn/avfarm/internal/metrics"
)

// Kind discriminates the three event classes the bus carries.
type Kind string

const (
	KindProgress        Kind = "progress"
	KindStateChange     Kind = "state_change"
	KindWorkerLifecycle Kind = "worker_lifecycle"
)

// Event is one item on the bus. ID is a ULID, stamped by Publish if left
// empty, so a /events client can sort or dedup a reconnect's overlap with
// what it already saw without the bus having to track per-client cursors.
type Event struct {
	ID        string `json:"id,omitempty"`
	Kind      Kind
	FileID    int64
	WorkerID  string
	Status    string
	Percent   float64
	FPS       float64
	ETA       time.Duration
	Message   string
	Timestamp time.Time
}

// DefaultBacklog is the per-subscriber channel depth before it's
// considered too slow and disconnected.
const DefaultBacklog = 1000

// progressRateLimit caps how often a progress event for the same file_id
// is actually forwarded to subscribers.
const progressRateLimit = 200 * time.Millisecond // <=5/s

// Bus is a bounded, multi-subscriber pub/sub for Events.
type Bus struct {
	mu          sync.Mutex
	subs        map[int]chan Event
	nextID      int
	backlog     int
	lastEmitted map[int64]time.Time
}

// New creates a Bus with the given per-subscriber backlog bound.
func New(backlog int) *Bus {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Bus{
		subs:        make(map[int]chan Event),
		backlog:     backlog,
		lastEmitted: make(map[int64]time.Time),
	}
}

// Subscription is a live event stream plus the means to close it.
type Subscription struct {
	Events <-chan Event
	id     int
	bus    *Bus
}

// Close unsubscribes; the subscriber must call this to stop leaking its
// channel slot, including after being dropped for falling behind.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new subscriber and delivers snapshot first, as
// given, before any live events.
func (b *Bus) Subscribe(snapshot []Event) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.backlog)
	b.subs[id] = ch
	b.mu.Unlock()

	for _, e := range snapshot {
		select {
		case ch <- e:
		default:
			// Backlog already full from the snapshot itself; extremely
			// unlikely, but don't block registration on it.
		}
	}

	return &Subscription{Events: ch, id: id, bus: b}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish fans e out to every current subscriber. A subscriber whose
// channel is full is dropped rather than let it stall the publisher;
// dropped subscribers must Subscribe again, which re-delivers a snapshot.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Kind == KindProgress && !b.allowProgress(e.FileID, e.Timestamp) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			delete(b.subs, id)
			close(ch)
			metrics.EventBusDrops.Inc()
		}
	}
}

func (b *Bus) allowProgress(fileID int64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.lastEmitted[fileID]
	if ok && now.Sub(last) < progressRateLimit {
		return false
	}
	b.lastEmitted[fileID] = now
	return true
}
