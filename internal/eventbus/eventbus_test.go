package eventbus

import (
	"testing"
)

func TestSubscribe_DeliversSnapshotBeforeLiveEvents(t *testing.T) {
	b := New(10)
	snapshot := []Event{{Kind: KindStateChange, FileID: 1, Status: "pending"}}
	sub := b.Subscribe(snapshot)
	defer sub.Close()

	b.Publish(Event{Kind: KindStateChange, FileID: 2, Status: "completed"})

	first := <-sub.Events
	if first.FileID != 1 {
		t.Fatalf("expected snapshot event first, got %+v", first)
	}
	second := <-sub.Events
	if second.FileID != 2 {
		t.Fatalf("expected live event second, got %+v", second)
	}
}

func TestPublish_RateLimitsProgressPerFile(t *testing.T) {
	b := New(10)
	sub := b.Subscribe(nil)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: KindProgress, FileID: 1, Percent: float64(i)})
	}

	select {
	case e := <-sub.Events:
		if e.Percent != 0 {
			t.Fatalf("expected only the first rapid progress tick to pass the rate limit, got %+v", e)
		}
	default:
		t.Fatalf("expected at least one progress event")
	}

	select {
	case e := <-sub.Events:
		t.Fatalf("expected subsequent rapid-fire ticks to be rate-limited, got %+v", e)
	default:
	}
}

func TestPublish_DropsSlowSubscriberAndClosesChannel(t *testing.T) {
	b := New(1)
	sub := b.Subscribe(nil)

	// Fill the one-slot backlog, then overflow it.
	b.Publish(Event{Kind: KindStateChange, FileID: 1})
	b.Publish(Event{Kind: KindStateChange, FileID: 2})

	<-sub.Events // the one event that made it in

	_, ok := <-sub.Events
	if ok {
		t.Fatalf("expected channel to be closed after the subscriber fell behind")
	}
}
