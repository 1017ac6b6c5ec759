package runtime

import (
	"testing"
)

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	t.Parallel()

	hub := NewNotificationHub(8)
	first := hub.Publish("notify.state", "a")
	second := hub.Publish("notify.toast", "b")
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seqs = %d, %d", first.Seq, second.Seq)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestSubscribeReplaysAfterCursor(t *testing.T) {
	t.Parallel()

	hub := NewNotificationHub(8)
	for i := 0; i < 5; i++ {
		hub.Publish("notify.state", i)
	}

	replay, ch, cancel := hub.Subscribe(3)
	defer cancel()
	if len(replay) != 2 || replay[0].Seq != 4 || replay[1].Seq != 5 {
		t.Fatalf("replay = %+v", replay)
	}

	hub.Publish("notify.toast", "live")
	got := <-ch
	if got.Seq != 6 || got.Method != "notify.toast" {
		t.Fatalf("live event = %+v", got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()

	hub := NewNotificationHub(3)
	for i := 0; i < 10; i++ {
		hub.Publish("notify.state", i)
	}
	if hub.BacklogSize() != 3 {
		t.Fatalf("backlog = %d", hub.BacklogSize())
	}
	replay, _, cancel := hub.Subscribe(0)
	defer cancel()
	if len(replay) != 3 || replay[0].Seq != 8 {
		t.Fatalf("replay = %+v", replay)
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	t.Parallel()

	hub := NewNotificationHub(4)
	_, ch, cancel := hub.Subscribe(0)
	defer cancel()

	// Overrun the subscriber buffer; the hub must close rather than block.
	for i := 0; i < 200; i++ {
		hub.Publish("notify.state", i)
	}
	count := 0
	for range ch {
		count++
	}
	if count == 0 || count > 128 {
		t.Fatalf("delivered %d events before drop", count)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewNotificationHub(4)
	_, ch, cancel := hub.Subscribe(0)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}
	hub.Publish("notify.state", "after")
}
