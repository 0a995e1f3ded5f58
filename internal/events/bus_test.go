package events

import "testing"

func TestPublishWrapsInEnvelope(t *testing.T) {
	b := NewBus()
	ch, unsub := b.SubscribeMany(All, 4)
	defer unsub()

	b.Publish(EventOrderPlaced, OrderEvent{OrderID: "o1"})
	b.Publish(EventPositionClosed, PositionEvent{PositionID: "p1"})

	first := (<-ch).(Envelope)
	second := (<-ch).(Envelope)
	if first.Type != EventOrderPlaced || first.Data.(OrderEvent).OrderID != "o1" {
		t.Fatalf("unexpected first envelope: %+v", first)
	}
	if second.Type != EventPositionClosed {
		t.Fatalf("unexpected second envelope: %+v", second)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventDriftDetected, 1)
	b.Publish(EventDriftDetected, DriftEvent{Field: "size"})
	b.Publish(EventDriftDetected, DriftEvent{Field: "entry_price"})
	if len(ch) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(ch))
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}
	unsub()
	unsub()
	if _, ok := <-ch; !ok {
		t.Fatal("buffered event should still be readable after unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Publish(EventOrderFailed, nil)
	if b.Dropped() != 0 {
		t.Fatal("nil bus reports drops")
	}
}
