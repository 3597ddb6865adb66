package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	got := make(chan Event, 1)
	unsub := bus.Subscribe(func(e Event) { got <- e }, EventNotification)
	defer unsub()

	bus.Publish(NewNotification(SourceEngine, SeverityError, "boom"))

	select {
	case e := <-got:
		if e.Type != EventNotification {
			t.Errorf("Type = %q", e.Type)
		}
		if e.Payload["text"] != "boom" || e.Payload["severity"] != "error" {
			t.Errorf("payload = %v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeFiltersTypes(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	got := make(chan Event, 4)
	unsub := bus.Subscribe(func(e Event) { got <- e }, EventTurnCompleted)
	defer unsub()

	bus.Publish(NewEvent(EventStatusText, SourceEngine, nil))
	bus.Publish(NewEvent(EventTurnCompleted, SourceEngine, nil))

	select {
	case e := <-got:
		if e.Type != EventTurnCompleted {
			t.Errorf("Type = %q, want turn.completed", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case e := <-got:
		t.Errorf("unexpected second event %q", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHistory(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(NewEvent(EventMessageUpdated, SourceEngine, map[string]any{"i": i}))
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(bus.History(10)) == 5 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history = %d events, want 5", len(bus.History(10)))
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Close()

	// Must not panic.
	bus.Publish(NewEvent(EventNotification, SourceEngine, nil))
	bus.Close()
}
