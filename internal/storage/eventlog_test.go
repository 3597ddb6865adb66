package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/parley/internal/events"
)

func TestEventLoggerWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-1",
		Type:      events.EventTurnCompleted,
		Timestamp: time.Now(),
		Source:    events.SourceEngine,
		Payload:   map[string]any{"task_id": "task_1"},
	})

	// Give the async subscriber time to process.
	time.Sleep(100 * time.Millisecond)

	got, err := el.ReadLog("")
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(got) != 1 || got[0].ID != "evt-1" || got[0].Type != events.EventTurnCompleted {
		t.Fatalf("unexpected log contents %+v", got)
	}
}

func TestEventLoggerSessionRouting(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-global",
		Type:      events.EventNotification,
		Timestamp: time.Now(),
		Source:    events.SourceEngine,
	})
	bus.Publish(events.Event{
		ID:        "evt-session",
		SessionID: "sess_1",
		Type:      events.EventTurnCompleted,
		Timestamp: time.Now(),
		Source:    events.SourceEngine,
	})

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("global log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sess_1.jsonl")); err != nil {
		t.Fatalf("session log missing: %v", err)
	}
}

func TestEventLoggerDropsNoisyTypes(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-chunk",
		Type:      events.EventMessageUpdated,
		Timestamp: time.Now(),
		Source:    events.SourceEngine,
	})

	time.Sleep(100 * time.Millisecond)

	got, err := el.ReadLog("")
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("message.updated events must not be logged: %+v", got)
	}
}
