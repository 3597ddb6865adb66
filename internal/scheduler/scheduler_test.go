package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (r *fakeRunner) Run(_ context.Context, entry *ScheduleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, entry.ID)
	return r.err
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *ScheduleStore) {
	t.Helper()
	store := NewScheduleStore(t.TempDir())
	return New(Config{Runner: runner, Store: store}), store
}

func enabledEntry(id string) *ScheduleEntry {
	return &ScheduleEntry{
		ID:          id,
		Title:       "daily digest",
		Prompt:      "summarize yesterday",
		AgentName:   "digester",
		IntervalSec: 60,
		Enabled:     true,
	}
}

func TestAddEntryValidates(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeRunner{})

	cases := []struct {
		name  string
		entry ScheduleEntry
	}{
		{"no prompt", ScheduleEntry{AgentName: "a", CronSpec: "* * * * *"}},
		{"no agent", ScheduleEntry{Prompt: "p", CronSpec: "* * * * *"}},
		{"no trigger", ScheduleEntry{Prompt: "p", AgentName: "a"}},
		{"bad cron", ScheduleEntry{Prompt: "p", AgentName: "a", CronSpec: "not cron"}},
		{"interval too small", ScheduleEntry{Prompt: "p", AgentName: "a", IntervalSec: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := tc.entry
			if err := s.AddEntry(&e); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestAddEntryPersists(t *testing.T) {
	s, store := newTestScheduler(t, &fakeRunner{})

	e := enabledEntry("")
	if err := s.AddEntry(e); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.HasPrefix(e.ID, "sched_") {
		t.Fatalf("expected generated id, got %q", e.ID)
	}

	got, err := store.Get(e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Prompt != "summarize yesterday" {
		t.Fatalf("entry not persisted: %+v", got)
	}
}

func TestStartLoadsPersistedEntries(t *testing.T) {
	store := NewScheduleStore(t.TempDir())
	if err := store.Create(enabledEntry("sched_a")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	disabled := enabledEntry("sched_b")
	disabled.Enabled = false
	if err := store.Create(disabled); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := New(Config{Runner: &fakeRunner{}, Store: store})
	s.loadPersistedEntries()

	entries := s.ListEntries()
	if len(entries) != 1 || entries[0].ID != "sched_a" {
		t.Fatalf("expected only enabled entries loaded, got %+v", entries)
	}
}

func TestIntervalTrigger(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner)

	e := enabledEntry("sched_a")
	e.IntervalSec = 5
	if err := s.AddEntry(e); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.checkIntervals(time.Now())
	if runner.count() != 1 {
		t.Fatalf("expected one run, got %d", runner.count())
	}

	// Within the interval window: no second run.
	s.checkIntervals(time.Now())
	if runner.count() != 1 {
		t.Fatalf("interval not honored, got %d runs", runner.count())
	}
}

func TestFailedRunsIncrementRetryCountAndDisable(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("gateway down")}
	s, store := newTestScheduler(t, runner)

	e := enabledEntry("sched_a")
	e.IntervalSec = 5
	e.MaxRetries = 2
	if err := s.AddEntry(e); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.checkIntervals(time.Now())
	s.checkIntervals(time.Now().Add(10 * time.Second))

	entries := s.ListEntries()
	if entries[0].RetryCount != 2 {
		t.Fatalf("expected retry_count 2, got %d", entries[0].RetryCount)
	}
	if entries[0].Enabled {
		t.Fatal("entry must disable after exhausting retries")
	}

	runs, err := store.Runs("sched_a")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0].Error == "" {
		t.Fatalf("run history not recorded: %+v", runs)
	}
}

func TestSuccessResetsRetryCount(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner)

	e := enabledEntry("sched_a")
	e.IntervalSec = 5
	e.RetryCount = 1
	if err := s.AddEntry(e); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.checkIntervals(time.Now())
	entries := s.ListEntries()
	if entries[0].RetryCount != 0 {
		t.Fatalf("retry_count must reset on success, got %d", entries[0].RetryCount)
	}
	if entries[0].RunCount != 1 {
		t.Fatalf("run_count not incremented: %d", entries[0].RunCount)
	}
}

func TestMaxRunsDisables(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner)

	e := enabledEntry("sched_a")
	e.IntervalSec = 5
	e.MaxRuns = 1
	if err := s.AddEntry(e); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.checkIntervals(time.Now())
	entries := s.ListEntries()
	if entries[0].Enabled {
		t.Fatal("entry must disable at max runs")
	}
}

func TestRemoveEntry(t *testing.T) {
	s, store := newTestScheduler(t, &fakeRunner{})
	e := enabledEntry("sched_a")
	if err := s.AddEntry(e); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.RemoveEntry("sched_a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveEntry("sched_a"); err == nil {
		t.Fatal("expected error for unknown entry")
	}
	if _, err := store.Get("sched_a"); err == nil {
		t.Fatal("persisted entry must be deleted")
	}
}
