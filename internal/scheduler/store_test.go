package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScheduleStoreCRUD(t *testing.T) {
	store := NewScheduleStore(t.TempDir())

	e := enabledEntry("")
	if err := store.Create(e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("create must stamp id and created_at: %+v", e)
	}

	got, err := store.Get(e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Prompt != e.Prompt {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	got.RunCount = 3
	if err := store.Update(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := store.Get(e.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if again.RunCount != 3 {
		t.Fatalf("update lost: %+v", again)
	}

	if err := store.Delete(e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(e.ID); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestScheduleStoreListSkipsCorrupted(t *testing.T) {
	dir := t.TempDir()
	store := NewScheduleStore(dir)

	if err := store.Create(enabledEntry("sched_good")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sched_bad"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sched_bad", "meta.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "sched_good" {
		t.Fatalf("corrupted entry not skipped: %+v", entries)
	}
}

func TestRunHistory(t *testing.T) {
	store := NewScheduleStore(t.TempDir())

	if err := store.AppendRun("sched_a", RunRecord{At: time.Now(), Trigger: "cron"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendRun("sched_a", RunRecord{At: time.Now(), Trigger: "interval", Error: "boom"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	runs, err := store.Runs("sched_a")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[1].Error != "boom" {
		t.Fatalf("unexpected history %+v", runs)
	}

	empty, err := store.Runs("sched_missing")
	if err != nil {
		t.Fatalf("runs for missing: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty history, got %+v", empty)
	}
}
