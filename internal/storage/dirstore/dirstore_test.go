package dirstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// scheduleMeta mirrors the shape the schedule store keeps in meta.json.
type scheduleMeta struct {
	ID       string    `json:"id"`
	Prompt   string    `json:"prompt"`
	Enabled  bool      `json:"enabled"`
	RunCount int       `json:"run_count"`
	Created  time.Time `json:"created_at"`
}

type runLine struct {
	At      time.Time `json:"at"`
	Trigger string    `json:"trigger"`
	Error   string    `json:"error,omitempty"`
}

func TestMetaRoundTrip(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "schedule")

	meta := scheduleMeta{ID: "sched_a1b2", Prompt: "summarize inbox", Enabled: true, Created: time.Now().UTC()}
	if err := ds.EnsureDir(meta.ID); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if err := ds.WriteMeta(meta.ID, meta); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	var got scheduleMeta
	if err := ds.ReadMeta(meta.ID, &got); err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if got.ID != meta.ID || got.Prompt != meta.Prompt || !got.Enabled {
		t.Fatalf("meta mangled: %+v", got)
	}

	// The temp file must not survive the rename.
	if _, err := os.Stat(ds.FilePath(meta.ID, "meta.json") + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp meta file left behind")
	}
}

func TestReadMetaMissingEntry(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "schedule")
	var got scheduleMeta
	if err := ds.ReadMeta("sched_none", &got); err == nil {
		t.Fatal("expected error for missing schedule")
	}
}

func TestExistsAndRemove(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "schedule")

	if ds.Exists("sched_x") {
		t.Fatal("entry should not exist yet")
	}
	if err := ds.EnsureDir("sched_x"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if !ds.Exists("sched_x") {
		t.Fatal("entry should exist after EnsureDir")
	}
	if err := ds.RemoveDir("sched_x"); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if ds.Exists("sched_x") {
		t.Fatal("entry should be gone after RemoveDir")
	}
}

func TestListDirsSkipsFiles(t *testing.T) {
	base := t.TempDir()
	ds := NewDirStore(base, "schedule")

	for _, id := range []string{"sched_1", "sched_2"} {
		if err := ds.EnsureDir(id); err != nil {
			t.Fatalf("ensure dir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	names, err := ds.ListDirs()
	if err != nil {
		t.Fatalf("list dirs: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected the two schedules, got %v", names)
	}
}

func TestListDirsEmptyBase(t *testing.T) {
	ds := NewDirStore(filepath.Join(t.TempDir(), "never-created"), "schedule")
	names, err := ds.ListDirs()
	if err != nil || names != nil {
		t.Fatalf("missing base dir should list empty, got %v / %v", names, err)
	}
}

func TestRunHistoryAppendAndLoad(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "schedule")
	if err := ds.EnsureDir("sched_r"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}

	runs := []runLine{
		{At: time.Now().UTC(), Trigger: "cron"},
		{At: time.Now().UTC(), Trigger: "interval", Error: "submit failed"},
	}
	for _, r := range runs {
		if err := ds.AppendJSONL("sched_r", "runs.jsonl", r); err != nil {
			t.Fatalf("append run: %v", err)
		}
	}

	got, err := LoadJSONL[runLine](ds, "sched_r", "runs.jsonl")
	if err != nil {
		t.Fatalf("load runs: %v", err)
	}
	if len(got) != 2 || got[0].Trigger != "cron" || got[1].Error != "submit failed" {
		t.Fatalf("run history mangled: %+v", got)
	}
}

func TestLoadJSONLSkipsCorruptedLines(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "schedule")
	if err := ds.EnsureDir("sched_c"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if err := ds.AppendJSONL("sched_c", "runs.jsonl", runLine{Trigger: "cron"}); err != nil {
		t.Fatalf("append run: %v", err)
	}
	f, err := os.OpenFile(ds.FilePath("sched_c", "runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open runs file: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write corrupted line: %v", err)
	}
	f.Close()
	if err := ds.AppendJSONL("sched_c", "runs.jsonl", runLine{Trigger: "interval"}); err != nil {
		t.Fatalf("append run: %v", err)
	}

	got, err := LoadJSONL[runLine](ds, "sched_c", "runs.jsonl")
	if err != nil {
		t.Fatalf("load runs: %v", err)
	}
	if len(got) != 2 || got[0].Trigger != "cron" || got[1].Trigger != "interval" {
		t.Fatalf("corrupted line should be skipped, got %+v", got)
	}
}

func TestLoadJSONLMissingFile(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "schedule")
	got, err := LoadJSONL[runLine](ds, "sched_m", "runs.jsonl")
	if err != nil || got != nil {
		t.Fatalf("missing history should load empty, got %v / %v", got, err)
	}
}

func TestWriteFileAtomicOverwrites(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "schedule")
	if err := ds.EnsureDir("sched_w"); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}

	if err := ds.WriteFileAtomic("sched_w", "export.yaml", []byte("prompt: a")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := ds.WriteFileAtomic("sched_w", "export.yaml", []byte("prompt: b")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := ds.ReadFileContent("sched_w", "export.yaml")
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if string(data) != "prompt: b" {
		t.Fatalf("overwrite lost: %q", data)
	}

	missing, err := ds.ReadFileContent("sched_w", "nope.yaml")
	if err != nil || missing != nil {
		t.Fatalf("missing file should read nil, got %q / %v", missing, err)
	}
}
