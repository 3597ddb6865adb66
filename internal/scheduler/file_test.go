package scheduler

import (
	"bytes"
	"strings"
	"testing"
)

func TestYAMLRoundTrip(t *testing.T) {
	entries := []*ScheduleEntry{
		{
			Title:     "morning digest",
			Prompt:    "summarize overnight activity",
			AgentName: "digester",
			CronSpec:  "0 7 * * *",
			Enabled:   true,
			RunCount:  17, // runtime state, must not survive export
		},
	}

	var buf bytes.Buffer
	if err := ExportYAML(&buf, entries); err != nil {
		t.Fatalf("export: %v", err)
	}

	got, err := ImportYAML(&buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Title != "morning digest" || got[0].CronSpec != "0 7 * * *" {
		t.Fatalf("entry mangled: %+v", got[0])
	}
	if got[0].RunCount != 0 {
		t.Fatalf("runtime counters must not round-trip: %+v", got[0])
	}
}

func TestImportRejectsInvalidEntries(t *testing.T) {
	doc := `schedules:
  - title: broken
    prompt: ""
    agent_name: digester
    cron: "* * * * *"
`
	if _, err := ImportYAML(strings.NewReader(doc)); err == nil {
		t.Fatal("expected validation error")
	}
}
