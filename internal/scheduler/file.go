package scheduler

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// scheduleFile is the YAML document shape for schedule import/export.
type scheduleFile struct {
	Schedules []*ScheduleEntry `yaml:"schedules"`
}

// ExportYAML writes the given entries as a YAML document. Runtime
// counters are omitted; an exported file re-imports cleanly elsewhere.
func ExportYAML(w io.Writer, entries []*ScheduleEntry) error {
	doc := scheduleFile{Schedules: entries}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode schedules: %w", err)
	}
	return enc.Close()
}

// ImportYAML parses a schedule YAML document and validates every entry.
func ImportYAML(r io.Reader) ([]*ScheduleEntry, error) {
	var doc scheduleFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	for i, e := range doc.Schedules {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d (%s): %w", i, e.Title, err)
		}
	}
	return doc.Schedules, nil
}
