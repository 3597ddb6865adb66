// Package scheduler runs stored prompts on cron or interval triggers
// and submits them through the chat engine. Scheduled runs carry retry
// accounting; interactive turns never do.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScheduleEntry is a persisted scheduled prompt.
type ScheduleEntry struct {
	ID          string     `json:"id" yaml:"id,omitempty"`
	Title       string     `json:"title" yaml:"title"`
	Prompt      string     `json:"prompt" yaml:"prompt"`
	AgentName   string     `json:"agent_name" yaml:"agent_name"`
	SessionID   string     `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	CronSpec    string     `json:"cron_spec,omitempty" yaml:"cron,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty" yaml:"interval_sec,omitempty"`
	MaxRuns     int        `json:"max_runs,omitempty" yaml:"max_runs,omitempty"`
	RunCount    int        `json:"run_count" yaml:"-"`
	RetryCount  int        `json:"retry_count" yaml:"-"`
	MaxRetries  int        `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time  `json:"created_at" yaml:"-"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty" yaml:"-"`
}

// Validate checks that the entry can be scheduled.
func (e *ScheduleEntry) Validate() error {
	if strings.TrimSpace(e.Prompt) == "" {
		return fmt.Errorf("schedule entry needs a prompt")
	}
	if e.AgentName == "" {
		return fmt.Errorf("schedule entry needs an agent")
	}
	if e.CronSpec == "" && e.IntervalSec == 0 {
		return fmt.Errorf("schedule entry needs a cron or interval trigger")
	}
	if e.IntervalSec > 0 && e.IntervalSec < 5 {
		return fmt.Errorf("interval must be at least 5 seconds")
	}
	if e.CronSpec != "" {
		if _, err := ParseCron(e.CronSpec); err != nil {
			return err
		}
	}
	return nil
}

// RunRecord is one appended line of a schedule's run history.
type RunRecord struct {
	At      time.Time `json:"at"`
	Trigger string    `json:"trigger"`
	Error   string    `json:"error,omitempty"`
}

// GenerateScheduleID creates a unique schedule identifier with "sched_" prefix.
func GenerateScheduleID() string {
	u := uuid.New().String()
	return "sched_" + strings.ReplaceAll(u[:8], "-", "")
}
