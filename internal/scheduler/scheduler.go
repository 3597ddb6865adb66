package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/parley/internal/events"
)

// Runner executes one scheduled prompt end to end. Implemented on top
// of the chat engine by the command layer.
type Runner interface {
	Run(ctx context.Context, entry *ScheduleEntry) error
}

// Config holds dependencies for the scheduler.
type Config struct {
	Runner Runner
	Bus    *events.Bus
	Store  *ScheduleStore
	Logger *slog.Logger
}

// runtimeEntry is the in-memory representation of a schedule.
type runtimeEntry struct {
	entry   *ScheduleEntry
	cron    *CronExpr
	lastRun time.Time
}

// Scheduler manages cron-based and interval-based prompt execution.
type Scheduler struct {
	runner Runner
	bus    *events.Bus
	store  *ScheduleStore
	log    *slog.Logger

	mu      sync.Mutex
	entries map[string]*runtimeEntry

	done chan struct{}
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		runner:  cfg.Runner,
		bus:     cfg.Bus,
		store:   cfg.Store,
		log:     log,
		entries: make(map[string]*runtimeEntry),
		done:    make(chan struct{}),
	}
}

// Start loads persisted entries and begins the trigger loops.
func (s *Scheduler) Start() {
	s.loadPersistedEntries()

	s.log.Info("scheduler started", "entries", len(s.entries))

	go s.cronLoop()
	go s.intervalLoop()
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	close(s.done)
	s.log.Info("scheduler stopped")
}

// AddEntry validates, persists and registers a schedule.
func (s *Scheduler) AddEntry(se *ScheduleEntry) error {
	if err := se.Validate(); err != nil {
		return err
	}
	if se.ID == "" {
		se.ID = GenerateScheduleID()
	}

	re := &runtimeEntry{entry: se}
	if se.CronSpec != "" {
		expr, err := ParseCron(se.CronSpec)
		if err != nil {
			return err
		}
		re.cron = expr
	}
	if se.LastRunAt != nil {
		re.lastRun = *se.LastRunAt
	}

	if s.store != nil {
		if err := s.store.Create(se); err != nil {
			return fmt.Errorf("persist schedule: %w", err)
		}
	}

	s.mu.Lock()
	s.entries[se.ID] = re
	s.mu.Unlock()

	s.log.Info("scheduler: added entry", "id", se.ID, "title", se.Title)
	return nil
}

// RemoveEntry removes a schedule by ID.
func (s *Scheduler) RemoveEntry(id string) error {
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("schedule entry not found: %s", id)
	}
	if s.store != nil {
		if err := s.store.Delete(id); err != nil {
			s.log.Warn("scheduler: failed to delete persisted entry", "id", id, "error", err)
		}
	}

	s.log.Info("scheduler: removed entry", "id", id)
	return nil
}

// ListEntries returns a snapshot of all registered schedules.
func (s *Scheduler) ListEntries() []*ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*ScheduleEntry, 0, len(s.entries))
	for _, re := range s.entries {
		cp := *re.entry
		result = append(result, &cp)
	}
	return result
}

func (s *Scheduler) loadPersistedEntries() {
	if s.store == nil {
		return
	}

	entries, err := s.store.List()
	if err != nil {
		s.log.Warn("scheduler: failed to load persisted entries", "error", err)
		return
	}

	for _, se := range entries {
		if !se.Enabled {
			continue
		}

		re := &runtimeEntry{entry: se}
		if se.CronSpec != "" {
			expr, err := ParseCron(se.CronSpec)
			if err != nil {
				s.log.Warn("scheduler: invalid cron in persisted entry", "id", se.ID, "error", err)
				continue
			}
			re.cron = expr
		}
		if se.LastRunAt != nil {
			re.lastRun = *se.LastRunAt
		}

		s.entries[se.ID] = re
		s.log.Info("scheduler: loaded persisted entry", "id", se.ID, "title", se.Title)
	}
}

func (s *Scheduler) cronLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.checkCron(now)
		}
	}
}

func (s *Scheduler) intervalLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.checkIntervals(now)
		}
	}
}

func (s *Scheduler) checkCron(now time.Time) {
	for _, re := range s.dueCron(now) {
		s.triggerEntry(re, "cron")
	}
}

func (s *Scheduler) checkIntervals(now time.Time) {
	for _, re := range s.dueIntervals(now) {
		s.triggerEntry(re, "interval")
	}
}

func (s *Scheduler) dueCron(now time.Time) []*runtimeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*runtimeEntry
	for _, re := range s.entries {
		if re.cron == nil || !re.entry.Enabled {
			continue
		}
		if !re.cron.Matches(now) {
			continue
		}
		due = append(due, re)
	}
	return due
}

func (s *Scheduler) dueIntervals(now time.Time) []*runtimeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*runtimeEntry
	for _, re := range s.entries {
		if re.entry.IntervalSec <= 0 || !re.entry.Enabled {
			continue
		}
		interval := time.Duration(re.entry.IntervalSec) * time.Second
		if now.Sub(re.lastRun) < interval {
			continue
		}
		due = append(due, re)
	}
	return due
}

// triggerEntry runs one schedule. A failed run increments retry_count;
// once max_retries is exhausted the entry is disabled. A successful run
// resets retry_count.
func (s *Scheduler) triggerEntry(re *runtimeEntry, trigger string) {
	s.mu.Lock()
	se := re.entry
	now := time.Now()
	re.lastRun = now
	se.LastRunAt = &now
	se.RunCount++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	err := s.runner.Run(ctx, se)
	cancel()

	s.mu.Lock()
	if err != nil {
		se.RetryCount++
		s.log.Error("scheduler: run failed", "id", se.ID, "trigger", trigger,
			"retry_count", se.RetryCount, "error", err)
		if se.MaxRetries > 0 && se.RetryCount >= se.MaxRetries {
			se.Enabled = false
			s.log.Warn("scheduler: entry exhausted retries, disabled", "id", se.ID)
		}
	} else {
		se.RetryCount = 0
		if se.MaxRuns > 0 && se.RunCount >= se.MaxRuns {
			se.Enabled = false
			s.log.Info("scheduler: entry reached max runs, disabled", "id", se.ID, "runs", se.RunCount)
		}
	}
	snapshot := *se
	s.mu.Unlock()

	if s.store != nil {
		if uerr := s.store.Update(&snapshot); uerr != nil {
			s.log.Warn("scheduler: failed to update persisted entry", "id", se.ID, "error", uerr)
		}
		rec := RunRecord{At: now, Trigger: trigger}
		if err != nil {
			rec.Error = err.Error()
		}
		if aerr := s.store.AppendRun(snapshot.ID, rec); aerr != nil {
			s.log.Warn("scheduler: failed to append run record", "id", snapshot.ID, "error", aerr)
		}
	}

	if s.bus != nil {
		ev := events.NewEvent(events.EventScheduleTrigger, events.SourceScheduler, map[string]any{
			"entry_id": snapshot.ID,
			"trigger":  trigger,
			"failed":   err != nil,
		})
		ev.SessionID = snapshot.SessionID
		s.bus.Publish(ev)
	}
}
