package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/parley/internal/config"
	"github.com/dohr-michael/parley/internal/scheduler"
)

// NewSchedulesCommand returns the schedules subcommand group. The
// commands edit the persisted store directly; a running chat picks the
// entries up on its next start.
func NewSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedules",
		Usage: "Manage scheduled prompts",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List scheduled prompts",
				Action: runSchedulesList,
			},
			{
				Name:  "add",
				Usage: "Add a scheduled prompt",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Display title"},
					&cli.StringFlag{Name: "prompt", Usage: "Prompt to submit", Required: true},
					&cli.StringFlag{Name: "agent", Usage: "Agent to route the prompt to", Required: true},
					&cli.StringFlag{Name: "session", Usage: "Session to submit into (empty = new each run)"},
					&cli.StringFlag{Name: "cron", Usage: "Cron trigger, e.g. '0 9 * * 1-5'"},
					&cli.IntFlag{Name: "every", Usage: "Interval trigger in seconds"},
					&cli.IntFlag{Name: "max-runs", Usage: "Disable after N successful runs (0 = unlimited)"},
					&cli.IntFlag{Name: "max-retries", Usage: "Disable after N consecutive failures", Value: 3},
				},
				Action: runSchedulesAdd,
			},
			{
				Name:      "rm",
				Usage:     "Remove a scheduled prompt",
				ArgsUsage: "<schedule-id>",
				Action:    runSchedulesRemove,
			},
			{
				Name:      "runs",
				Usage:     "Show a schedule's run history",
				ArgsUsage: "<schedule-id>",
				Action:    runSchedulesRuns,
			},
			{
				Name:   "export",
				Usage:  "Write all schedules as YAML to stdout",
				Action: runSchedulesExport,
			},
			{
				Name:      "import",
				Usage:     "Load schedules from a YAML file",
				ArgsUsage: "<file>",
				Action:    runSchedulesImport,
			},
		},
	}
}

func scheduleStore() *scheduler.ScheduleStore {
	return scheduler.NewScheduleStore(config.SchedulesPath())
}

func runSchedulesList(_ context.Context, _ *cli.Command) error {
	entries, err := scheduleStore().List()
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTRIGGER\tAGENT\tRUNS\tENABLED")
	for _, e := range entries {
		trigger := e.CronSpec
		if trigger == "" {
			trigger = fmt.Sprintf("every %ds", e.IntervalSec)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%v\n", e.ID, e.Title, trigger, e.AgentName, e.RunCount, e.Enabled)
	}
	return w.Flush()
}

func runSchedulesAdd(_ context.Context, cmd *cli.Command) error {
	entry := &scheduler.ScheduleEntry{
		ID:          scheduler.GenerateScheduleID(),
		Title:       cmd.String("title"),
		Prompt:      cmd.String("prompt"),
		AgentName:   cmd.String("agent"),
		SessionID:   cmd.String("session"),
		CronSpec:    cmd.String("cron"),
		IntervalSec: cmd.Int("every"),
		MaxRuns:     cmd.Int("max-runs"),
		MaxRetries:  cmd.Int("max-retries"),
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
	if entry.Title == "" {
		entry.Title = entry.Prompt
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := scheduleStore().Create(entry); err != nil {
		return fmt.Errorf("store schedule: %w", err)
	}
	fmt.Printf("added %s\n", entry.ID)
	return nil
}

func runSchedulesRemove(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: parley schedules rm <schedule-id>")
	}
	if err := scheduleStore().Delete(id); err != nil {
		return fmt.Errorf("remove schedule: %w", err)
	}
	fmt.Printf("removed %s\n", id)
	return nil
}

func runSchedulesRuns(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: parley schedules runs <schedule-id>")
	}
	runs, err := scheduleStore().Runs(id)
	if err != nil {
		return fmt.Errorf("load run history: %w", err)
	}
	for _, r := range runs {
		status := "ok"
		if r.Error != "" {
			status = r.Error
		}
		fmt.Printf("%s  %-8s  %s\n", r.At.Format(time.RFC3339), r.Trigger, status)
	}
	return nil
}

func runSchedulesExport(_ context.Context, _ *cli.Command) error {
	entries, err := scheduleStore().List()
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	return scheduler.ExportYAML(os.Stdout, entries)
}

func runSchedulesImport(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: parley schedules import <file>")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	entries, err := scheduler.ImportYAML(f)
	if err != nil {
		return fmt.Errorf("import schedules: %w", err)
	}
	store := scheduleStore()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = scheduler.GenerateScheduleID()
		}
		if err := store.Create(e); err != nil {
			return fmt.Errorf("store schedule %s: %w", e.ID, err)
		}
	}
	fmt.Printf("imported %d schedules\n", len(entries))
	return nil
}
