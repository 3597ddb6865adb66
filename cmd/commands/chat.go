package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/parley/internal/chat"
	"github.com/dohr-michael/parley/internal/config"
	"github.com/dohr-michael/parley/internal/events"
	"github.com/dohr-michael/parley/internal/scheduler"
)

// NewChatCommand returns the interactive chat subcommand.
func NewChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat with the agent mesh",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to resume (empty = new session)",
			},
			&cli.StringFlag{
				Name:    "agent",
				Aliases: []string{"a"},
				Usage:   "Agent to route turns to",
			},
		},
		Action: runChat,
	}
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if agent := cmd.String("agent"); agent != "" {
		rt.engine.SetAgent(agent)
	}
	if sid := cmd.String("session"); sid != "" {
		if err := rt.engine.SwitchSession(ctx, sid); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		fmt.Fprintf(os.Stderr, "resumed session %s (%d messages)\n", sid, len(rt.engine.Messages()))
	}

	// Notifications the engine raises (cancel results, lost connections)
	// go straight to stderr.
	unsubscribe := rt.bus.Subscribe(func(e events.Event) {
		if text, ok := e.Payload["text"].(string); ok {
			fmt.Fprintf(os.Stderr, "! %s\n", text)
		}
	}, events.EventNotification)
	defer unsubscribe()

	if rt.cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Config{
			Runner: &engineRunner{engine: rt.engine},
			Bus:    rt.bus,
			Store:  scheduler.NewScheduleStore(config.SchedulesPath()),
			Logger: rt.log,
		})
		sched.Start()
		defer sched.Stop()
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}

	fmt.Fprintln(os.Stderr, "type a message, /cancel, /sessions, /switch <id>, /new, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			done, err := runSlashCommand(ctx, rt, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		if err := rt.engine.Submit(ctx, line, nil); err != nil {
			if errors.Is(err, chat.ErrTaskInFlight) {
				fmt.Fprintln(os.Stderr, "a task is still running; /cancel it first")
				continue
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if err := waitForIdle(ctx, rt.engine); err != nil {
			return err
		}
		printAgentReply(rt.engine, renderer)
	}
}

// runSlashCommand handles the REPL's local commands. It returns true
// when the REPL should exit.
func runSlashCommand(ctx context.Context, rt *runtime, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/cancel":
		err := rt.engine.CancelCurrentTask(ctx)
		if errors.Is(err, chat.ErrNoActiveTask) {
			fmt.Fprintln(os.Stderr, "nothing to cancel")
			return false, nil
		}
		return false, err
	case "/new":
		rt.engine.NewSession()
		fmt.Fprintln(os.Stderr, "started a new session")
		return false, nil
	case "/sessions":
		sessions, err := rt.client.ListSessions(ctx)
		if err != nil {
			return false, err
		}
		for _, s := range sessions {
			marker := " "
			if s.ID == rt.engine.SessionID() {
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, s.ID, s.Name)
		}
		return false, nil
	case "/switch":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /switch <session-id>")
		}
		if err := rt.engine.SwitchSession(ctx, fields[1]); err != nil {
			return false, err
		}
		fmt.Fprintf(os.Stderr, "switched to %s (%d messages)\n", fields[1], len(rt.engine.Messages()))
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func printAgentReply(eng *chat.Engine, renderer *glamour.TermRenderer) {
	msg, ok := lastAgentMessage(eng)
	if !ok {
		return
	}
	text := msg.Text()
	if text != "" {
		if out, err := renderer.Render(text); err == nil {
			fmt.Print(out)
		} else {
			fmt.Println(text)
		}
	}
	for _, p := range msg.Parts {
		if p.Kind == chat.PartArtifact && p.Artifact != nil {
			fmt.Printf("[artifact %s: %s]\n", p.Artifact.Status, p.Artifact.Name)
		}
	}
}

// engineRunner submits scheduled prompts through the live engine.
type engineRunner struct {
	engine *chat.Engine
}

func (r *engineRunner) Run(ctx context.Context, entry *scheduler.ScheduleEntry) error {
	if entry.AgentName != "" {
		r.engine.SetAgent(entry.AgentName)
	}
	if entry.SessionID != "" && entry.SessionID != r.engine.SessionID() {
		if err := r.engine.SwitchSession(ctx, entry.SessionID); err != nil {
			return fmt.Errorf("switch session: %w", err)
		}
	}
	if err := r.engine.Submit(ctx, entry.Prompt, nil); err != nil {
		return fmt.Errorf("submit scheduled prompt: %w", err)
	}
	if err := waitForIdle(ctx, r.engine); err != nil {
		return err
	}
	if msg, ok := lastAgentMessage(r.engine); ok && msg.IsError {
		return fmt.Errorf("scheduled turn failed: %s", msg.Text())
	}
	return nil
}
