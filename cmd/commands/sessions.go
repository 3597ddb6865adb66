package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/parley/internal/history"
)

// NewSessionsCommand returns the sessions subcommand group.
func NewSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Manage gateway sessions",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List sessions",
				Action: runSessionsList,
			},
			{
				Name:      "show",
				Usage:     "Print a session's conversation",
				ArgsUsage: "<session-id>",
				Action:    runSessionsShow,
			},
			{
				Name:      "rename",
				Usage:     "Rename a session",
				ArgsUsage: "<session-id> <name>",
				Action:    runSessionsRename,
			},
			{
				Name:      "delete",
				Usage:     "Delete a session and its records",
				ArgsUsage: "<session-id>",
				Action:    runSessionsDelete,
			},
		},
	}
}

func runSessionsList(ctx context.Context, cmd *cli.Command) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessions, err := rt.client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runSessionsShow(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: parley sessions show <session-id>")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	bridge := history.NewBridge(rt.client, rt.log)
	snap, err := bridge.LoadSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	if snap.AgentName != "" {
		fmt.Printf("agent: %s\n\n", snap.AgentName)
	}
	for _, m := range snap.Messages {
		fmt.Printf("[%s] %s\n", m.Role, m.Text())
		for _, p := range m.Parts {
			if p.Artifact != nil {
				fmt.Printf("  (artifact %s: %s)\n", p.Artifact.Status, p.Artifact.Name)
			}
		}
	}
	return nil
}

func runSessionsRename(ctx context.Context, cmd *cli.Command) error {
	sessionID, name := cmd.Args().Get(0), cmd.Args().Get(1)
	if sessionID == "" || name == "" {
		return fmt.Errorf("usage: parley sessions rename <session-id> <name>")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.client.RenameSession(ctx, sessionID, name); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	fmt.Printf("renamed %s\n", sessionID)
	return nil
}

func runSessionsDelete(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: parley sessions delete <session-id>")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.client.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Printf("deleted %s\n", sessionID)
	return nil
}
