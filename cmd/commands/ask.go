package commands

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/parley/internal/chat"
)

// NewAskCommand returns the one-shot ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a single message and print the agent's reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to resume (empty = new session)",
			},
			&cli.StringFlag{
				Name:    "agent",
				Aliases: []string{"a"},
				Usage:   "Agent to route the turn to",
			},
			&cli.StringSliceFlag{
				Name:  "attach",
				Usage: "Glob of files to attach (repeatable, ** supported)",
			},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	message := cmd.Args().First()
	if message == "" {
		return fmt.Errorf("usage: parley ask <message>")
	}

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
	}

	files, err := collectAttachments(cmd.StringSlice("attach"))
	if err != nil {
		return err
	}

	if err := rt.engine.Submit(ctx, message, files); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := waitForIdle(ctx, rt.engine); err != nil {
		return err
	}

	msg, ok := lastAgentMessage(rt.engine)
	if !ok {
		return fmt.Errorf("no reply from agent")
	}
	if msg.IsError {
		return fmt.Errorf("turn failed: %s", msg.Text())
	}
	fmt.Println(msg.Text())
	if sid := rt.engine.SessionID(); sid != "" && cmd.String("session") == "" {
		fmt.Fprintf(os.Stderr, "session: %s\n", sid)
	}
	return nil
}

// collectAttachments expands doublestar globs and reads the matches.
func collectAttachments(patterns []string) ([]chat.AttachedFile, error) {
	var files []chat.AttachedFile
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expand glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", pattern)
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat attachment: %w", err)
			}
			if info.IsDir() {
				continue
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read attachment: %w", err)
			}
			mimeType := mime.TypeByExtension(filepath.Ext(path))
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			files = append(files, chat.AttachedFile{
				Name:     filepath.Base(path),
				MimeType: mimeType,
				Content:  content,
			})
		}
	}
	return files, nil
}
