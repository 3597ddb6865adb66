package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewArtifactsCommand returns the artifacts subcommand group.
func NewArtifactsCommand() *cli.Command {
	return &cli.Command{
		Name:  "artifacts",
		Usage: "Manage generated session artifacts",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List a session's artifacts",
				ArgsUsage: "<session-id>",
				Action:    runArtifactsList,
			},
			{
				Name:      "get",
				Usage:     "Fetch an artifact and write it to stdout or a file",
				ArgsUsage: "<session-id> <filename>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write to file instead of stdout",
					},
					&cli.IntFlag{
						Name:  "version",
						Usage: "Fetch a specific version (0 = latest)",
					},
				},
				Action: runArtifactsGet,
			},
			{
				Name:      "delete",
				Usage:     "Delete an artifact, all versions",
				ArgsUsage: "<session-id> <filename>",
				Action:    runArtifactsDelete,
			},
		},
	}
}

func runArtifactsList(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: parley artifacts list <session-id>")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	artifacts, err := rt.client.ListArtifacts(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILENAME\tTYPE\tSIZE\tMODIFIED")
	for _, a := range artifacts {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", a.Filename, a.MimeType, a.Size, a.LastModified.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runArtifactsGet(ctx context.Context, cmd *cli.Command) error {
	sessionID, filename := cmd.Args().Get(0), cmd.Args().Get(1)
	if sessionID == "" || filename == "" {
		return fmt.Errorf("usage: parley artifacts get <session-id> <filename>")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	var body io.ReadCloser
	if version := cmd.Int("version"); version > 0 {
		body, _, err = rt.client.FetchArtifactVersion(ctx, sessionID, filename, version)
	} else {
		body, _, err = rt.client.FetchArtifact(ctx, sessionID, filename)
	}
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}
	defer body.Close()

	out := io.Writer(os.Stdout)
	if path := cmd.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func runArtifactsDelete(ctx context.Context, cmd *cli.Command) error {
	sessionID, filename := cmd.Args().Get(0), cmd.Args().Get(1)
	if sessionID == "" || filename == "" {
		return fmt.Errorf("usage: parley artifacts delete <session-id> <filename>")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.client.DeleteArtifact(ctx, sessionID, filename); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	fmt.Printf("deleted %s\n", filename)
	return nil
}
