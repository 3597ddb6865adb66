package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/parley/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "parley",
		Usage: "Console for an agent mesh gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewChatCommand(),
			NewAskCommand(),
			NewSessionsCommand(),
			NewArtifactsCommand(),
			NewSchedulesCommand(),
			NewStubCommand(),
			NewLoginCommand(),
		},
	}
}
