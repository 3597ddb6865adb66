package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/parley/internal/secrets"
)

// NewLoginCommand returns the login subcommand.
func NewLoginCommand() *cli.Command {
	return &cli.Command{
		Name:   "login",
		Usage:  "Store the gateway token, encrypted at rest",
		Action: runLogin,
	}
}

func runLogin(_ context.Context, _ *cli.Command) error {
	fmt.Fprint(os.Stderr, "gateway token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return fmt.Errorf("empty token")
	}
	if err := secrets.StoreToken(token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	fmt.Fprintf(os.Stderr, "token stored in %s\n", secrets.TokenPath())
	return nil
}
