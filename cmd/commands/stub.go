package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/parley/internal/events"
	"github.com/dohr-michael/parley/internal/stubgateway"
)

// NewStubCommand returns the stub gateway subcommand.
func NewStubCommand() *cli.Command {
	return &cli.Command{
		Name:  "stub",
		Usage: "Run the local development gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides config)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (overrides config)",
			},
		},
		Action: runStub,
	}
}

func runStub(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host := cmd.String("host"); host != "" {
		cfg.Stub.Host = host
	}
	if port := cmd.Int("port"); port != 0 {
		cfg.Stub.Port = port
	}

	store, err := stubgateway.OpenStore(cfg.Stub.DBPath)
	if err != nil {
		return fmt.Errorf("open stub store: %w", err)
	}
	defer store.Close()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	srv := stubgateway.NewServer(store, bus, cfg.Stub.Host, cfg.Stub.Port, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
