package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/parley/internal/a2a"
	"github.com/dohr-michael/parley/internal/chat"
	"github.com/dohr-michael/parley/internal/client"
	"github.com/dohr-michael/parley/internal/config"
	"github.com/dohr-michael/parley/internal/events"
	"github.com/dohr-michael/parley/internal/history"
	"github.com/dohr-michael/parley/internal/secrets"
	"github.com/dohr-michael/parley/internal/storage"
)

// runtime bundles the wired-up components every chat-facing command
// needs: the REST client, the engine, the bus and the event logger.
type runtime struct {
	cfg    *config.Config
	log    *slog.Logger
	client *client.Client
	bus    *events.Bus
	engine *chat.Engine

	eventLog *storage.EventLogger
}

func loadConfig(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, log, nil
}

// newRuntime builds a gateway client and chat engine from the config.
func newRuntime(cmd *cli.Command) (*runtime, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	token, err := secrets.ResolveToken(cfg.Gateway.Token)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	gw := client.New(cfg.Gateway.BaseURL, token, client.WithLogger(log))
	bus := events.NewBus(cfg.Events.BufferSize)
	bridge := history.NewBridge(gw, log)
	eng := chat.NewEngine(gw, bridge, bus, chat.Options{
		CancelTimeout: cfg.Chat.CancelTimeout.Duration(),
		AgentName:     cfg.Chat.DefaultAgent,
		Logger:        log,
	})

	return &runtime{
		cfg:      cfg,
		log:      log,
		client:   gw,
		bus:      bus,
		engine:   eng,
		eventLog: storage.NewEventLogger(cfg.Events.LogDir, bus),
	}, nil
}

func (rt *runtime) Close() {
	rt.eventLog.Close()
	rt.bus.Close()
}

// waitForIdle blocks until the engine's in-flight turn settles.
func waitForIdle(ctx context.Context, eng *chat.Engine) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !eng.IsResponding() {
				return nil
			}
		}
	}
}

// lastAgentMessage returns the most recent non-bubble agent message.
func lastAgentMessage(eng *chat.Engine) (chat.Message, bool) {
	msgs := eng.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == a2a.RoleAgent && !msgs[i].IsStatusBubble {
			return msgs[i], true
		}
	}
	return chat.Message{}, false
}
