package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/eventbus/pkg/eventbus"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// shutdownTimeout bounds how long Close waits for in-flight publishes.
const shutdownTimeout = 10 * time.Second

// inputEvent is one line of serve's input.
type inputEvent struct {
	Name     string          `json:"eventName"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Level    string          `json:"level,omitempty"`
	Severity string          `json:"severity,omitempty"`
}

// newMessage validates the fields of an input event and builds a message.
func newMessage(name string, payload json.RawMessage, level, severity string) (*message.Message, error) {
	if name == "" {
		return nil, errors.New("event name is required")
	}
	lvl, err := message.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	sev, err := message.ParseSeverity(severity)
	if err != nil {
		return nil, err
	}

	opts := []message.Option{message.WithLevel(lvl), message.WithSeverity(sev)}
	if len(payload) > 0 {
		var p any
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		opts = append(opts, message.WithPayload(p))
	}
	return message.New(name, opts...), nil
}

// publishLines publishes one event per JSON line of r until EOF or ctx is
// done. Malformed lines are logged and skipped; a publish failure stops.
func publishLines(ctx context.Context, bus *eventbus.Bus, r io.Reader, logger *slog.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	published := 0
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return published, nil
		}
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var in inputEvent
		if err := json.Unmarshal(text, &in); err != nil {
			logger.Warn("skipping malformed line", slog.Int("line", line), slog.String("error", err.Error()))
			continue
		}
		msg, err := newMessage(in.Name, in.Payload, in.Level, in.Severity)
		if err != nil {
			logger.Warn("skipping invalid event", slog.Int("line", line), slog.String("error", err.Error()))
			continue
		}
		if err := bus.Publish(ctx, msg); err != nil {
			return published, fmt.Errorf("line %d: %w", line, err)
		}
		published++
	}
	return published, scanner.Err()
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bus, publishing one event per JSON line read from stdin",
		Long: `Run the bus. Each stdin line is an event:

  {"eventName": "n8n.workflow.started", "payload": {"id": 1}, "level": "info", "severity": "normal"}

Unsent events left by a previous run are replayed on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := startHost(ctx, a.settings, cmd.OutOrStdout(), a.logger)
			if err != nil {
				return err
			}
			a.logger.Info("event bus ready",
				slog.String("store", a.settings.Store.Driver),
				slog.Int("receivers", len(a.settings.Receivers)),
				slog.Int("relays", len(h.relays)),
			)

			elapsed := observability.TimedOperation()
			n, runErr := publishLines(ctx, h.bus, cmd.InOrStdin(), a.logger)
			a.logger.Info("input finished",
				slog.Int("published", n),
				slog.Float64("duration_ms", elapsed()),
			)

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errors.Join(runErr, h.Close(closeCtx))
		},
	}
}
