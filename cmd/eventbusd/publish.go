package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCmd(a *app) *cobra.Command {
	var (
		name     string
		payload  string
		level    string
		severity string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one event through the configured store and relays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var raw json.RawMessage
			if payload != "" {
				raw = json.RawMessage(payload)
			}
			msg, err := newMessage(name, raw, level, severity)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			h, err := startHost(ctx, a.settings, cmd.OutOrStdout(), a.logger)
			if err != nil {
				return err
			}
			pubErr := h.bus.Publish(ctx, msg)

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := errors.Join(pubErr, h.Close(closeCtx)); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), msg.Key())
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "event name, e.g. n8n.workflow.started (required)")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON payload")
	cmd.Flags().StringVar(&level, "level", "info", "log level (debug, verbose, info, error)")
	cmd.Flags().StringVar(&severity, "severity", "normal", "severity (low, normal, high, highest)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
