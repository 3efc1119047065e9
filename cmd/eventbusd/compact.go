package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCompactCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Delete confirmed events older than a retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := openWriter(ctx, a.settings.Store, a.logger, false)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer w.Close()

			if olderThan <= 0 {
				olderThan = a.settings.Store.Retention
			}
			removed, err := w.FlushSentMessages(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d sent event(s) older than %s\n", removed, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention window (default: store.retention)")
	return cmd
}
