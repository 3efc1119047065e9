package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/eventbus/pkg/eventbus/logstore"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

// listedEvent is a message tagged with its partition.
type listedEvent struct {
	msg       *message.Message
	partition logstore.Partition
}

// listEvents reads the selected partitions of w in key order.
func listEvents(ctx context.Context, w logstore.Writer, sent, unsent bool) ([]listedEvent, error) {
	var out []listedEvent
	if unsent {
		msgs, err := w.MessagesUnsent(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			out = append(out, listedEvent{m, logstore.PartitionUnsent})
		}
	}
	if sent {
		msgs, err := w.MessagesSent(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			out = append(out, listedEvent{m, logstore.PartitionSent})
		}
	}
	slices.SortFunc(out, func(a, b listedEvent) int {
		return strings.Compare(a.msg.Key(), b.msg.Key())
	})
	return out, nil
}

func printEventsTable(w io.Writer, events []listedEvent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATE\tNAME\tLEVEL\tSEVERITY")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.msg.Key(), e.partition, e.msg.Name(), e.msg.Level(), e.msg.Severity())
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d event(s)\n", len(events))
}

func printEventsJSON(w io.Writer, events []listedEvent) error {
	for _, e := range events {
		data, err := e.msg.MarshalJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

func newEventsCmd(a *app) *cobra.Command {
	var (
		onlySent   bool
		onlyUnsent bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List events in the log store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := openWriter(ctx, a.settings.Store, a.logger, false)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer w.Close()

			sent, unsent := !onlyUnsent, !onlySent
			if onlySent && onlyUnsent {
				sent, unsent = true, true
			}
			events, err := listEvents(ctx, w, sent, unsent)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printEventsJSON(cmd.OutOrStdout(), events)
			}
			printEventsTable(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().BoolVar(&onlySent, "sent", false, "only confirmed events")
	cmd.Flags().BoolVar(&onlyUnsent, "unsent", false, "only events awaiting confirmation")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "one JSON event per line")
	return cmd
}
