package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/logrelay/internal/checkpoint"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

func newResolveCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [SINK]",
		Short: "Show the checkpoint stored in a sink log",
		Long: `Read the last record of the sink log and print the source position it
carries and the offset a relay would resume from.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.config
			sink := c.Relay.Sink
			if len(args) == 1 {
				sink = args[0]
			}
			if sink == "" {
				return fmt.Errorf("sink log is required")
			}

			transport, err := openTransport(c, opts.logger)
			if err != nil {
				return err
			}
			client := logclient.NewClient(transport)
			defer client.Close()

			resolver := checkpoint.NewResolver(client,
				checkpoint.WithPositionField(c.Relay.PositionField),
				checkpoint.WithDefaultOffset(c.Relay.DefaultOffset),
				checkpoint.WithLogger(opts.logger),
			)

			cp, err := resolver.Lookup(cmd.Context(), sink)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cp.Found {
				fmt.Fprintf(out, "📍 Sink %s: last position %d (sink offset %d)\n", sink, cp.Position, cp.SinkOffset)
			} else {
				fmt.Fprintf(out, "📍 Sink %s: no checkpoint (%v)\n", sink, cp.Reason)
			}
			fmt.Fprintf(out, "▶️  Next source offset: %d\n", cp.Next(c.Relay.DefaultOffset))
			return nil
		},
	}

	return cmd
}
