package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
	"github.com/rmacdonaldsmith/logrelay/pkg/httpclient"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

func newLogsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Log management",
		Long:  `List and create logs (http and pebble transports).`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := openTransport(opts.config, opts.logger)
			if err != nil {
				return err
			}
			defer transport.Close()

			logs, err := listLogs(cmd.Context(), transport)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(logs) == 0 {
				fmt.Fprintln(out, "📭 No logs found")
				return nil
			}
			fmt.Fprintf(out, "📚 Logs (%d):\n", len(logs))
			for _, info := range logs {
				fmt.Fprintf(out, "   %s: %d records [%d, %d)\n", info.Name, info.RecordCount, info.StartPosition, info.EndPosition)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME...",
		Short: "Create empty logs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := openTransport(opts.config, opts.logger)
			if err != nil {
				return err
			}
			defer transport.Close()

			for _, name := range args {
				if err := createLog(cmd.Context(), transport, name); err != nil {
					return fmt.Errorf("failed to create %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Created log %s\n", name)
			}
			return nil
		},
	})

	return cmd
}

func listLogs(ctx context.Context, t logclient.Transport) ([]logclient.LogInfo, error) {
	switch v := t.(type) {
	case *httpclient.Client:
		return v.ListLogs(ctx)
	case eventlog.Store:
		return v.ListLogs(ctx)
	default:
		return nil, fmt.Errorf("listing logs is not supported by %T", t)
	}
}

func createLog(ctx context.Context, t logclient.Transport, name string) error {
	switch v := t.(type) {
	case *httpclient.Client:
		_, err := v.CreateLog(ctx, name)
		return err
	case eventlog.Store:
		return v.CreateLog(ctx, name)
	default:
		return fmt.Errorf("creating logs is not supported by %T", t)
	}
}
