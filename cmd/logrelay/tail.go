package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

func newTailCommand(opts *globalOptions) *cobra.Command {
	var (
		position int64
		whence   string
		follow   bool
		count    int
	)

	cmd := &cobra.Command{
		Use:   "tail LOG",
		Short: "Print the records of a log",
		Long: `Print records of a log, one "offset<TAB>payload" line each.
By default the last 10 records are printed; use --whence origin to start
from an absolute offset and --follow to wait for new records.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := openTransport(opts.config, opts.logger)
			if err != nil {
				return err
			}
			defer transport.Close()

			return tailLog(cmd.Context(), transport, args[0], logclient.ReadOptions{
				Position: position,
				Whence:   logclient.Whence(whence),
				Follow:   follow,
			}, count, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int64Var(&position, "position", -10, "Start position, relative to --whence")
	cmd.Flags().StringVar(&whence, "whence", string(logclient.SeekEnd), "origin, start or end")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Wait for new records")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many records (0 for no limit)")

	return cmd
}

func tailLog(ctx context.Context, t logclient.Transport, log string, opts logclient.ReadOptions, count int, out io.Writer) error {
	sub, err := t.Subscribe(ctx, log, opts)
	if errors.Is(err, logclient.ErrNegativeOffset) && opts.Whence == logclient.SeekEnd {
		// fewer records than asked for: start from the first one
		sub, err = t.Subscribe(ctx, log, logclient.ReadOptions{Whence: logclient.SeekStart, Follow: opts.Follow})
	}
	if err != nil {
		return err
	}
	defer sub.Close()

	for n := 0; count <= 0 || n < count; n++ {
		rec, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "%d\t%s\n", rec.Offset, rec.Payload)
	}
	return nil
}
