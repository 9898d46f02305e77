package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

func newAppendCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append LOG [PAYLOAD...]",
		Short: "Append records to a log",
		Long: `Append one record per PAYLOAD argument, or one record per non-empty line
read from stdin when no payload is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := openTransport(opts.config, opts.logger)
			if err != nil {
				return err
			}
			client := logclient.NewClient(transport)
			defer client.Close()

			payloads := args[1:]
			if len(payloads) == 0 {
				payloads, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			return appendRecords(cmd.Context(), client, args[0], payloads, cmd.OutOrStdout())
		},
	}

	return cmd
}

func appendRecords(ctx context.Context, client *logclient.Client, log string, payloads []string, out io.Writer) error {
	w, err := client.OpenWriter(ctx, log)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, p := range payloads {
		offset, err := client.Append(ctx, w, []byte(p))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "📤 %s@%d\n", log, offset)
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
