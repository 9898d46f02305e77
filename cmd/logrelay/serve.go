package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
	"github.com/rmacdonaldsmith/logrelay/internal/grpclog"
	"github.com/rmacdonaldsmith/logrelay/internal/httpapi"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		store    string
		httpAddr string
		grpcAddr string
		create   []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a log server for development and testing",
		Long: `Serve an in-memory or Pebble-backed log store over HTTP+WebSocket and gRPC.
Either listener can be disabled by passing an empty address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.config
			f := cmd.Flags()
			if f.Changed("store") {
				c.Server.Store = store
			}
			if f.Changed("http") {
				c.Server.HTTPAddress = httpAddr
			}
			if f.Changed("grpc") {
				c.Server.GRPCAddress = grpcAddr
			}

			return serve(cmd.Context(), opts, create, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&store, "store", "memory", "Log store: memory or pebble")
	cmd.Flags().StringVar(&httpAddr, "http", ":7123", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc", ":7124", "gRPC listen address")
	cmd.Flags().StringSliceVar(&create, "create", nil, "Logs to create at startup if missing")

	return cmd
}

func openStore(kind, dataDir string, sync bool) (eventlog.Store, error) {
	switch kind {
	case "memory":
		return eventlog.NewInMemoryEventLog(), nil
	case "pebble":
		return eventlog.OpenPebbleEventLog(eventlog.PebbleOptions{DataDir: dataDir, Sync: sync})
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

func serve(ctx context.Context, opts *globalOptions, create []string, out io.Writer) error {
	c, logger := opts.config, opts.logger

	store, err := openStore(c.Server.Store, c.Server.DataDir, c.Server.Sync)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	for _, name := range create {
		if err := store.CreateLog(ctx, name); err != nil && !errors.Is(err, eventlog.ErrLogExists) {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
	}

	if c.Server.HTTPAddress == "" && c.Server.GRPCAddress == "" {
		return errors.New("at least one of --http and --grpc is required")
	}

	errCh := make(chan error, 2)

	if c.Server.HTTPAddress != "" {
		httpServer := httpapi.NewServer(store, httpapi.Config{
			ListenAddress: c.Server.HTTPAddress,
			SecretKey:     c.Server.SecretKey,
		}, logger)
		go func() { errCh <- httpServer.Start() }()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error during http shutdown", "error", err)
			}
		}()
		fmt.Fprintf(out, "🔌 HTTP listening on %s\n", c.Server.HTTPAddress)
	}

	if c.Server.GRPCAddress != "" {
		grpcServer, err := grpclog.NewServer(&grpclog.ServerConfig{ListenAddress: c.Server.GRPCAddress}, store, logger)
		if err != nil {
			return err
		}
		if err := grpcServer.Start(); err != nil {
			return err
		}
		defer grpcServer.Stop()
		fmt.Fprintf(out, "🔗 gRPC listening on %s\n", c.Server.GRPCAddress)
	}

	fmt.Fprintf(out, "✅ %s server started (%s store)\n", appName, c.Server.Store)

	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "🛑 Shutting down...")
		return nil
	case err := <-errCh:
		return err
	}
}
