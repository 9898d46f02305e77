package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/logrelay/internal/config"
)

const (
	appName    = "logrelay"
	appVersion = "0.1.0"
)

// globalOptions holds the persistent flags shared by every command
type globalOptions struct {
	configPath string
	transport  string
	serverURL  string
	target     string
	dataDir    string
	secretKey  string
	verbose    bool

	// resolved in PersistentPreRunE
	config *config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Reliable log-to-log stream relay",
		Long: `logrelay reads records from a source log, transforms them and appends
the results to a sink log. The sink doubles as the checkpoint store: every
sink record carries the source position it came from, so a restarted relay
resumes right after the last record it wrote.`,
		Version:           appVersion,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.load,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a TOML configuration file")
	flags.StringVar(&opts.transport, "transport", "", "Transport kind: http, grpc or pebble")
	flags.StringVar(&opts.serverURL, "server", "", "Log server URL for the http transport")
	flags.StringVar(&opts.target, "target", "", "Log server address for the grpc transport")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Pebble directory for the pebble transport")
	flags.StringVar(&opts.secretKey, "secret-key", "", "Secret used to sign bearer tokens")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newResolveCommand(opts))
	rootCmd.AddCommand(newTailCommand(opts))
	rootCmd.AddCommand(newAppendCommand(opts))
	rootCmd.AddCommand(newLogsCommand(opts))
	rootCmd.AddCommand(newServeCommand(opts))

	return rootCmd
}

// load reads the configuration file, applies flag overrides and sets up logging
func (o *globalOptions) load(cmd *cobra.Command, args []string) error {
	var (
		c   *config.Config
		err error
	)
	if o.configPath != "" {
		c, err = config.Load(o.configPath)
		if err != nil {
			return err
		}
	} else {
		c = config.Default()
	}

	if o.transport != "" {
		c.Transport.Kind = o.transport
	}
	if o.serverURL != "" {
		c.Transport.URL = o.serverURL
	}
	if o.target != "" {
		c.Transport.Target = o.target
	}
	if o.dataDir != "" {
		c.Transport.DataDir = o.dataDir
		c.Server.DataDir = o.dataDir
	}
	if o.secretKey != "" {
		c.Transport.SecretKey = o.secretKey
		c.Server.SecretKey = o.secretKey
	}
	if o.verbose {
		c.Log.Level = "debug"
	}

	logger, err := newLogger(cmd.ErrOrStderr(), c.Log)
	if err != nil {
		return err
	}

	o.config = c
	o.logger = logger
	return nil
}

func newLogger(w io.Writer, c config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", c.Format)
	}
}
