package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/logrelay/internal/relay"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		source        string
		sink          string
		defaultOffset int64
		follow        bool
		policy        string
		filter        string
		fields        []string
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Relay records from a source log to a sink log",
		Long: `Resolve the checkpoint from the sink log, then stream the source log from
the next offset, appending one sink record per matching source record.
Press Ctrl+C to stop; the relay resumes where it left off on the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.config
			f := cmd.Flags()
			if f.Changed("source") {
				c.Relay.Source = source
			}
			if f.Changed("sink") {
				c.Relay.Sink = sink
			}
			if f.Changed("default-offset") {
				c.Relay.DefaultOffset = defaultOffset
			}
			if f.Changed("follow") {
				c.Relay.Follow = &follow
			}
			if f.Changed("failure-policy") {
				c.Relay.FailurePolicy = policy
			}
			if f.Changed("filter") {
				c.Processor.FilterField = ""
				c.Processor.FilterValue = ""
				c.Processor.FilterExpr = filter
			}
			if f.Changed("fields") {
				c.Processor.Fields = fields
			}
			if f.Changed("metrics-addr") {
				c.Metrics.Address = metricsAddr
			}

			return runRelay(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source log name")
	cmd.Flags().StringVar(&sink, "sink", "", "Sink log name")
	cmd.Flags().Int64Var(&defaultOffset, "default-offset", 0, "Source offset used when the sink holds no checkpoint")
	cmd.Flags().BoolVar(&follow, "follow", true, "Keep waiting for new source records at the end of the log")
	cmd.Flags().StringVar(&policy, "failure-policy", "", "advance-on-failure or retry-before-advance")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL filter expression, e.g. json.type == \"match\"")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Fields copied to the sink record")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func runRelay(ctx context.Context, opts *globalOptions, out io.Writer) error {
	c, logger := opts.config, opts.logger

	rc, err := c.RelayLoopConfig()
	if err != nil {
		return fmt.Errorf("invalid relay configuration: %w", err)
	}
	proc, err := c.BuildProcessor()
	if err != nil {
		return err
	}

	transport, err := openTransport(c, logger)
	if err != nil {
		return err
	}
	client := logclient.NewClient(transport)
	defer client.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	loop, err := relay.NewLoop(rc, client, proc,
		relay.WithLogger(logger),
		relay.WithRegisterer(registry),
	)
	if err != nil {
		return err
	}
	defer loop.Close()

	if c.Metrics.Address != "" {
		srv := newMetricsServer(c.Metrics.Address, registry, loop)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(out, "📈 Metrics on http://%s/metrics\n", c.Metrics.Address)
	}

	fmt.Fprintf(out, "🚀 Relaying %s → %s over %s\n", rc.SourceLog, rc.SinkLog, c.Transport.Kind)

	stats, err := loop.Run(ctx)
	printStats(out, stats)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Relay stopped at offset %d\n", stats.CurrentOffset)
	return nil
}

// newMetricsServer serves /metrics and a /healthz endpoint reporting the loop state
func newMetricsServer(addr string, registry *prometheus.Registry, loop *relay.Loop) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := loop.State()
		if state == relay.Failed {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, state.String())
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func printStats(out io.Writer, s relay.Stats) {
	fmt.Fprintf(out, "📊 Relay statistics:\n")
	fmt.Fprintf(out, "   Start offset:   %d\n", s.StartOffset)
	fmt.Fprintf(out, "   Current offset: %d\n", s.CurrentOffset)
	fmt.Fprintf(out, "   Consumed:       %d\n", s.Consumed)
	fmt.Fprintf(out, "   Emitted:        %d\n", s.Emitted)
	fmt.Fprintf(out, "   Skipped:        %d (decode %d, filter %d, transform %d)\n",
		s.Skipped(), s.SkippedDecode, s.SkippedFilter, s.SkippedTransform)
	if s.AppendFailures > 0 || s.Lost > 0 {
		fmt.Fprintf(out, "   ⚠️  Append failures: %d, lost records: %d\n", s.AppendFailures, s.Lost)
	}
}
