// Package relay implements the reliable relay loop: resolve a checkpoint from
// the sink log, subscribe to the source log at that offset, process each
// record and append the results to the sink.
//
// Every sink record embeds the source offset it was produced from, so after a
// crash the next run resumes right after the last record that reached the
// sink. Records between that point and the crash are processed again, which
// gives at-least-once delivery.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmacdonaldsmith/logrelay/internal/checkpoint"
	"github.com/rmacdonaldsmith/logrelay/internal/processor"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

var (
	// ErrAlreadyRun is returned when Run is called a second time on a Loop
	ErrAlreadyRun = errors.New("relay loop already run")
	// ErrAppendFailed is returned when retries of an append are exhausted
	ErrAppendFailed = errors.New("append to sink failed")
	// ErrOffsetGap is returned when the source delivers a record out of sequence
	ErrOffsetGap = errors.New("source offset out of sequence")
)

// errStopped ends streaming without a record being lost or appended
var errStopped = errors.New("stopped")

// Loop relays one source log into one sink log. A Loop runs once.
type Loop struct {
	config    Config
	source    *logclient.Client
	sink      *logclient.Client
	processor processor.Processor
	resolver  *checkpoint.Resolver
	logger    *slog.Logger
	metrics   *Metrics
	registry  prometheus.Registerer

	state atomic.Int32
	ran   atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// Option configures a Loop
type Option func(*Loop)

// WithLogger sets the structured logger of the loop and its resolver
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRegisterer registers the loop's metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Loop) {
		l.registry = reg
	}
}

// WithSinkClient writes to the sink through a different client than the source
func WithSinkClient(c *logclient.Client) Option {
	return func(l *Loop) {
		if c != nil {
			l.sink = c
		}
	}
}

// NewLoop creates a relay loop. The client is used for both logs unless
// WithSinkClient is given. Call Run to start it.
func NewLoop(config Config, client *logclient.Client, proc processor.Processor, opts ...Option) (*Loop, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l := &Loop{
		config:    config,
		source:    client,
		sink:      client,
		processor: proc,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.logger = l.logger.With("source", config.SourceLog, "sink", config.SinkLog)

	metrics, err := NewMetrics(l.registry, config.SourceLog, config.SinkLog)
	if err != nil {
		return nil, err
	}
	l.metrics = metrics

	l.resolver = checkpoint.NewResolver(l.sink,
		checkpoint.WithPositionField(config.PositionField),
		checkpoint.WithDefaultOffset(config.DefaultOffset),
		checkpoint.WithScopedLogger(l.logger),
	)

	l.stats.LastPosition = -1
	l.metrics.setState(Idle)

	return l, nil
}

// State returns the current state; safe to call from any goroutine
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a snapshot of the counters; safe to call from any goroutine
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Close unregisters the loop's metrics
func (l *Loop) Close() error {
	l.metrics.Unregister(l.registry)
	return nil
}

// Run resolves the checkpoint, connects and streams until the source ends
// (follow disabled), ctx is cancelled or a fatal error occurs. Cancellation
// and the end of the source are a clean termination and return a nil error.
func (l *Loop) Run(ctx context.Context) (Stats, error) {
	if !l.ran.CompareAndSwap(false, true) {
		return l.Stats(), ErrAlreadyRun
	}

	err := l.run(ctx)
	if err != nil {
		l.setState(Failed)
		l.logger.Error("relay failed", "error", err, "offset", l.Stats().CurrentOffset)
		return l.Stats(), err
	}

	l.setState(Terminated)
	stats := l.Stats()
	l.logger.Info("relay terminated",
		"offset", stats.CurrentOffset,
		"consumed", stats.Consumed,
		"emitted", stats.Emitted,
		"skipped", stats.Skipped())
	return stats, nil
}

func (l *Loop) run(ctx context.Context) error {
	l.setState(Resolving)
	start, err := l.resolver.Resolve(ctx, l.config.SinkLog)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to resolve checkpoint: %w", err)
	}

	l.mu.Lock()
	l.stats.StartOffset = start
	l.stats.CurrentOffset = start
	l.mu.Unlock()
	l.metrics.currentOffset.Set(float64(start))

	l.setState(Connecting)
	sub, err := l.source.OpenReader(ctx, l.config.SourceLog, start, l.config.Follow)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer sub.Close()

	w, err := l.sink.OpenWriter(ctx, l.config.SinkLog)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open sink: %w", err)
	}
	defer w.Close()

	l.logger.Info("relay streaming", "offset", start, "follow", l.config.Follow)
	l.setState(Streaming)

	return l.stream(ctx, sub, w, start)
}

func (l *Loop) stream(ctx context.Context, sub logclient.Subscription, w logclient.Writer, current int64) error {
	for {
		record, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscription failed at offset %d: %w", current, err)
		}

		if record.HasOffset() && record.Offset != current {
			return fmt.Errorf("%w: expected %d, got %d", ErrOffsetGap, current, record.Offset)
		}

		result := l.processor.Process(record, current)
		if !result.Skipped() {
			result = l.stamp(result, current)
		}
		if result.Skipped() {
			l.logger.Debug("record skipped",
				"offset", current,
				"reason", result.Outcome.String(),
				"error", result.Err)
			l.recordSkip(result.Outcome)
		} else if err := l.emit(ctx, w, result.Payload, current); err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			return err
		}

		current++
		l.advance(current)
	}
}

// stamp sets the checkpoint field of an emitted payload to offset.
// A payload that is not a JSON object becomes a transform skip.
func (l *Loop) stamp(result processor.Result, offset int64) processor.Result {
	payload, err := processor.StampPosition(result.Payload, l.config.PositionField, offset)
	if err != nil {
		return processor.Result{Outcome: processor.SkippedTransform, Err: err}
	}
	result.Payload = payload
	return result
}

// emit appends payload and applies the failure policy. The append runs on a
// context detached from ctx so that shutdown does not abort a write midway;
// AppendTimeout bounds it instead.
func (l *Loop) emit(ctx context.Context, w logclient.Writer, payload []byte, offset int64) error {
	backoff := l.config.RetryBackoff

	for attempt := 1; ; attempt++ {
		appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.AppendTimeout)
		sinkOffset, err := l.sink.Append(appendCtx, w, payload)
		cancel()

		if err == nil {
			l.logger.Debug("record emitted", "offset", offset, "sink_offset", sinkOffset)
			l.mu.Lock()
			l.stats.Emitted++
			l.stats.LastPosition = offset
			l.mu.Unlock()
			l.metrics.emitted.Inc()
			return nil
		}

		l.mu.Lock()
		l.stats.AppendFailures++
		l.mu.Unlock()
		l.metrics.appendFailures.Inc()

		if l.config.FailurePolicy == AdvanceOnFailure {
			l.logger.Error("append failed, record dropped", "offset", offset, "error", err)
			l.mu.Lock()
			l.stats.Lost++
			l.mu.Unlock()
			l.metrics.lost.Inc()
			return nil
		}

		if l.config.MaxAppendRetries > 0 && attempt > l.config.MaxAppendRetries {
			return fmt.Errorf("%w at offset %d after %d attempts: %w", ErrAppendFailed, offset, attempt, err)
		}

		l.logger.Warn("append failed, retrying",
			"offset", offset,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return errStopped
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > l.config.MaxRetryBackoff {
			backoff = l.config.MaxRetryBackoff
		}
	}
}

func (l *Loop) recordSkip(outcome processor.Outcome) {
	l.mu.Lock()
	switch outcome {
	case processor.SkippedDecode:
		l.stats.SkippedDecode++
	case processor.SkippedFilter:
		l.stats.SkippedFilter++
	default:
		l.stats.SkippedTransform++
	}
	l.mu.Unlock()
	l.metrics.skipped.WithLabelValues(outcome.String()).Inc()
}

func (l *Loop) advance(next int64) {
	l.mu.Lock()
	l.stats.Consumed++
	l.stats.CurrentOffset = next
	l.mu.Unlock()
	l.metrics.consumed.Inc()
	l.metrics.currentOffset.Set(float64(next))
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.setState(s)
}
