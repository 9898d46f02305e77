// Package checkpoint derives the resume offset of a relay from the last record
// it wrote to its sink log. The sink log is the only checkpoint store: every
// sink record embeds the source offset of the input that produced it.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// DefaultPositionField is the sink payload field carrying the source offset
const DefaultPositionField = "position"

var (
	// ErrNoPosition is returned by ParsePosition when the field is absent
	ErrNoPosition = errors.New("no position field")
	// ErrInvalidPosition is returned by ParsePosition when the field is not a non-negative integer
	ErrInvalidPosition = errors.New("invalid position field")
	// ErrEmptySink is the Reason of a checkpoint read from an empty sink log
	ErrEmptySink = errors.New("sink log is empty")
)

// Checkpoint is the source position recorded in the last sink record
type Checkpoint struct {
	// Position is the source offset of the last processed input, valid when Found
	Position int64

	// Found is false when the sink is empty or its last record carries no usable position
	Found bool

	// SinkOffset is the offset of the sink record the checkpoint was read from
	SinkOffset int64

	// Reason tells why no checkpoint was found
	Reason error
}

// Next returns the source offset to resume from, or def when no checkpoint was found
func (c Checkpoint) Next(def int64) int64 {
	if !c.Found {
		return def
	}
	return c.Position + 1
}

// Reader is the part of the log client the resolver needs
type Reader interface {
	ReadLast(ctx context.Context, log string) (*logclient.Record, error)
}

// Resolver reconstructs the resume offset from a sink log
type Resolver struct {
	reader        Reader
	positionField string
	defaultOffset int64
	logger        *slog.Logger
	scopedLogger  bool
}

// Option configures a Resolver
type Option func(*Resolver)

// WithPositionField overrides the sink payload field holding the source offset
func WithPositionField(field string) Option {
	return func(r *Resolver) {
		if field != "" {
			r.positionField = field
		}
	}
}

// WithDefaultOffset sets the offset returned for an empty or legacy sink
func WithDefaultOffset(offset int64) Option {
	return func(r *Resolver) {
		r.defaultOffset = offset
	}
}

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithScopedLogger sets a logger that already identifies the sink log
func WithScopedLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
			r.scopedLogger = true
		}
	}
}

// NewResolver creates a Resolver reading sink records through reader
func NewResolver(reader Reader, opts ...Option) *Resolver {
	r := &Resolver{
		reader:        reader,
		positionField: DefaultPositionField,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup reads the last record of sinkLog and extracts its checkpoint.
// A missing or malformed position is reported as a checkpoint that was not
// found, with the cause in Reason; only transport failures (including an
// unknown sink log) are errors.
func (r *Resolver) Lookup(ctx context.Context, sinkLog string) (Checkpoint, error) {
	last, err := r.reader.ReadLast(ctx, sinkLog)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to read checkpoint from %s: %w", sinkLog, err)
	}

	if last == nil {
		return Checkpoint{SinkOffset: logclient.UnknownOffset, Reason: ErrEmptySink}, nil
	}

	position, err := ParsePosition(last.Payload, r.positionField)
	if err != nil {
		return Checkpoint{SinkOffset: last.Offset, Reason: err}, nil
	}

	return Checkpoint{
		Position:   position,
		Found:      true,
		SinkOffset: last.Offset,
	}, nil
}

// Resolve returns the next source offset to request: the checkpoint position
// plus one, or the default offset when the sink holds no usable checkpoint.
func (r *Resolver) Resolve(ctx context.Context, sinkLog string) (int64, error) {
	cp, err := r.Lookup(ctx, sinkLog)
	if err != nil {
		return 0, err
	}

	next := cp.Next(r.defaultOffset)
	if !cp.Found {
		logger := r.logger
		if !r.scopedLogger {
			logger = logger.With("sink", sinkLog)
		}
		logger.Warn("no usable checkpoint, falling back to default offset",
			"offset", next,
			"sink_offset", cp.SinkOffset,
			"field", r.positionField,
			"reason", cp.Reason)
	}

	return next, nil
}

// ParsePosition extracts a non-negative integer field from a JSON object payload.
// Integral JSON numbers and decimal strings are accepted.
func ParsePosition(payload []byte, field string) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return 0, fmt.Errorf("%w: payload is not a JSON object: %v", ErrInvalidPosition, err)
	}

	raw, ok := obj[field]
	if !ok || raw == nil {
		return 0, ErrNoPosition
	}

	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = v
	default:
		return 0, fmt.Errorf("%w: unexpected type %T", ErrInvalidPosition, raw)
	}

	position, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
	}
	if position < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrInvalidPosition, position)
	}
	// no offset can follow it
	if position == math.MaxInt64 {
		return 0, fmt.Errorf("%w: position %d has no successor", ErrInvalidPosition, position)
	}

	return position, nil
}
