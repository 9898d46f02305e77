// Package processor maps source records to sink payloads.
//
// A Pipeline decodes the JSON object of a source record, applies a filter
// predicate, maps the matching object to the sink shape and stamps the source
// offset into it, so that the sink log doubles as the relay's checkpoint store.
// Decoding, filter and mapping failures are skips, never errors.
package processor

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// DefaultPositionField is the sink payload field receiving the source offset
const DefaultPositionField = "position"

// Outcome classifies what happened to a source record
type Outcome int

const (
	// Emitted means the record produced a sink payload
	Emitted Outcome = iota
	// SkippedDecode means the payload was not a JSON object
	SkippedDecode
	// SkippedFilter means the filter predicate did not match
	SkippedFilter
	// SkippedTransform means the mapper could not build a sink payload
	SkippedTransform
)

// String returns the label used in logs and metrics
func (o Outcome) String() string {
	switch o {
	case Emitted:
		return "emitted"
	case SkippedDecode:
		return "decode"
	case SkippedFilter:
		return "filter"
	case SkippedTransform:
		return "transform"
	default:
		return "unknown"
	}
}

// Result is the output of processing one source record
type Result struct {
	// Payload is the sink payload, set only when Outcome is Emitted
	Payload []byte

	// Outcome tells whether the record was emitted or why it was skipped
	Outcome Outcome

	// Err describes why a record was skipped, if known
	Err error
}

// Skipped reports whether the record produced no sink payload
func (r Result) Skipped() bool {
	return r.Outcome != Emitted
}

// Processor maps one source record found at offset to zero or one sink payload.
// Implementations must be deterministic for a given record so that a relay
// restarted at the same offset produces the same output.
type Processor interface {
	Process(record logclient.Record, offset int64) Result
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(record logclient.Record, offset int64) Result

// Process calls f(record, offset)
func (f ProcessorFunc) Process(record logclient.Record, offset int64) Result {
	return f(record, offset)
}

// Event is a decoded source record handed to predicates and mappers
type Event struct {
	// Fields is the decoded JSON object; numbers are json.Number
	Fields map[string]any

	// Offset is the source offset the record was found at
	Offset int64

	// Raw is the undecoded payload
	Raw []byte
}

// Pipeline is the standard Processor: decode, filter, map, stamp position.
type Pipeline struct {
	filter        Predicate
	mapper        Mapper
	positionField string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithFilter sets the predicate records must satisfy to be emitted
func WithFilter(p Predicate) Option {
	return func(pl *Pipeline) {
		if p != nil {
			pl.filter = p
		}
	}
}

// WithMapper sets the mapping from source object to sink object
func WithMapper(m Mapper) Option {
	return func(pl *Pipeline) {
		if m != nil {
			pl.mapper = m
		}
	}
}

// WithPositionField overrides the sink field receiving the source offset
func WithPositionField(field string) Option {
	return func(pl *Pipeline) {
		if field != "" {
			pl.positionField = field
		}
	}
}

// NewPipeline creates a Pipeline. Without options every JSON object record is
// emitted unchanged apart from the position field.
func NewPipeline(opts ...Option) *Pipeline {
	pl := &Pipeline{
		filter:        All(),
		mapper:        Identity(),
		positionField: DefaultPositionField,
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Process implements Processor
func (pl *Pipeline) Process(record logclient.Record, offset int64) Result {
	fields, err := decodeObject(record.Payload)
	if err != nil {
		return Result{Outcome: SkippedDecode, Err: err}
	}

	event := Event{Fields: fields, Offset: offset, Raw: record.Payload}

	ok, err := pl.filter.Match(event)
	if err != nil {
		return Result{Outcome: SkippedFilter, Err: err}
	}
	if !ok {
		return Result{Outcome: SkippedFilter}
	}

	out, err := pl.mapper.Map(event)
	if err != nil {
		return Result{Outcome: SkippedTransform, Err: err}
	}
	if out == nil {
		out = make(map[string]any, 1)
	}

	// The position always wins over a mapped field of the same name
	out[pl.positionField] = offset

	payload, err := json.Marshal(out)
	if err != nil {
		return Result{Outcome: SkippedTransform, Err: fmt.Errorf("failed to encode sink payload: %w", err)}
	}

	return Result{Payload: payload, Outcome: Emitted}
}

// StampPosition sets field to offset in the JSON object payload, replacing any
// value already there. Payloads that are not JSON objects cannot carry a
// position and are rejected.
func StampPosition(payload []byte, field string, offset int64) ([]byte, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}
	obj[field] = offset

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sink payload: %w", err)
	}
	return out, nil
}

// decodeObject decodes a JSON object keeping numbers exact
func decodeObject(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("payload is not a JSON object: null")
	}
	return obj, nil
}

var _ Processor = (*Pipeline)(nil)
