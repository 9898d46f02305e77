package relay

import (
	"errors"
	"fmt"
	"time"
)

// FailurePolicy decides what happens to the current offset when an append
// to the sink fails.
type FailurePolicy string

const (
	// AdvanceOnFailure logs the failure and moves on; the record is lost for this run
	AdvanceOnFailure FailurePolicy = "advance-on-failure"
	// RetryBeforeAdvance retries the append with backoff and never skips a record
	RetryBeforeAdvance FailurePolicy = "retry-before-advance"
)

var (
	// ErrEmptySourceLog is returned when no source log is configured
	ErrEmptySourceLog = errors.New("source log cannot be empty")
	// ErrEmptySinkLog is returned when no sink log is configured
	ErrEmptySinkLog = errors.New("sink log cannot be empty")
	// ErrSameLog is returned when source and sink are the same log
	ErrSameLog = errors.New("source and sink must be different logs")
	// ErrInvalidPolicy is returned for an unknown failure policy
	ErrInvalidPolicy = errors.New("invalid failure policy")
)

// Config holds configuration for a relay Loop
type Config struct {
	// SourceLog is the log records are consumed from
	SourceLog string

	// SinkLog is the log processed records are appended to; it also holds the checkpoint
	SinkLog string

	// DefaultOffset is the source offset used when the sink has no checkpoint
	DefaultOffset int64

	// PositionField is the sink payload field the checkpoint is read from
	PositionField string

	// Follow keeps the subscription open at the end of the source log
	Follow bool

	// FailurePolicy selects the behaviour on append failure
	FailurePolicy FailurePolicy

	// MaxAppendRetries bounds retries under RetryBeforeAdvance; 0 retries until cancelled
	MaxAppendRetries int

	// RetryBackoff is the first delay between append retries, doubled up to MaxRetryBackoff
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// AppendTimeout bounds a single append, including one still in flight at shutdown
	AppendTimeout time.Duration
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.PositionField == "" {
		c.PositionField = "position"
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = AdvanceOnFailure
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 5 * time.Second
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = c.RetryBackoff
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = 10 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SourceLog == "" {
		return ErrEmptySourceLog
	}
	if c.SinkLog == "" {
		return ErrEmptySinkLog
	}
	if c.SourceLog == c.SinkLog {
		return ErrSameLog
	}
	if c.DefaultOffset < 0 {
		return fmt.Errorf("default offset must be non-negative, got %d", c.DefaultOffset)
	}
	if c.MaxAppendRetries < 0 {
		return fmt.Errorf("max append retries must be non-negative, got %d", c.MaxAppendRetries)
	}
	switch c.FailurePolicy {
	case AdvanceOnFailure, RetryBeforeAdvance:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, c.FailurePolicy)
	}
	return nil
}

// ParseFailurePolicy converts a config or flag value to a FailurePolicy
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case AdvanceOnFailure, RetryBeforeAdvance:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}
