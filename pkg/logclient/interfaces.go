package logclient

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrLogNotFound is returned when the named log does not exist on the server
	ErrLogNotFound = errors.New("log not found")
	// ErrNegativeOffset is returned when a negative start offset is requested
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrEmptyPayload is returned when appending a record without payload
	ErrEmptyPayload = errors.New("payload cannot be empty")
	// ErrEmptyLogName is returned when no log name is given
	ErrEmptyLogName = errors.New("log name cannot be empty")
	// ErrClosed is returned when using a subscription, writer or session after Close
	ErrClosed = errors.New("closed")
	// ErrInvalidWhence is returned for an unknown seek origin
	ErrInvalidWhence = errors.New("invalid whence")
)

// Whence is the origin a read position is relative to.
type Whence string

const (
	// SeekOrigin positions are absolute offsets from the log origin (offset 0).
	SeekOrigin Whence = "origin"
	// SeekStart positions are relative to the first available record.
	SeekStart Whence = "start"
	// SeekCurrent positions are relative to the current position.
	SeekCurrent Whence = "current"
	// SeekEnd positions are relative to the end of the log.
	SeekEnd Whence = "end"
)

// Valid reports whether w is one of the known seek origins.
func (w Whence) Valid() bool {
	switch w {
	case SeekOrigin, SeekStart, SeekCurrent, SeekEnd:
		return true
	}
	return false
}

// ReadOptions describes where a subscription starts and whether it tails the log.
type ReadOptions struct {
	// Position is interpreted relative to Whence
	Position int64

	// Whence defaults to SeekOrigin when empty
	Whence Whence

	// Follow keeps the subscription open at the end of the log, waiting for new records
	Follow bool
}

// Subscription is a lazily produced sequence of records from one log.
// Records are yielded with strictly increasing, gapless offsets.
type Subscription interface {
	io.Closer

	// Next blocks until the next record is available.
	// It returns io.EOF once a non-follow subscription reached the end of the log,
	// and ctx.Err() when the context is cancelled while waiting.
	Next(ctx context.Context) (Record, error)
}

// Writer is an append-only handle on a single log.
type Writer interface {
	io.Closer

	// Append writes a single record and returns the offset the server assigned to it.
	// Transports that cannot report the offset return UnknownOffset.
	Append(ctx context.Context, payload []byte) (int64, error)
}

// Transport is a session against a log server. Implementations exist for
// HTTP+WebSocket, gRPC and embedded stores.
type Transport interface {
	io.Closer

	// Subscribe opens a read session on a log.
	Subscribe(ctx context.Context, log string, opts ReadOptions) (Subscription, error)

	// ReadLast returns the most recent record of a log, or nil if the log is empty.
	ReadLast(ctx context.Context, log string) (*Record, error)

	// OpenWriter opens an append session on a log. It fails with ErrLogNotFound
	// when the log does not exist.
	OpenWriter(ctx context.Context, log string) (Writer, error)
}
