package logclient

import (
	"context"
	"fmt"
)

// Client implements the LogClient operations on top of a Transport.
// It validates arguments and wraps transport errors with the log they concern;
// the sentinel errors of this package stay matchable with errors.Is.
type Client struct {
	transport Transport
}

// NewClient creates a new Client using the given transport session
func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// Transport returns the underlying transport session
func (c *Client) Transport() Transport {
	return c.transport
}

// OpenReader requests records of log starting at start (inclusive).
// With follow the returned subscription never ends on its own: Next suspends
// until a new record is appended or the context is cancelled.
func (c *Client) OpenReader(ctx context.Context, log string, start int64, follow bool) (Subscription, error) {
	if log == "" {
		return nil, ErrEmptyLogName
	}
	if start < 0 {
		return nil, ErrNegativeOffset
	}

	sub, err := c.transport.Subscribe(ctx, log, ReadOptions{
		Position: start,
		Whence:   SeekOrigin,
		Follow:   follow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open reader on %s at %d: %w", log, start, err)
	}

	return sub, nil
}

// OpenWriter opens an append handle on log
func (c *Client) OpenWriter(ctx context.Context, log string) (Writer, error) {
	if log == "" {
		return nil, ErrEmptyLogName
	}

	w, err := c.transport.OpenWriter(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer on %s: %w", log, err)
	}

	return w, nil
}

// Append writes payload through w and returns the offset assigned by the server.
// Every transport failure is returned; a record is never dropped silently.
func (c *Client) Append(ctx context.Context, w Writer, payload []byte) (int64, error) {
	if len(payload) == 0 {
		return UnknownOffset, ErrEmptyPayload
	}

	offset, err := w.Append(ctx, payload)
	if err != nil {
		return UnknownOffset, fmt.Errorf("append failed: %w", err)
	}

	return offset, nil
}

// ReadLast returns the most recent record of log, or nil when the log is empty.
// An empty log is not an error.
func (c *Client) ReadLast(ctx context.Context, log string) (*Record, error) {
	if log == "" {
		return nil, ErrEmptyLogName
	}

	record, err := c.transport.ReadLast(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("failed to read last record of %s: %w", log, err)
	}

	return record, nil
}

// Close closes the underlying transport session
func (c *Client) Close() error {
	return c.transport.Close()
}
