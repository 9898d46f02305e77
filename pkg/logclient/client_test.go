package logclient

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	subscribed ReadOptions
	last       *Record
	err        error
	writer     *stubWriter
	closed     bool
}

func (s *stubTransport) Subscribe(ctx context.Context, log string, opts ReadOptions) (Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.subscribed = opts
	return &stubSubscription{}, nil
}

func (s *stubTransport) ReadLast(ctx context.Context, log string) (*Record, error) {
	return s.last, s.err
}

func (s *stubTransport) OpenWriter(ctx context.Context, log string) (Writer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.writer, nil
}

func (s *stubTransport) Close() error {
	s.closed = true
	return nil
}

type stubSubscription struct{}

func (s *stubSubscription) Next(ctx context.Context) (Record, error) { return Record{}, io.EOF }
func (s *stubSubscription) Close() error                             { return nil }

type stubWriter struct {
	next     int64
	err      error
	payloads [][]byte
}

func (w *stubWriter) Append(ctx context.Context, payload []byte) (int64, error) {
	if w.err != nil {
		return UnknownOffset, w.err
	}
	w.payloads = append(w.payloads, payload)
	offset := w.next
	w.next++
	return offset, nil
}

func (w *stubWriter) Close() error { return nil }

func TestClient_OpenReader(t *testing.T) {
	t.Run("requests_origin_position", func(t *testing.T) {
		transport := &stubTransport{}
		client := NewClient(transport)

		sub, err := client.OpenReader(context.Background(), "gdax", 42, true)
		require.NoError(t, err)
		defer sub.Close()

		assert.Equal(t, ReadOptions{Position: 42, Whence: SeekOrigin, Follow: true}, transport.subscribed)
	})

	t.Run("rejects_negative_offset", func(t *testing.T) {
		client := NewClient(&stubTransport{})

		sub, err := client.OpenReader(context.Background(), "gdax", -1, false)
		assert.ErrorIs(t, err, ErrNegativeOffset)
		assert.Nil(t, sub)
	})

	t.Run("rejects_empty_log_name", func(t *testing.T) {
		client := NewClient(&stubTransport{})

		_, err := client.OpenReader(context.Background(), "", 0, false)
		assert.ErrorIs(t, err, ErrEmptyLogName)
	})

	t.Run("wraps_transport_errors", func(t *testing.T) {
		client := NewClient(&stubTransport{err: ErrLogNotFound})

		_, err := client.OpenReader(context.Background(), "missing", 0, true)
		assert.ErrorIs(t, err, ErrLogNotFound)
		assert.Contains(t, err.Error(), "missing")
	})
}

func TestClient_Append(t *testing.T) {
	t.Run("returns_assigned_offset", func(t *testing.T) {
		writer := &stubWriter{next: 10}
		client := NewClient(&stubTransport{writer: writer})

		w, err := client.OpenWriter(context.Background(), "matches")
		require.NoError(t, err)

		offset, err := client.Append(context.Background(), w, []byte(`{"position":1}`))
		require.NoError(t, err)
		assert.Equal(t, int64(10), offset)
		assert.Len(t, writer.payloads, 1)
	})

	t.Run("rejects_empty_payload", func(t *testing.T) {
		writer := &stubWriter{}
		client := NewClient(&stubTransport{writer: writer})

		_, err := client.Append(context.Background(), writer, nil)
		assert.ErrorIs(t, err, ErrEmptyPayload)
		assert.Empty(t, writer.payloads)
	})

	t.Run("surfaces_transport_failure", func(t *testing.T) {
		failure := errors.New("connection reset")
		writer := &stubWriter{err: failure}
		client := NewClient(&stubTransport{writer: writer})

		offset, err := client.Append(context.Background(), writer, []byte("x"))
		assert.ErrorIs(t, err, failure)
		assert.Equal(t, UnknownOffset, offset)
	})
}

func TestClient_ReadLast(t *testing.T) {
	t.Run("empty_log_is_not_an_error", func(t *testing.T) {
		client := NewClient(&stubTransport{})

		record, err := client.ReadLast(context.Background(), "matches")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("returns_last_record", func(t *testing.T) {
		last := NewRecord(3, []byte(`{"position":2}`))
		client := NewClient(&stubTransport{last: &last})

		record, err := client.ReadLast(context.Background(), "matches")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, int64(3), record.Offset)
	})

	t.Run("close_releases_transport", func(t *testing.T) {
		transport := &stubTransport{}
		client := NewClient(transport)

		require.NoError(t, client.Close())
		assert.True(t, transport.closed)
	})
}
