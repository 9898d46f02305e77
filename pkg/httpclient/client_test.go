package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
	"github.com/rmacdonaldsmith/logrelay/internal/httpapi"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

const testSecret = "test-secret-key"

// setup starts a log server over an in-memory store and returns a client for it
func setup(t *testing.T, secret string, logs ...string) (*Client, *eventlog.InMemoryEventLog) {
	t.Helper()

	store := eventlog.NewInMemoryEventLog()
	t.Cleanup(func() { store.Close() })
	for _, name := range logs {
		require.NoError(t, store.CreateLog(context.Background(), name))
	}

	ts := httptest.NewServer(httpapi.NewServer(store, httpapi.Config{SecretKey: secret}, nil).Handler())
	t.Cleanup(ts.Close)

	client, err := NewClient(Config{ServerURL: ts.URL, SecretKey: secret, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, store
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:7123"})
		require.NoError(t, err)
		assert.Equal(t, "logrelay", client.config.ClientID)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.Equal(t, 3, client.config.MaxRetries)
	})

	t.Run("missing_server_url", func(t *testing.T) {
		_, err := NewClient(Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ServerURL is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		_, err := NewClient(Config{ServerURL: "://invalid-url"})
		assert.Error(t, err)

		_, err = NewClient(Config{ServerURL: "ftp://localhost"})
		assert.Error(t, err)
	})
}

func TestClient_ReadLast(t *testing.T) {
	client, store := setup(t, "", "sink")
	ctx := testContext(t)

	t.Run("empty_log", func(t *testing.T) {
		rec, err := client.ReadLast(ctx, "sink")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("last_record", func(t *testing.T) {
		_, err := store.Append(ctx, "sink", []byte(`{"position":1}`))
		require.NoError(t, err)
		_, err = store.Append(ctx, "sink", []byte(`{"position":9}`))
		require.NoError(t, err)

		rec, err := client.ReadLast(ctx, "sink")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(1), rec.Offset)
		assert.Equal(t, `{"position":9}`, string(rec.Payload))
	})

	t.Run("unknown_log", func(t *testing.T) {
		_, err := client.ReadLast(ctx, "missing")
		assert.ErrorIs(t, err, logclient.ErrLogNotFound)
		assert.True(t, IsNotFound(err))

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	})
}

func TestClient_Writer(t *testing.T) {
	client, store := setup(t, "", "sink")
	ctx := testContext(t)

	w, err := client.OpenWriter(ctx, "sink")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		offset, err := w.Append(ctx, []byte(`{"n":1}`))
		require.NoError(t, err)
		assert.Equal(t, int64(i), offset)
	}

	info, err := store.Describe(ctx, "sink")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.RecordCount)

	_, err = w.Append(ctx, nil)
	assert.ErrorIs(t, err, logclient.ErrEmptyPayload)

	require.NoError(t, w.Close())
	_, err = w.Append(ctx, []byte("x"))
	assert.ErrorIs(t, err, logclient.ErrClosed)

	_, err = client.OpenWriter(ctx, "missing")
	assert.ErrorIs(t, err, logclient.ErrLogNotFound)
}

func TestClient_Subscribe(t *testing.T) {
	client, store := setup(t, "", "source")
	ctx := testContext(t)

	for _, p := range []string{"a", "b", "c"} {
		_, err := store.Append(ctx, "source", []byte(p))
		require.NoError(t, err)
	}

	t.Run("offsets_follow_start_position", func(t *testing.T) {
		sub, err := client.Subscribe(ctx, "source", logclient.ReadOptions{Position: 1, Whence: logclient.SeekOrigin})
		require.NoError(t, err)
		defer sub.Close()

		rec, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, logclient.Record{Offset: 1, Payload: []byte("b")}, rec)

		rec, err = sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, logclient.Record{Offset: 2, Payload: []byte("c")}, rec)

		_, err = sub.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("whence_end", func(t *testing.T) {
		sub, err := client.Subscribe(ctx, "source", logclient.ReadOptions{Position: -2, Whence: logclient.SeekEnd})
		require.NoError(t, err)
		defer sub.Close()

		rec, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Offset)
		assert.Equal(t, "b", string(rec.Payload))
	})

	t.Run("follow_sees_new_records", func(t *testing.T) {
		sub, err := client.Subscribe(ctx, "source", logclient.ReadOptions{Position: 3, Follow: true})
		require.NoError(t, err)
		defer sub.Close()

		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = store.Append(context.Background(), "source", []byte("d"))
		}()

		rec, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, logclient.Record{Offset: 3, Payload: []byte("d")}, rec)
	})

	t.Run("next_honours_context", func(t *testing.T) {
		sub, err := client.Subscribe(ctx, "source", logclient.ReadOptions{Position: 50, Follow: true})
		require.NoError(t, err)
		defer sub.Close()

		short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()

		_, err = sub.Next(short)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		require.NoError(t, sub.Close())
		_, err = sub.Next(ctx)
		assert.ErrorIs(t, err, logclient.ErrClosed)
	})

	t.Run("unknown_log", func(t *testing.T) {
		_, err := client.Subscribe(ctx, "missing", logclient.ReadOptions{})
		assert.ErrorIs(t, err, logclient.ErrLogNotFound)
	})

	t.Run("invalid_whence", func(t *testing.T) {
		_, err := client.Subscribe(ctx, "source", logclient.ReadOptions{Whence: "middle"})
		assert.ErrorIs(t, err, logclient.ErrInvalidWhence)
	})
}

func TestClient_Auth(t *testing.T) {
	t.Run("signed_requests_are_accepted", func(t *testing.T) {
		client, store := setup(t, testSecret, "events")
		ctx := testContext(t)

		_, err := store.Append(ctx, "events", []byte("a"))
		require.NoError(t, err)

		info, err := client.GetLog(ctx, "events")
		require.NoError(t, err)
		assert.Equal(t, int64(1), info.RecordCount)

		sub, err := client.Subscribe(ctx, "events", logclient.ReadOptions{})
		require.NoError(t, err)
		defer sub.Close()

		rec, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", string(rec.Payload))
	})

	t.Run("unsigned_requests_are_rejected", func(t *testing.T) {
		client, _ := setup(t, testSecret, "events")
		client.config.SecretKey = ""

		_, err := client.GetLog(testContext(t), "events")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "unauthorized", apiErr.Code)
	})
}

func TestClient_Retries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"events","record_count":4,"start_position":0,"end_position":4}`))
	}))
	defer ts.Close()

	client, err := NewClient(Config{ServerURL: ts.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	info, err := client.GetLog(testContext(t), "events")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.EndPosition)
	assert.Equal(t, int32(3), calls.Load())

	t.Run("client_errors_are_not_retried", func(t *testing.T) {
		var notFound atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			notFound.Add(1)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"log_not_found","message":"api: log not found"}`))
		}))
		defer ts.Close()

		client, err := NewClient(Config{ServerURL: ts.URL, RetryDelay: time.Millisecond})
		require.NoError(t, err)

		_, err = client.GetLog(testContext(t), "events")
		assert.True(t, errors.Is(err, logclient.ErrLogNotFound))
		assert.Equal(t, int32(1), notFound.Load())
	})
}
