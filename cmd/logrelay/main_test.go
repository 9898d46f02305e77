package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/logrelay/internal/config"
	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
	"github.com/rmacdonaldsmith/logrelay/internal/httpapi"
)

// execute runs the root command with args and returns what it printed on stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCommand(&out, &errOut)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "logrelay")
	assert.Contains(t, out, appVersion)
}

func TestRelayOverPebble(t *testing.T) {
	pebble := []string{"--transport", "pebble", "--data-dir", t.TempDir()}
	with := func(args ...string) []string {
		return append(append([]string{}, pebble...), args...)
	}

	_, err := execute(t, with("logs", "create", "source", "sink")...)
	require.NoError(t, err)

	out, err := execute(t, with("append", "source",
		`{"type":"open","price":"1"}`,
		`{"type":"match","time":"t1","price":"2"}`,
		`not json`,
		`{"type":"match","time":"t2","price":"3"}`,
	)...)
	require.NoError(t, err)
	assert.Contains(t, out, "source@3")

	relayArgs := with("run", "--source", "source", "--sink", "sink", "--follow=false",
		"--filter", `json.type == "match"`, "--fields", "time,price")

	out, err = execute(t, relayArgs...)
	require.NoError(t, err)
	assert.Contains(t, out, "Emitted:        2")
	assert.Contains(t, out, "Skipped:        2 (decode 1, filter 1, transform 0)")
	assert.Contains(t, out, "Relay stopped at offset 4")

	out, err = execute(t, with("tail", "sink", "--whence", "origin", "--position", "0")...)
	require.NoError(t, err)
	assert.Equal(t,
		"0\t{\"position\":1,\"price\":\"2\",\"time\":\"t1\"}\n"+
			"1\t{\"position\":3,\"price\":\"3\",\"time\":\"t2\"}\n",
		out)

	out, err = execute(t, with("resolve", "sink")...)
	require.NoError(t, err)
	assert.Contains(t, out, "last position 3 (sink offset 1)")
	assert.Contains(t, out, "Next source offset: 4")

	t.Run("restart_resumes_after_checkpoint", func(t *testing.T) {
		out, err := execute(t, relayArgs...)
		require.NoError(t, err)
		assert.Contains(t, out, "Start offset:   4")
		assert.Contains(t, out, "Emitted:        0")
	})

	t.Run("logs_list", func(t *testing.T) {
		out, err := execute(t, with("logs", "list")...)
		require.NoError(t, err)
		assert.Contains(t, out, "source: 4 records [0, 4)")
		assert.Contains(t, out, "sink: 2 records [0, 2)")
	})

	t.Run("tail_shorter_than_window", func(t *testing.T) {
		out, err := execute(t, with("tail", "sink")...)
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out, "\n"))
	})
}

func TestRelayOverHTTP(t *testing.T) {
	store := eventlog.NewInMemoryEventLog()
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateLog(ctx, "coinbase"))
	require.NoError(t, store.CreateLog(ctx, "matches"))
	for _, p := range []string{
		`{"type":"match","price":"100.5"}`,
		`{"type":"received","price":"101"}`,
		`{"type":"match","price":"99.25"}`,
	} {
		_, err := store.Append(ctx, "coinbase", []byte(p))
		require.NoError(t, err)
	}

	ts := httptest.NewServer(httpapi.NewServer(store, httpapi.Config{SecretKey: "s3cret"}, nil).Handler())
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "logrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[transport]
kind = "http"
url = "`+ts.URL+`"
secret_key = "s3cret"

[relay]
source = "coinbase"
sink = "matches"
follow = false

[processor]
filter_field = "type"
filter_value = "match"
fields = ["price"]
`), 0o600))

	out, err := execute(t, "--config", path, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "coinbase → matches over http")
	assert.Contains(t, out, "Emitted:        2")

	last, err := store.ReadLast(ctx, "matches")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.JSONEq(t, `{"price":"99.25","position":2}`, string(last.Payload))

	t.Run("unsigned_requests_fail", func(t *testing.T) {
		_, err := execute(t, "--server", ts.URL, "resolve", "matches")
		assert.Error(t, err)
	})
}

func TestCommandErrors(t *testing.T) {
	t.Run("unknown_transport", func(t *testing.T) {
		_, err := execute(t, "--transport", "carrier-pigeon", "tail", "x")
		assert.ErrorIs(t, err, config.ErrUnknownTransport)
	})

	t.Run("unknown_sink", func(t *testing.T) {
		dir := t.TempDir()
		_, err := execute(t, "--transport", "pebble", "--data-dir", dir, "logs", "create", "source")
		require.NoError(t, err)

		_, err = execute(t, "--transport", "pebble", "--data-dir", dir,
			"run", "--source", "source", "--sink", "missing", "--follow=false")
		assert.Error(t, err)
	})

	t.Run("missing_source", func(t *testing.T) {
		_, err := execute(t, "--transport", "pebble", "--data-dir", t.TempDir(), "run", "--sink", "sink")
		assert.Error(t, err)
	})

	t.Run("missing_config_file", func(t *testing.T) {
		_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.toml"), "resolve", "sink")
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	logger.Debug("hello", "n", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = newLogger(&buf, config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = newLogger(&buf, config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
