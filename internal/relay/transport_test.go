package relay

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
	"github.com/rmacdonaldsmith/logrelay/internal/grpclog"
	"github.com/rmacdonaldsmith/logrelay/internal/httpapi"
	"github.com/rmacdonaldsmith/logrelay/pkg/httpclient"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// transports returns a fresh (store, transport) pair per kind of session
var transports = []struct {
	name string
	open func(t *testing.T, store eventlog.Store) logclient.Transport
}{
	{
		name: "embedded",
		open: func(t *testing.T, store eventlog.Store) logclient.Transport {
			return store
		},
	},
	{
		name: "http",
		open: func(t *testing.T, store eventlog.Store) logclient.Transport {
			ts := httptest.NewServer(httpapi.NewServer(store, httpapi.Config{}, nil).Handler())
			t.Cleanup(ts.Close)

			client, err := httpclient.NewClient(httpclient.Config{ServerURL: ts.URL, RetryDelay: time.Millisecond})
			require.NoError(t, err)
			return client
		},
	},
	{
		name: "grpc",
		open: func(t *testing.T, store eventlog.Store) logclient.Transport {
			lis := bufconn.Listen(1024 * 1024)
			server, err := grpclog.NewServer(&grpclog.ServerConfig{ListenAddress: "bufnet"}, store, nil)
			require.NoError(t, err)
			go func() { _ = server.Serve(lis) }()
			t.Cleanup(server.Stop)

			client, err := grpclog.Dial(&grpclog.ClientConfig{
				Target: "passthrough:///bufnet",
				DialOptions: []grpc.DialOption{
					grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
						return lis.DialContext(ctx)
					}),
				},
			})
			require.NoError(t, err)
			return client
		},
	},
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLoop_Transports(t *testing.T) {
	for _, tt := range transports {
		t.Run(tt.name, func(t *testing.T) {
			t.Run("run_and_restart", func(t *testing.T) {
				store := newStore(t, sourceLog, sinkLog)
				appendAll(t, store, sourceLog, scenarioEvents...)

				runOnce := func() Stats {
					client := logclient.NewClient(tt.open(t, store))
					loop, err := NewLoop(Config{SourceLog: sourceLog, SinkLog: sinkLog}, client, matchesProcessor())
					require.NoError(t, err)
					defer loop.Close()

					stats, err := loop.Run(testContext(t))
					require.NoError(t, err)
					assert.Equal(t, Terminated, loop.State())
					return stats
				}

				stats := runOnce()
				assert.Equal(t, int64(0), stats.StartOffset)
				assert.Equal(t, int64(5), stats.CurrentOffset)
				assert.Equal(t, int64(1), stats.Emitted)

				last, err := store.ReadLast(context.Background(), sinkLog)
				require.NoError(t, err)
				require.NotNil(t, last)
				assert.JSONEq(t,
					`{"position":2,"time":"2021-01-01T00:00:00.200Z","price":"29000.01"}`,
					string(last.Payload))

				stats = runOnce()
				assert.Equal(t, int64(3), stats.StartOffset)
				assert.Equal(t, int64(0), stats.Emitted)

				info, err := store.Describe(context.Background(), sinkLog)
				require.NoError(t, err)
				assert.Equal(t, int64(1), info.RecordCount)
			})

			t.Run("follow_until_cancelled", func(t *testing.T) {
				store := newStore(t, sourceLog, sinkLog)
				appendAll(t, store, sourceLog, scenarioEvents...)

				client := logclient.NewClient(tt.open(t, store))
				loop, err := NewLoop(Config{SourceLog: sourceLog, SinkLog: sinkLog, Follow: true}, client, matchesProcessor())
				require.NoError(t, err)
				defer loop.Close()

				ctx, cancel := context.WithCancel(testContext(t))
				done := make(chan error, 1)
				go func() {
					_, err := loop.Run(ctx)
					done <- err
				}()

				require.Eventually(t, func() bool {
					return loop.Stats().CurrentOffset == 5
				}, 5*time.Second, 10*time.Millisecond)

				appendAll(t, store, sourceLog, `{"type":"match","time":"t6","price":"1"}`)

				require.Eventually(t, func() bool {
					info, err := store.Describe(context.Background(), sinkLog)
					return err == nil && info.RecordCount == 2
				}, 5*time.Second, 10*time.Millisecond)

				cancel()
				select {
				case err := <-done:
					assert.NoError(t, err)
				case <-time.After(5 * time.Second):
					t.Fatal("relay did not stop after cancellation")
				}
				assert.Equal(t, Terminated, loop.State())

				last, err := store.ReadLast(context.Background(), sinkLog)
				require.NoError(t, err)
				assert.JSONEq(t, `{"position":5,"time":"t6","price":"1"}`, string(last.Payload))
			})
		})
	}
}
