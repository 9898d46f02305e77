package grpclog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// Client is a logclient.Transport talking to a gRPC log server
type Client struct {
	config *ClientConfig
	conn   *grpc.ClientConn
}

// Dial creates a transport session for the configured target. The
// connection is established lazily on the first call.
func Dial(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	configCopy := *config
	configCopy.SetDefaults()

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(codec{}),
			grpc.MaxCallRecvMsgSize(configCopy.MaxMessageSize),
			grpc.MaxCallSendMsgSize(configCopy.MaxMessageSize),
		),
	}
	opts = append(opts, configCopy.DialOptions...)

	conn, err := grpc.NewClient(configCopy.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", configCopy.Target, err)
	}

	return &Client{config: &configCopy, conn: conn}, nil
}

// Describe returns information about a log
func (c *Client) Describe(ctx context.Context, log string) (logclient.LogInfo, error) {
	var resp logInfo
	if err := c.conn.Invoke(ctx, describeMethod, &logRequest{Log: log}, &resp); err != nil {
		return logclient.LogInfo{}, fromStatus(err)
	}
	return logclient.LogInfo(resp), nil
}

// Subscribe opens a Read stream. The log is described first so that an
// unknown log fails here rather than on the first Next.
func (c *Client) Subscribe(ctx context.Context, log string, opts logclient.ReadOptions) (logclient.Subscription, error) {
	if _, err := c.Describe(ctx, log); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(streamCtx, &serviceDesc.Streams[0], readMethod)
	if err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	req := &readRequest{
		Log:      log,
		Position: opts.Position,
		Whence:   string(opts.Whence),
		Follow:   opts.Follow,
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	sub := &subscription{
		cancel:  cancel,
		records: make(chan logclient.Record, c.config.BufferSize),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go sub.receive(stream)

	return sub, nil
}

// ReadLast returns the last record of log, nil for an empty log
func (c *Client) ReadLast(ctx context.Context, log string) (*logclient.Record, error) {
	var resp lastResponse
	if err := c.conn.Invoke(ctx, readLastMethod, &logRequest{Log: log}, &resp); err != nil {
		return nil, fromStatus(err)
	}
	if !resp.Found {
		return nil, nil
	}
	rec := logclient.NewRecord(resp.Record.Offset, resp.Record.Payload)
	return &rec, nil
}

// OpenWriter checks that log exists and returns a Writer appending to it
func (c *Client) OpenWriter(ctx context.Context, log string) (logclient.Writer, error) {
	if _, err := c.Describe(ctx, log); err != nil {
		return nil, err
	}
	return &writer{client: c, log: log}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

type writer struct {
	client *Client
	log    string

	mu     sync.Mutex
	closed bool
}

func (w *writer) Append(ctx context.Context, payload []byte) (int64, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return logclient.UnknownOffset, logclient.ErrClosed
	}

	var resp appendResponse
	err := w.client.conn.Invoke(ctx, appendMethod, &appendRequest{Log: w.log, Payload: payload}, &resp)
	if err != nil {
		return logclient.UnknownOffset, fromStatus(err)
	}
	return resp.Offset, nil
}

func (w *writer) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

// subscription receives records in a goroutine so that Next can select on
// the caller's context.
type subscription struct {
	cancel  context.CancelFunc
	records chan logclient.Record
	done    chan struct{}
	err     error

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *subscription) receive(stream grpc.ClientStream) {
	defer close(s.done)

	for {
		var msg record
		if err := stream.RecvMsg(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				s.err = io.EOF
			} else {
				s.err = fromStatus(err)
			}
			return
		}

		select {
		case s.records <- logclient.Record{Offset: msg.Offset, Payload: msg.Payload}:
		case <-s.closed:
			return
		}
	}
}

func (s *subscription) Next(ctx context.Context) (logclient.Record, error) {
	select {
	case rec := <-s.records:
		return rec, nil
	default:
	}

	select {
	case rec := <-s.records:
		return rec, nil
	case <-s.done:
		// Drain records buffered before the stream ended
		select {
		case rec := <-s.records:
			return rec, nil
		default:
		}
		return logclient.Record{}, s.closedErr()
	case <-s.closed:
		return logclient.Record{}, logclient.ErrClosed
	case <-ctx.Done():
		return logclient.Record{}, ctx.Err()
	}
}

func (s *subscription) closedErr() error {
	select {
	case <-s.closed:
		return logclient.ErrClosed
	default:
		return s.err
	}
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
	return nil
}

// fromStatus maps gRPC status codes back onto logclient errors
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return logclient.ErrLogNotFound
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}

var _ logclient.Transport = (*Client)(nil)
