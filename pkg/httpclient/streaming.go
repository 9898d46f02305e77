package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// Subscribe opens a WebSocket read stream on log. The server sends one binary
// message per record and no offsets; since reads are gapless, the subscription
// numbers records from the resolved start position.
func (c *Client) Subscribe(ctx context.Context, log string, opts logclient.ReadOptions) (logclient.Subscription, error) {
	whence := opts.Whence
	if whence == "" {
		whence = logclient.SeekOrigin
	}

	start, err := c.startOffset(ctx, log, opts.Position, whence)
	if err != nil {
		return nil, err
	}

	// Seek by absolute offset so the numbering above matches what the server sends
	query, err := c.query(readParams{Whence: string(logclient.SeekOrigin), Position: start, Follow: opts.Follow})
	if err != nil {
		return nil, err
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: recordsPath(log)})
	u.RawQuery = query.Encode()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if err := c.authorize(header); err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			body, _ := io.ReadAll(resp.Body)
			return nil, decodeError(resp.StatusCode, body)
		}
		return nil, fmt.Errorf("failed to open stream on %s: %w", log, err)
	}

	sub := &subscription{
		conn:    conn,
		next:    start,
		records: make(chan logclient.Record, c.config.BufferSize),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go sub.receive()

	return sub, nil
}

// startOffset resolves (position, whence) to an absolute offset
func (c *Client) startOffset(ctx context.Context, log string, position int64, whence logclient.Whence) (int64, error) {
	if !whence.Valid() {
		return 0, fmt.Errorf("%w %q", logclient.ErrInvalidWhence, whence)
	}

	info, err := c.GetLog(ctx, log)
	if err != nil {
		return 0, err
	}

	return logclient.ResolvePosition(logclient.ReadOptions{Position: position, Whence: whence}, info.StartPosition, info.EndPosition)
}

// subscription reads WebSocket messages in a goroutine feeding a channel so
// that Next can honour the caller's context.
type subscription struct {
	conn    *websocket.Conn
	next    int64
	records chan logclient.Record
	done    chan struct{}
	err     error

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *subscription) receive() {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.err = io.EOF
			} else {
				s.err = fmt.Errorf("stream failed at offset %d: %w", s.next, err)
			}
			return
		}

		rec := logclient.Record{Offset: s.next, Payload: data}
		s.next++

		select {
		case s.records <- rec:
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
		select {
		case rec := <-s.records:
			return rec, nil
		default:
		}
		select {
		case <-s.closed:
			return logclient.Record{}, logclient.ErrClosed
		default:
			return logclient.Record{}, s.err
		}
	case <-s.closed:
		return logclient.Record{}, logclient.ErrClosed
	case <-ctx.Done():
		return logclient.Record{}, ctx.Err()
	}
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
