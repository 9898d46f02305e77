package eventlog

import (
	"context"
	"io"
	"sync"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// subscription reads a log from an offset. A non-follow subscription ends at
// the end of the log as it was when the subscription was opened; a follow
// subscription waits on the backend's notify channel for new appends.
type subscription struct {
	backend backend
	log     string
	next    int64
	end     int64
	follow  bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newSubscription(b backend, log string, opts logclient.ReadOptions) (*subscription, error) {
	start, end, _, err := b.bounds(log)
	if err != nil {
		return nil, err
	}

	offset, err := logclient.ResolvePosition(opts, start, end)
	if err != nil {
		return nil, err
	}

	return &subscription{
		backend: b,
		log:     log,
		next:    offset,
		end:     end,
		follow:  opts.Follow,
		closed:  make(chan struct{}),
	}, nil
}

// Next returns the next record, suspending in follow mode until one is appended
func (s *subscription) Next(ctx context.Context) (logclient.Record, error) {
	for {
		select {
		case <-s.closed:
			return logclient.Record{}, logclient.ErrClosed
		default:
		}

		if !s.follow && s.next >= s.end {
			return logclient.Record{}, io.EOF
		}

		// Grab the notify channel before reading so an append racing with
		// the read below still wakes us up.
		_, _, notify, err := s.backend.bounds(s.log)
		if err != nil {
			return logclient.Record{}, err
		}

		record, ok, err := s.backend.recordAt(s.log, s.next)
		if err != nil {
			return logclient.Record{}, err
		}
		if ok {
			s.next++
			return record, nil
		}

		if !s.follow {
			return logclient.Record{}, io.EOF
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return logclient.Record{}, ctx.Err()
		case <-s.closed:
			return logclient.Record{}, logclient.ErrClosed
		}
	}
}

// Close releases the subscription and unblocks a pending Next
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}
