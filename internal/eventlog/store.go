package eventlog

import (
	"context"
	"errors"
	"regexp"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

var (
	// ErrLogExists is returned when creating a log that already exists
	ErrLogExists = errors.New("log already exists")
	// ErrInvalidLogName is returned when a log name contains unsupported characters
	ErrInvalidLogName = errors.New("log name invalid")
)

var validLogName = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,128}$`)

// ValidateLogName checks that name can be used as a log name
func ValidateLogName(name string) error {
	if !validLogName.MatchString(name) {
		return ErrInvalidLogName
	}
	return nil
}

// Store is a log store that can be used directly as an embedded transport and
// served to remote clients by the HTTP and gRPC servers.
type Store interface {
	logclient.Transport

	// CreateLog creates an empty log
	CreateLog(ctx context.Context, name string) error

	// Append appends a single record and returns its assigned offset.
	Append(ctx context.Context, log string, payload []byte) (int64, error)

	// Describe returns information about a log
	Describe(ctx context.Context, log string) (logclient.LogInfo, error)

	// ListLogs returns information about all logs, sorted by name
	ListLogs(ctx context.Context) ([]logclient.LogInfo, error)
}

// backend is the minimal surface the shared subscription and writer need.
type backend interface {
	// recordAt returns the record at offset, false when offset is at or past the end
	recordAt(log string, offset int64) (logclient.Record, bool, error)

	// bounds returns [start, end) of a log and a channel closed on the next append
	bounds(log string) (start, end int64, notify <-chan struct{}, err error)

	// append stores payload and returns its offset
	append(ctx context.Context, log string, payload []byte) (int64, error)
}

// storeWriter is the Writer handed out by embedded stores.
type storeWriter struct {
	backend backend
	log     string
	closed  bool
}

func (w *storeWriter) Append(ctx context.Context, payload []byte) (int64, error) {
	if w.closed {
		return logclient.UnknownOffset, logclient.ErrClosed
	}
	if len(payload) == 0 {
		return logclient.UnknownOffset, logclient.ErrEmptyPayload
	}
	return w.backend.append(ctx, w.log, payload)
}

func (w *storeWriter) Close() error {
	w.closed = true
	return nil
}

// readLast implements Transport.ReadLast over a backend
func readLast(b backend, log string) (*logclient.Record, error) {
	start, end, _, err := b.bounds(log)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, nil
	}

	record, ok, err := b.recordAt(log, end-1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &record, nil
}
