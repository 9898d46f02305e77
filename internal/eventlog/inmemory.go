package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// memLog is the storage of a single in-memory log
type memLog struct {
	records  [][]byte
	notifyCh chan struct{}
}

// InMemoryEventLog implements Store using in-memory per-log storage.
// Each log has its own independent offset sequence starting from 0.
// It is safe for concurrent use.
type InMemoryEventLog struct {
	mu         sync.RWMutex
	logs       map[string]*memLog
	autoCreate bool
	closed     bool
}

// Option configures an embedded store
type Option func(*options)

type options struct {
	autoCreate bool
}

// WithAutoCreate makes appends and writers create missing logs instead of
// failing with logclient.ErrLogNotFound.
func WithAutoCreate() Option {
	return func(o *options) {
		o.autoCreate = true
	}
}

// NewInMemoryEventLog creates a new in-memory log store.
func NewInMemoryEventLog(opts ...Option) *InMemoryEventLog {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &InMemoryEventLog{
		logs:       make(map[string]*memLog),
		autoCreate: o.autoCreate,
	}
}

// CreateLog creates an empty log
func (s *InMemoryEventLog) CreateLog(ctx context.Context, name string) error {
	if err := ValidateLogName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return logclient.ErrClosed
	}
	if _, exists := s.logs[name]; exists {
		return ErrLogExists
	}

	s.logs[name] = &memLog{notifyCh: make(chan struct{})}
	return nil
}

// Append appends a record to a log and wakes up follow-mode readers.
func (s *InMemoryEventLog) Append(ctx context.Context, log string, payload []byte) (int64, error) {
	return s.append(ctx, log, payload)
}

func (s *InMemoryEventLog) append(ctx context.Context, log string, payload []byte) (int64, error) {
	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return logclient.UnknownOffset, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.lookupLocked(log, s.autoCreate)
	if err != nil {
		return logclient.UnknownOffset, err
	}

	// Copy payload to prevent external mutation
	stored := make([]byte, len(payload))
	copy(stored, payload)

	offset := int64(len(l.records))
	l.records = append(l.records, stored)

	// notify waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})

	return offset, nil
}

// lookupLocked returns the named log, creating it if create is set.
// Caller must hold s.mu (write lock when create is set).
func (s *InMemoryEventLog) lookupLocked(name string, create bool) (*memLog, error) {
	if s.closed {
		return nil, logclient.ErrClosed
	}

	l, exists := s.logs[name]
	if exists {
		return l, nil
	}
	if !create {
		return nil, logclient.ErrLogNotFound
	}
	if err := ValidateLogName(name); err != nil {
		return nil, err
	}

	l = &memLog{notifyCh: make(chan struct{})}
	s.logs[name] = l
	return l, nil
}

func (s *InMemoryEventLog) recordAt(log string, offset int64) (logclient.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, err := s.lookupLocked(log, false)
	if err != nil {
		return logclient.Record{}, false, err
	}
	if offset < 0 || offset >= int64(len(l.records)) {
		return logclient.Record{}, false, nil
	}

	return logclient.NewRecord(offset, l.records[offset]), true, nil
}

func (s *InMemoryEventLog) bounds(log string) (int64, int64, <-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, err := s.lookupLocked(log, false)
	if err != nil {
		return 0, 0, nil, err
	}

	return 0, int64(len(l.records)), l.notifyCh, nil
}

// Subscribe opens a read session on a log
func (s *InMemoryEventLog) Subscribe(ctx context.Context, log string, opts logclient.ReadOptions) (logclient.Subscription, error) {
	return newSubscription(s, log, opts)
}

// ReadLast returns the most recent record of a log, nil if empty
func (s *InMemoryEventLog) ReadLast(ctx context.Context, log string) (*logclient.Record, error) {
	return readLast(s, log)
}

// OpenWriter opens an append handle on a log
func (s *InMemoryEventLog) OpenWriter(ctx context.Context, log string) (logclient.Writer, error) {
	s.mu.Lock()
	_, err := s.lookupLocked(log, s.autoCreate)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return &storeWriter{backend: s, log: log}, nil
}

// Describe returns information about a log
func (s *InMemoryEventLog) Describe(ctx context.Context, log string) (logclient.LogInfo, error) {
	start, end, _, err := s.bounds(log)
	if err != nil {
		return logclient.LogInfo{}, err
	}

	return logclient.LogInfo{
		Name:          log,
		RecordCount:   end - start,
		StartPosition: start,
		EndPosition:   end,
	}, nil
}

// ListLogs returns information about all logs, sorted by name
func (s *InMemoryEventLog) ListLogs(ctx context.Context) ([]logclient.LogInfo, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, logclient.ErrClosed
	}
	infos := make([]logclient.LogInfo, 0, len(s.logs))
	for name, l := range s.logs {
		count := int64(len(l.records))
		infos = append(infos, logclient.LogInfo{
			Name:        name,
			RecordCount: count,
			EndPosition: count,
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Close closes the store, waking up any follow-mode readers.
// It is idempotent.
func (s *InMemoryEventLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil // Already closed, idempotent
	}

	for _, l := range s.logs {
		close(l.notifyCh)
	}
	s.logs = make(map[string]*memLog)
	s.closed = true

	return nil
}

// Verify that InMemoryEventLog implements the Store interface at compile time
var _ Store = (*InMemoryEventLog)(nil)
