package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// PebbleOptions configures a Pebble-backed store.
type PebbleOptions struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string

	// Sync forces a WAL fsync on each append. Without it Pebble may lose the
	// most recent appends on power loss (but not on process crash).
	Sync bool

	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// pebbleLog holds the in-process state of a durable log
type pebbleLog struct {
	end      int64
	notifyCh chan struct{}
}

// PebbleEventLog implements Store on top of a Pebble database so that logs
// survive process restarts. Follow-mode readers are woken up by appends made
// through the same PebbleEventLog instance.
type PebbleEventLog struct {
	db         *pebble.DB
	writeOpts  *pebble.WriteOptions
	autoCreate bool

	mu     sync.RWMutex
	logs   map[string]*pebbleLog
	closed bool
}

// OpenPebbleEventLog opens (or creates) a Pebble-backed store in opts.DataDir.
func OpenPebbleEventLog(opts PebbleOptions, storeOpts ...Option) (*PebbleEventLog, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: DataDir is required")
	}

	var o options
	for _, opt := range storeOpts {
		opt(&o)
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}

	writeOpts := pebble.NoSync
	if opts.Sync {
		writeOpts = pebble.Sync
	}

	s := &PebbleEventLog{
		db:         db,
		writeOpts:  writeOpts,
		autoCreate: o.autoCreate,
		logs:       make(map[string]*pebbleLog),
	}

	if err := s.loadLogs(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// loadLogs restores the offset counters of every log from metadata keys
func (s *PebbleEventLog) loadLogs() error {
	lower, upper := metaBounds()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("failed to scan pebble store: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name, ok := parseLogMeta(iter.Key())
		if !ok {
			continue
		}
		end, ok := decodeBE8(iter.Value())
		if !ok {
			return fmt.Errorf("corrupt metadata for log %s", name)
		}
		s.logs[name] = &pebbleLog{end: end, notifyCh: make(chan struct{})}
	}

	return nil
}

// CreateLog creates an empty log
func (s *PebbleEventLog) CreateLog(ctx context.Context, name string) error {
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

	return s.createLocked(name)
}

func (s *PebbleEventLog) createLocked(name string) error {
	if err := s.db.Set(keyLogMeta(name), appendBE8(nil, 0), s.writeOpts); err != nil {
		return fmt.Errorf("failed to create log %s: %w", name, err)
	}
	s.logs[name] = &pebbleLog{notifyCh: make(chan struct{})}
	return nil
}

// lookupLocked returns the named log, creating it if create is set.
func (s *PebbleEventLog) lookupLocked(name string, create bool) (*pebbleLog, error) {
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
	if err := s.createLocked(name); err != nil {
		return nil, err
	}
	return s.logs[name], nil
}

// Append appends a record to a log and wakes up follow-mode readers.
func (s *PebbleEventLog) Append(ctx context.Context, log string, payload []byte) (int64, error) {
	return s.append(ctx, log, payload)
}

func (s *PebbleEventLog) append(ctx context.Context, log string, payload []byte) (int64, error) {
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

	offset := l.end

	// Entry and metadata are committed as a single atomic batch
	b := s.db.NewBatch()
	defer b.Close()

	if err := b.Set(keyLogEntry(log, offset), payload, nil); err != nil {
		return logclient.UnknownOffset, err
	}
	if err := b.Set(keyLogMeta(log), appendBE8(nil, uint64(offset+1)), nil); err != nil {
		return logclient.UnknownOffset, err
	}
	if err := b.Commit(s.writeOpts); err != nil {
		return logclient.UnknownOffset, fmt.Errorf("failed to commit append to %s: %w", log, err)
	}

	l.end = offset + 1

	// notify waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})

	return offset, nil
}

func (s *PebbleEventLog) recordAt(log string, offset int64) (logclient.Record, bool, error) {
	s.mu.RLock()
	l, err := s.lookupLocked(log, false)
	var end int64
	if err == nil {
		end = l.end
	}
	s.mu.RUnlock()

	if err != nil {
		return logclient.Record{}, false, err
	}
	if offset < 0 || offset >= end {
		return logclient.Record{}, false, nil
	}

	val, closer, err := s.db.Get(keyLogEntry(log, offset))
	if errors.Is(err, pebble.ErrNotFound) {
		return logclient.Record{}, false, fmt.Errorf("missing record %d in log %s", offset, log)
	}
	if err != nil {
		return logclient.Record{}, false, err
	}
	defer closer.Close()

	return logclient.NewRecord(offset, val), true, nil
}

func (s *PebbleEventLog) bounds(log string) (int64, int64, <-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, err := s.lookupLocked(log, false)
	if err != nil {
		return 0, 0, nil, err
	}
	return 0, l.end, l.notifyCh, nil
}

// Subscribe opens a read session on a log
func (s *PebbleEventLog) Subscribe(ctx context.Context, log string, opts logclient.ReadOptions) (logclient.Subscription, error) {
	return newSubscription(s, log, opts)
}

// ReadLast returns the most recent record of a log, nil if empty
func (s *PebbleEventLog) ReadLast(ctx context.Context, log string) (*logclient.Record, error) {
	return readLast(s, log)
}

// OpenWriter opens an append handle on a log
func (s *PebbleEventLog) OpenWriter(ctx context.Context, log string) (logclient.Writer, error) {
	s.mu.Lock()
	_, err := s.lookupLocked(log, s.autoCreate)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return &storeWriter{backend: s, log: log}, nil
}

// Describe returns information about a log
func (s *PebbleEventLog) Describe(ctx context.Context, log string) (logclient.LogInfo, error) {
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
func (s *PebbleEventLog) ListLogs(ctx context.Context) ([]logclient.LogInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, logclient.ErrClosed
	}

	infos := make([]logclient.LogInfo, 0, len(s.logs))
	for name, l := range s.logs {
		infos = append(infos, logclient.LogInfo{
			Name:        name,
			RecordCount: l.end,
			EndPosition: l.end,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Close wakes up follow-mode readers and closes the Pebble database.
func (s *PebbleEventLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	for _, l := range s.logs {
		close(l.notifyCh)
	}
	s.logs = make(map[string]*pebbleLog)
	s.closed = true

	return s.db.Close()
}

var _ Store = (*PebbleEventLog)(nil)
