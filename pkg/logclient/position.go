package logclient

import "fmt"

// LogInfo describes a log as reported by the server.
type LogInfo struct {
	Name          string `json:"name"`
	RecordCount   int64  `json:"record_count"`
	StartPosition int64  `json:"start_position"`
	EndPosition   int64  `json:"end_position"`
}

// ResolvePosition turns a (position, whence) pair into an absolute offset for a
// log whose available records are [start, end). current is treated like origin
// since a fresh read session has no position of its own yet.
func ResolvePosition(opts ReadOptions, start, end int64) (int64, error) {
	whence := opts.Whence
	if whence == "" {
		whence = SeekOrigin
	}

	var offset int64
	switch whence {
	case SeekOrigin, SeekCurrent:
		offset = opts.Position
	case SeekStart:
		offset = start + opts.Position
	case SeekEnd:
		offset = end + opts.Position
	default:
		return 0, fmt.Errorf("%w %q", ErrInvalidWhence, opts.Whence)
	}

	if offset < 0 {
		return 0, ErrNegativeOffset
	}

	return offset, nil
}
