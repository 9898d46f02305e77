package eventlog

import (
	"bytes"
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - meta/{name}                 next offset (be8)
// - log/{name}/{offset_be8}     record payload
//
// Log names are validated by ValidateLogName and never contain '/'.

var (
	sep        = byte('/')
	metaPrefix = []byte("meta/")
	logPrefix  = []byte("log/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyLogMeta builds the metadata key of a log.
func keyLogMeta(name string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(name))
	k = append(k, metaPrefix...)
	k = append(k, name...)
	return k
}

// keyLogEntry builds the entry key with a big-endian offset for proper ordering.
func keyLogEntry(name string, offset int64) []byte {
	k := make([]byte, 0, len(logPrefix)+len(name)+9)
	k = append(k, logPrefix...)
	k = append(k, name...)
	k = append(k, sep)
	k = appendBE8(k, uint64(offset))
	return k
}

// metaBounds returns the iterator bounds covering every metadata key.
func metaBounds() (lower, upper []byte) {
	lower = append([]byte(nil), metaPrefix...)
	upper = append([]byte(nil), metaPrefix...)
	upper[len(upper)-1]++
	return lower, upper
}

// parseLogMeta extracts the log name from a metadata key, false if key is not one.
func parseLogMeta(key []byte) (string, bool) {
	if !bytes.HasPrefix(key, metaPrefix) {
		return "", false
	}

	name := string(key[len(metaPrefix):])
	if ValidateLogName(name) != nil {
		return "", false
	}
	return name, true
}

func decodeBE8(b []byte) (int64, bool) {
	if len(b) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(b[:8])), true
}
