package logclient

// UnknownOffset is reported when a transport cannot tell which offset a record has.
const UnknownOffset int64 = -1

// Record is a single entry of a log: an opaque payload and the offset the
// log server assigned to it on append.
type Record struct {
	// Offset is the unique, sequential position of this record in its log
	Offset int64

	// Payload is the raw record data, conceptually a JSON object
	Payload []byte
}

// NewRecord creates a Record at the given offset.
// The payload is copied so the caller may reuse its buffer.
func NewRecord(offset int64, payload []byte) Record {
	var payloadCopy []byte
	if payload != nil {
		payloadCopy = make([]byte, len(payload))
		copy(payloadCopy, payload)
	}

	return Record{
		Offset:  offset,
		Payload: payloadCopy,
	}
}

// HasOffset reports whether the transport reported an offset for this record.
func (r Record) HasOffset() bool {
	return r.Offset >= 0
}
