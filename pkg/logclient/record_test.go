package logclient

import (
	"testing"
)

func TestNewRecord(t *testing.T) {
	payload := []byte(`{"type":"match"}`)

	record := NewRecord(7, payload)

	if record.Offset != 7 {
		t.Errorf("Expected offset 7, got %d", record.Offset)
	}

	if string(record.Payload) != string(payload) {
		t.Errorf("Expected payload %s, got %s", payload, record.Payload)
	}

	if !record.HasOffset() {
		t.Error("Expected record to have an offset")
	}
}

func TestNewRecord_CopiesPayload(t *testing.T) {
	payload := []byte("original")

	record := NewRecord(0, payload)

	// Mutate caller buffer
	payload[0] = 'X'

	if string(record.Payload) != "original" {
		t.Errorf("Payload should be copied, got %s", record.Payload)
	}
}

func TestRecord_UnknownOffset(t *testing.T) {
	record := NewRecord(UnknownOffset, []byte("x"))

	if record.HasOffset() {
		t.Error("Expected record without offset")
	}
}

func TestWhence_Valid(t *testing.T) {
	for _, w := range []Whence{SeekOrigin, SeekStart, SeekCurrent, SeekEnd} {
		if !w.Valid() {
			t.Errorf("Expected %q to be valid", w)
		}
	}

	if Whence("middle").Valid() {
		t.Error("Expected unknown whence to be invalid")
	}
}
