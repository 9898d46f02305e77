package eventlog

import (
	"bytes"
	"testing"
)

func TestKeyLogEntry_Ordering(t *testing.T) {
	k1 := keyLogEntry("source", 1)
	k2 := keyLogEntry("source", 256)

	if bytes.Compare(k1, k2) >= 0 {
		t.Error("Expected entry keys to sort by offset")
	}
}

func TestParseLogMeta(t *testing.T) {
	name, ok := parseLogMeta(keyLogMeta("matches"))
	if !ok || name != "matches" {
		t.Errorf("Expected matches, got %q (ok=%v)", name, ok)
	}

	if _, ok := parseLogMeta(keyLogEntry("matches", 3)); ok {
		t.Error("Entry key must not parse as metadata")
	}
}

func TestMetaBounds(t *testing.T) {
	lower, upper := metaBounds()
	key := keyLogMeta("zzz")

	if bytes.Compare(key, lower) < 0 || bytes.Compare(key, upper) >= 0 {
		t.Error("Metadata key outside of metadata bounds")
	}
	if entry := keyLogEntry("a", 0); bytes.Compare(entry, lower) >= 0 && bytes.Compare(entry, upper) < 0 {
		t.Error("Entry key inside metadata bounds")
	}
}
