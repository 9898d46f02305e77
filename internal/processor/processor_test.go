package processor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

func record(payload string) logclient.Record {
	return logclient.NewRecord(0, []byte(payload))
}

func decode(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	return out
}

// matchesPipeline is the reference relay: keep matches, keep time and price
func matchesPipeline() *Pipeline {
	return NewPipeline(
		WithFilter(FieldEquals("type", "match")),
		WithMapper(Select("time", "price")),
	)
}

func TestPipeline_Process(t *testing.T) {
	t.Run("match_is_emitted_with_position", func(t *testing.T) {
		res := matchesPipeline().Process(record(`{"type":"match","time":"2021-01-01T00:00:00Z","price":"29000.01","size":"0.1"}`), 42)

		require.Equal(t, Emitted, res.Outcome)
		assert.False(t, res.Skipped())
		assert.JSONEq(t, `{"time":"2021-01-01T00:00:00Z","price":"29000.01","position":42}`, string(res.Payload))
	})

	t.Run("non_match_is_filtered", func(t *testing.T) {
		res := matchesPipeline().Process(record(`{"type":"received","time":"t","price":"1"}`), 3)

		assert.Equal(t, SkippedFilter, res.Outcome)
		assert.True(t, res.Skipped())
		assert.Nil(t, res.Payload)
		assert.NoError(t, res.Err)
	})

	t.Run("invalid_json_is_a_decode_skip", func(t *testing.T) {
		res := matchesPipeline().Process(record(`{"type":`), 3)

		assert.Equal(t, SkippedDecode, res.Outcome)
		assert.Error(t, res.Err)
	})

	t.Run("non_object_is_a_decode_skip", func(t *testing.T) {
		for _, payload := range []string{`[1,2]`, `"match"`, `null`, ``} {
			res := matchesPipeline().Process(record(payload), 3)
			assert.Equal(t, SkippedDecode, res.Outcome, "payload %q", payload)
		}
	})

	t.Run("missing_mapped_field_is_a_transform_skip", func(t *testing.T) {
		res := matchesPipeline().Process(record(`{"type":"match","time":"t"}`), 3)

		assert.Equal(t, SkippedTransform, res.Outcome)
		assert.Contains(t, res.Err.Error(), "price")
	})

	t.Run("position_overrides_source_field", func(t *testing.T) {
		res := NewPipeline().Process(record(`{"position":"spoofed","v":1}`), 7)

		require.Equal(t, Emitted, res.Outcome)
		out := decode(t, res.Payload)
		assert.Equal(t, float64(7), out["position"])
		assert.Equal(t, float64(1), out["v"])
	})

	t.Run("large_numbers_are_preserved", func(t *testing.T) {
		res := NewPipeline().Process(record(`{"trade_id":9007199254740993}`), 0)

		require.Equal(t, Emitted, res.Outcome)
		assert.JSONEq(t, `{"trade_id":9007199254740993,"position":0}`, string(res.Payload))
		assert.Contains(t, string(res.Payload), "9007199254740993")
	})

	t.Run("custom_position_field", func(t *testing.T) {
		pl := NewPipeline(WithPositionField("src_offset"))
		res := pl.Process(record(`{"a":1}`), 5)

		require.Equal(t, Emitted, res.Outcome)
		assert.JSONEq(t, `{"a":1,"src_offset":5}`, string(res.Payload))
	})

	t.Run("is_deterministic", func(t *testing.T) {
		pl := matchesPipeline()
		in := record(`{"type":"match","time":"t","price":"1"}`)

		first := pl.Process(in, 9)
		second := pl.Process(in, 9)
		assert.Equal(t, first.Payload, second.Payload)
	})
}

func TestFieldEquals(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   string
		payload string
		want    bool
	}{
		{"string_match", "type", "match", `{"type":"match"}`, true},
		{"string_mismatch", "type", "match", `{"type":"open"}`, false},
		{"missing_field", "type", "match", `{"kind":"match"}`, false},
		{"number", "side", "1", `{"side":1}`, true},
		{"boolean", "ok", "true", `{"ok":true}`, true},
		{"nested", "meta.kind", "match", `{"meta":{"kind":"match"}}`, true},
		{"nested_not_object", "meta.kind", "match", `{"meta":"match"}`, false},
		{"object_value", "type", "match", `{"type":{"x":1}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := decodeObject([]byte(tt.payload))
			require.NoError(t, err)

			got, err := FieldEquals(tt.field, tt.value).Match(Event{Fields: fields})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCEL(t *testing.T) {
	t.Run("filters_on_payload", func(t *testing.T) {
		pred, err := CEL(`json.type == "match"`)
		require.NoError(t, err)

		pl := NewPipeline(WithFilter(pred))

		assert.Equal(t, Emitted, pl.Process(record(`{"type":"match"}`), 1).Outcome)
		assert.Equal(t, SkippedFilter, pl.Process(record(`{"type":"done"}`), 2).Outcome)
	})

	t.Run("missing_key_is_a_filter_skip", func(t *testing.T) {
		pred, err := CEL(`json.type == "match"`)
		require.NoError(t, err)

		res := NewPipeline(WithFilter(pred)).Process(record(`{"other":1}`), 2)
		assert.Equal(t, SkippedFilter, res.Outcome)
		assert.Error(t, res.Err)
	})

	t.Run("offset_and_size_variables", func(t *testing.T) {
		pred, err := CEL(`offset % 2 == 0 && size < 100`)
		require.NoError(t, err)

		pl := NewPipeline(WithFilter(pred))
		assert.Equal(t, Emitted, pl.Process(record(`{}`), 4).Outcome)
		assert.Equal(t, SkippedFilter, pl.Process(record(`{}`), 5).Outcome)
	})

	t.Run("numeric_comparison", func(t *testing.T) {
		pred, err := CEL(`has(json.price) && double(json.price) > 10.0`)
		require.NoError(t, err)

		pl := NewPipeline(WithFilter(pred))
		assert.Equal(t, Emitted, pl.Process(record(`{"price":12.5}`), 0).Outcome)
		assert.Equal(t, SkippedFilter, pl.Process(record(`{"price":2}`), 1).Outcome)
		assert.Equal(t, SkippedFilter, pl.Process(record(`{"size":2}`), 2).Outcome)
	})

	t.Run("blank_expression_matches_all", func(t *testing.T) {
		pred, err := CEL("   ")
		require.NoError(t, err)

		ok, err := pred.Match(Event{Raw: []byte(`{}`)})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid_expression", func(t *testing.T) {
		_, err := CEL(`json.type ==`)
		assert.Error(t, err)

		_, err = CEL(`unknown_var == 1`)
		assert.Error(t, err)
	})

	t.Run("non_boolean_result", func(t *testing.T) {
		pred, err := CEL(`offset + 1`)
		require.NoError(t, err)

		_, err = pred.Match(Event{Raw: []byte(`{}`)})
		assert.Error(t, err)
	})
}

func TestProcessorFunc(t *testing.T) {
	var p Processor = ProcessorFunc(func(r logclient.Record, offset int64) Result {
		return Result{Payload: r.Payload, Outcome: Emitted}
	})

	res := p.Process(record(`raw`), 0)
	assert.Equal(t, "raw", string(res.Payload))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "emitted", Emitted.String())
	assert.Equal(t, "decode", SkippedDecode.String())
	assert.Equal(t, "filter", SkippedFilter.String())
	assert.Equal(t, "transform", SkippedTransform.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

func TestStampPosition(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
		want    string
		wantErr bool
	}{
		{"adds_field", `{"price":"1"}`, "position", `{"price":"1","position":4}`, false},
		{"replaces_field", `{"position":99}`, "position", `{"position":4}`, false},
		{"custom_field", `{"position":2}`, "pos", `{"position":2,"pos":4}`, false},
		{"keeps_large_numbers", `{"n":12345678901234567890}`, "position", `{"n":12345678901234567890,"position":4}`, false},
		{"array", `[1]`, "position", "", true},
		{"null", `null`, "position", "", true},
		{"not_json", `nope`, "position", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StampPosition([]byte(tt.payload), tt.field, 4)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}
