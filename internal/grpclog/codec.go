package grpclog

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// Messages of logrelay.v1.LogService. They are encoded in protobuf wire
// format by hand so the service needs no generated code:
//
//	message ReadRequest    { string log = 1; int64 position = 2; string whence = 3; bool follow = 4; }
//	message Record         { int64 offset = 1; bytes payload = 2; }
//	message LogRequest     { string log = 1; }
//	message LastResponse   { bool found = 1; Record record = 2; }
//	message AppendRequest  { string log = 1; bytes payload = 2; }
//	message AppendResponse { int64 offset = 1; }
//	message LogInfo        { string name = 1; int64 record_count = 2; int64 start_position = 3; int64 end_position = 4; }
type message interface {
	marshal(b []byte) []byte
	unmarshal(b []byte) error
}

var errMalformed = errors.New("malformed message")

// codec implements encoding.Codec over message
type codec struct{}

func (codec) Name() string { return "protowire" }

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
	return m.marshal(nil), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

type readRequest struct {
	Log      string
	Position int64
	Whence   string
	Follow   bool
}

func (m *readRequest) marshal(b []byte) []byte {
	b = appendString(b, 1, m.Log)
	b = appendInt64(b, 2, m.Position)
	b = appendString(b, 3, m.Whence)
	b = appendBool(b, 4, m.Follow)
	return b
}

func (m *readRequest) unmarshal(b []byte) error {
	*m = readRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			m.Log = s
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.Position = int64(x)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			m.Whence = s
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.Follow = protowire.DecodeBool(x)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

func (m *readRequest) options() logclient.ReadOptions {
	whence := logclient.Whence(m.Whence)
	if whence == "" {
		whence = logclient.SeekOrigin
	}
	return logclient.ReadOptions{Position: m.Position, Whence: whence, Follow: m.Follow}
}

type record struct {
	Offset  int64
	Payload []byte
}

func (m *record) marshal(b []byte) []byte {
	b = appendInt64(b, 1, m.Offset)
	b = appendBytes(b, 2, m.Payload)
	return b
}

func (m *record) unmarshal(b []byte) error {
	*m = record{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.Offset = int64(x)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			p, n := protowire.ConsumeBytes(v)
			if n >= 0 {
				m.Payload = append([]byte(nil), p...)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

type logRequest struct {
	Log string
}

func (m *logRequest) marshal(b []byte) []byte {
	return appendString(b, 1, m.Log)
}

func (m *logRequest) unmarshal(b []byte) error {
	*m = logRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(v)
			m.Log = s
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

type lastResponse struct {
	Found  bool
	Record record
}

func (m *lastResponse) marshal(b []byte) []byte {
	b = appendBool(b, 1, m.Found)
	if m.Found {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Record.marshal(nil))
	}
	return b
}

func (m *lastResponse) unmarshal(b []byte) error {
	*m = lastResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.Found = protowire.DecodeBool(x)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			p, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			return n, m.Record.unmarshal(p)
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

type appendRequest struct {
	Log     string
	Payload []byte
}

func (m *appendRequest) marshal(b []byte) []byte {
	b = appendString(b, 1, m.Log)
	b = appendBytes(b, 2, m.Payload)
	return b
}

func (m *appendRequest) unmarshal(b []byte) error {
	*m = appendRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			m.Log = s
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			p, n := protowire.ConsumeBytes(v)
			if n >= 0 {
				m.Payload = append([]byte(nil), p...)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

type appendResponse struct {
	Offset int64
}

func (m *appendResponse) marshal(b []byte) []byte {
	return appendInt64(b, 1, m.Offset)
}

func (m *appendResponse) unmarshal(b []byte) error {
	*m = appendResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			x, n := protowire.ConsumeVarint(v)
			m.Offset = int64(x)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

type logInfo logclient.LogInfo

func (m *logInfo) marshal(b []byte) []byte {
	b = appendString(b, 1, m.Name)
	b = appendInt64(b, 2, m.RecordCount)
	b = appendInt64(b, 3, m.StartPosition)
	b = appendInt64(b, 4, m.EndPosition)
	return b
}

func (m *logInfo) unmarshal(b []byte) error {
	*m = logInfo{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ == protowire.VarintType && num >= 2 && num <= 4 {
			x, n := protowire.ConsumeVarint(v)
			switch num {
			case 2:
				m.RecordCount = int64(x)
			case 3:
				m.StartPosition = int64(x)
			case 4:
				m.EndPosition = int64(x)
			}
			return n, nil
		}
		if num == 1 && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(v)
			m.Name = s
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
}

// consumeFields walks the fields of b, handing each value to fn which returns
// the number of bytes it consumed (negative on a parse error).
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", errMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, p []byte) []byte {
	if len(p) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}

func appendInt64(b []byte, num protowire.Number, x int64) []byte {
	if x == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(x))
}

func appendBool(b []byte, num protowire.Number, x bool) []byte {
	if !x {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(x))
}
