package directout

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Inbound message types.
const (
	MessageUpdate  = "update"
	MessageAck     = "ack"
	MessageGetResp = "get_resp"
	MessageError   = "error"
)

// errEmptyLine marks a blank line, which is skipped without a diagnostic.
var errEmptyLine = errors.New("directout: empty line")

// Inbound is one decoded device message. Payload and Obj reference the
// raw line, which must outlive them.
type Inbound struct {
	Type    string
	Payload gjson.Result
	Obj     gjson.Result
	Raw     []byte
}

// ParseInbound classifies a raw line.
//
// Returns:
//   - errEmptyLine for a blank line
//   - ErrInvalidMessage when the line is not a JSON object or has no
//     string "type" field
func ParseInbound(line []byte) (Inbound, error) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return Inbound{}, errEmptyLine
	}
	if line[0] != '{' {
		return Inbound{}, fmt.Errorf("%w: invalid response format", ErrInvalidMessage)
	}
	if !gjson.ValidBytes(line) {
		return Inbound{}, fmt.Errorf("%w: failed to parse response JSON", ErrInvalidMessage)
	}
	res := gjson.ParseBytes(line)
	typ := res.Get("type")
	if typ.Type != gjson.String {
		return Inbound{}, fmt.Errorf("%w: response object missing type", ErrInvalidMessage)
	}
	return Inbound{
		Type:    typ.Str,
		Payload: res.Get("payload"),
		Obj:     res.Get("obj"),
		Raw:     line,
	}, nil
}

// IsRootSnapshot reports whether a get_resp carries the whole tree: the
// payload is an object and obj is absent or empty.
func (m Inbound) IsRootSnapshot() bool {
	if m.Type != MessageGetResp || !m.Payload.IsObject() {
		return false
	}
	switch {
	case !m.Obj.Exists(), m.Obj.Type == gjson.Null:
		return true
	case m.Obj.Type == gjson.String:
		return m.Obj.Str == "" || m.Obj.Str == "/"
	case m.Obj.IsArray():
		return len(m.Obj.Array()) == 0
	default:
		return false
	}
}
