package directout

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Kind tags the runtime type of a leaf value.
type Kind uint8

// Leaf kinds.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

// String returns the kind name used in logs and API responses.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "null"
	}
}

// Scalar is a tagged leaf value of the state tree.
//
// Scalar is comparable, so it is used directly as a translation map key.
// A string "3" and the number 3 are distinct keys.
type Scalar struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// Null returns the null scalar.
func Null() Scalar { return Scalar{} }

// StringValue returns a string scalar.
func StringValue(s string) Scalar { return Scalar{kind: KindString, str: s} }

// NumberValue returns a numeric scalar.
func NumberValue(n float64) Scalar { return Scalar{kind: KindNumber, num: n} }

// IntValue returns a numeric scalar from an int.
func IntValue(n int) Scalar { return Scalar{kind: KindNumber, num: float64(n)} }

// BoolValue returns a boolean scalar.
func BoolValue(b bool) Scalar { return Scalar{kind: KindBool, b: b} }

// Kind reports the tag of the scalar.
func (v Scalar) Kind() Kind { return v.kind }

// IsNull reports whether the scalar is null.
func (v Scalar) IsNull() bool { return v.kind == KindNull }

// IsPrimitive reports whether the scalar may be sent to the device.
func (v Scalar) IsPrimitive() bool { return v.kind != KindNull }

// Str returns the string payload.
func (v Scalar) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric payload.
func (v Scalar) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Bool returns the boolean payload.
func (v Scalar) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Int returns the numeric payload truncated to an int.
func (v Scalar) Int() (int, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return int(v.num), true
}

// String formats the scalar the way it is shown to users.
func (v Scalar) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "null"
	}
}

// Interface returns the scalar as a plain Go value for encoders.
func (v Scalar) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// MarshalJSON encodes the scalar as its JSON primitive.
func (v Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON primitive. Objects and arrays are rejected.
func (v *Scalar) UnmarshalJSON(data []byte) error {
	s, err := ParseScalar(string(data))
	if err != nil {
		return err
	}
	*v = s
	return nil
}

// ParseScalar decodes a JSON primitive literal.
func ParseScalar(raw string) (Scalar, error) {
	if !gjson.Valid(raw) {
		return Null(), fmt.Errorf("%w: %q is not valid JSON", ErrNotPrimitive, raw)
	}
	r := gjson.Parse(raw)
	if r.IsObject() || r.IsArray() {
		return Null(), fmt.Errorf("%w: %q", ErrNotPrimitive, raw)
	}
	return scalarFromResult(r), nil
}

// ScalarFrom converts a decoded JSON value (as produced by encoding/json)
// or a Go primitive into a Scalar.
func ScalarFrom(x any) (Scalar, bool) {
	switch t := x.(type) {
	case nil:
		return Null(), true
	case Scalar:
		return t, true
	case string:
		return StringValue(t), true
	case bool:
		return BoolValue(t), true
	case float64:
		return NumberValue(t), true
	case float32:
		return NumberValue(float64(t)), true
	case int:
		return IntValue(t), true
	case int64:
		return NumberValue(float64(t)), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), false
		}
		return NumberValue(f), true
	default:
		return Null(), false
	}
}

func scalarFromResult(r gjson.Result) Scalar {
	switch r.Type {
	case gjson.String:
		return StringValue(r.Str)
	case gjson.Number:
		return NumberValue(r.Num)
	case gjson.True:
		return BoolValue(true)
	case gjson.False:
		return BoolValue(false)
	default:
		return Null()
	}
}
