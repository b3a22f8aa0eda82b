package octoprint

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NotAvailableText is the String-slot value for a JSON null leaf.
const NotAvailableText = "n.A."

// ValueKind is the type a slot or command value carries.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseValueKind is the inverse of ValueKind.String.
func ParseValueKind(s string) (ValueKind, bool) {
	switch s {
	case "string":
		return KindString, true
	case "number":
		return KindNumber, true
	default:
		return 0, false
	}
}

// MarshalText encodes the kind by name.
func (k ValueKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *ValueKind) UnmarshalText(b []byte) error {
	kind, ok := ParseValueKind(string(b))
	if !ok {
		return fmt.Errorf("unknown value kind %q", b)
	}
	*k = kind
	return nil
}

// Value is a typed slot or command value.
//
// Unavailable marks a slot whose route failed or whose key path did not
// resolve this cycle. It is distinct from the null sentinels, which are
// ordinary values.
type Value struct {
	Kind        ValueKind
	Text        string
	Number      float64
	Unavailable bool
}

// StringValue returns a String-kind value.
func StringValue(s string) Value {
	return Value{Kind: KindString, Text: s}
}

// NumberValue returns a Number-kind value.
func NumberValue(f float64) Value {
	return Value{Kind: KindNumber, Number: f}
}

// UnavailableValue returns the unavailable marker for kind.
func UnavailableValue(kind ValueKind) Value {
	return Value{Kind: kind, Unavailable: true}
}

// nullValue is what a JSON null leaf resolves to.
func nullValue(kind ValueKind) Value {
	if kind == KindNumber {
		return NumberValue(0)
	}
	return StringValue(NotAvailableText)
}

func (v Value) String() string {
	switch {
	case v.Unavailable:
		return "UNDEF"
	case v.Kind == KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.Text
	}
}

// Interface returns the value as a plain Go value for JSON encoding:
// string, float64 or nil when unavailable.
func (v Value) Interface() any {
	switch {
	case v.Unavailable:
		return nil
	case v.Kind == KindNumber:
		return v.Number
	default:
		return v.Text
	}
}

// ValueFromJSON converts a decoded JSON scalar into a command value.
// Strings map to KindString; numbers (float64 or json.Number) to KindNumber.
func ValueFromJSON(raw any) (Value, error) {
	switch x := raw.(type) {
	case string:
		return StringValue(x), nil
	case float64:
		return NumberValue(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return NumberValue(f), nil
	case int:
		return NumberValue(float64(x)), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}
