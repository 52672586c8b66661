package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrInvalidJSON is returned when input is not a single JSON document.
var ErrInvalidJSON = errors.New("value: invalid json")

// Parse decodes a JSON document into a Value, keeping object key order.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decode(dec)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return v, nil
}

// MustParse is Parse for literals in tests and fixtures. It panics on error.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func decode(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decode(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		case '{':
			b := NewObjectBuilder(4)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				member, err := decode(dec)
				if err != nil {
					return Value{}, err
				}
				b.Set(key, member)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return b.Build(), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalJSON implements json.Marshaler. Unknown encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.encode(nil), nil
}

func (v Value) encode(buf []byte) []byte {
	switch v.kind {
	case KindUnknown, KindNull:
		return append(buf, "null"...)
	case KindBool:
		return strconv.AppendBool(buf, v.b)
	case KindNumber:
		return append(buf, formatNumber(v.n)...)
	case KindString:
		quoted, _ := json.Marshal(v.s)
		return append(buf, quoted...)
	case KindArray:
		buf = append(buf, '[')
		for i, item := range v.arr {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = item.encode(buf)
		}
		return append(buf, ']')
	case KindObject:
		buf = append(buf, '{')
		for i, k := range v.keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			quoted, _ := json.Marshal(k)
			buf = append(buf, quoted...)
			buf = append(buf, ':')
			buf = v.obj[k].encode(buf)
		}
		return append(buf, '}')
	}
	return buf
}

// String implements fmt.Stringer with the JSON encoding.
func (v Value) String() string {
	if v.kind == KindUnknown {
		return "<unknown>"
	}
	return string(v.encode(nil))
}

// Interface converts v into plain Go values (nil, bool, float64, string,
// []any, map[string]any), suitable for YAML or template output.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.obj[k].Interface()
		}
		return out
	}
	return nil
}

// FromAny converts decoded Go values into a Value. Unsupported types
// become Unknown.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}
		}
		return Number(f)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return Array(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return Object(m)
	case map[string]Value:
		return Object(t)
	}
	return Value{}
}
