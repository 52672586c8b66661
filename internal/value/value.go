// Package value implements the dynamic JSON-like value used for feature
// defaults, variations, attributes and conditions.
//
// A Value is one of seven kinds. The zero Value is Unknown, which stands for
// an absent attribute or an unset field and is distinct from JSON null.
// Objects keep their keys in insertion order so payloads round-trip as read.
package value

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is an immutable tagged union. Build values with the constructors
// below; never mutate slices or maps returned from accessors.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	keys []string
	obj  map[string]Value
}

// Unknown returns the absent value.
func Unknown() Value { return Value{} }

// Null returns JSON null.
func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func Int(n int) Value { return Value{kind: KindNumber, n: float64(n)} }

func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding items in order.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Object builds an object from a Go map. Keys are sorted so the result is
// deterministic; use an ObjectBuilder to keep a specific order.
func Object(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := NewObjectBuilder(len(keys))
	for _, k := range keys {
		b.Set(k, m[k])
	}
	return b.Build()
}

// ObjectBuilder assembles an object value while preserving key order.
type ObjectBuilder struct {
	keys []string
	obj  map[string]Value
}

func NewObjectBuilder(size int) *ObjectBuilder {
	return &ObjectBuilder{keys: make([]string, 0, size), obj: make(map[string]Value, size)}
}

// Set adds or replaces key. A replaced key keeps its original position.
func (b *ObjectBuilder) Set(key string, v Value) *ObjectBuilder {
	if _, ok := b.obj[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.obj[key] = v
	return b
}

func (b *ObjectBuilder) Build() Value {
	return Value{kind: KindObject, keys: b.keys, obj: b.obj}
}

func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v is Unknown. It lets struct fields of type Value
// use the omitzero JSON tag.
func (v Value) IsZero() bool { return v.kind == KindUnknown }

func (v Value) IsUnknown() bool { return v.kind == KindUnknown }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Exists reports whether v is neither Unknown nor Null.
func (v Value) Exists() bool { return v.kind != KindUnknown && v.kind != KindNull }

// IsScalar reports whether v is Null, Bool, Number or String.
func (v Value) IsScalar() bool {
	switch v.kind {
	case KindNull, KindBool, KindNumber, KindString:
		return true
	}
	return false
}

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Items returns the elements of an array, or nil for any other kind.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Keys returns object keys in order, or nil for any other kind.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return v.keys
}

// Get returns the member of an object. Missing keys and non-objects yield
// Unknown and false.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	m, ok := v.obj[key]
	return m, ok
}

// Has reports whether an object contains key.
func (v Value) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Len returns the number of array elements or object members.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.keys)
	}
	return 0
}

// TypeName returns the name used by the $type condition operator.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// Path resolves a dotted attribute path such as "user.address.city".
// Every intermediate segment must be an object; anything else, including
// an array, yields Unknown.
func (v Value) Path(path string) Value {
	cur := v
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		next, ok := cur.Get(path[start:i])
		if !ok {
			return Value{}
		}
		cur = next
		start = i + 1
	}
	return cur
}

// Truthy follows JavaScript truthiness: Unknown, Null, false, "" and 0 are
// falsy, everything else (including empty arrays and objects) is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindUnknown, KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0 && !math.IsNaN(v.n)
	case KindString:
		return v.s != ""
	}
	return true
}

// Content returns the textual form of a scalar used by comparison operators:
// strings raw, numbers in shortest decimal form, booleans and null as their
// JSON literals. Arrays and objects return their JSON encoding.
func (v Value) Content() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return formatNumber(v.n)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return "null"
	case KindUnknown:
		return ""
	}
	return string(v.encode(nil))
}

// Float converts a number, or a string holding a number, to float64.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// HashString returns the text fed to the bucketing hash. Strings are used
// verbatim, Unknown and Null give "", other kinds their JSON encoding.
func (v Value) HashString() string {
	switch v.kind {
	case KindUnknown, KindNull:
		return ""
	case KindString:
		return v.s
	}
	return v.Content()
}

// Equal reports deep equality. Values of different kinds are never equal,
// so Number(10) and String("10") differ. Object key order is ignored.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUnknown, KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e21 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
