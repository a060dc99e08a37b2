package vm

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags a runtime Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindObject
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the VM's runtime value: a closed tagged union. Object wraps an
// opaque host handle that only the dispatcher may interpret; the VM never
// walks into it.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	obj  any
}

// Constructors.

func None() Value             { return Value{kind: KindNone} }
func Bool(v bool) Value       { return Value{kind: KindBool, b: v} }
func Int(v int64) Value       { return Value{kind: KindInt, i: v} }
func Float(v float64) Value   { return Value{kind: KindFloat, f: v} }
func Str(v string) Value      { return Value{kind: KindString, s: v} }
func Object(handle any) Value { return Value{kind: KindObject, obj: handle} }

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether the value is None.
func (v Value) IsNone() bool { return v.kind == KindNone }

// Accessors. Each returns the payload and whether the kind matched.

func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsObject() (any, bool)    { return v.obj, v.kind == KindObject }

// IsNumeric reports whether the value is Int or Float.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// floatVal widens Int or Float to float64. Caller must check IsNumeric.
func (v Value) floatVal() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Equal implements the EQ/NE semantics: numeric values compare across
// Int/Float; None equals only None; opaque Object handles never compare
// equal through the VM; remaining cross-kind comparisons are false.
func (v Value) Equal(o Value) bool {
	if v.IsNumeric() && o.IsNumeric() {
		if v.kind == KindInt && o.kind == KindInt {
			return v.i == o.i
		}
		return v.floatVal() == o.floatVal()
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	default:
		return false
	}
}

// String renders the value for logs and disassembly.
func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "None"
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindObject:
		return fmt.Sprintf("<object %T>", v.obj)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the value for sinks and the probe log. Objects are
// rendered as their debug string; hosts wanting richer serialization
// should capture fields, not whole objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNone:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindObject:
		return json.Marshal(v.String())
	default:
		return nil, fmt.Errorf("invalid value kind %d", v.kind)
	}
}

// sizeEstimate approximates the bytes a value contributes to a capture
// event, used for the capture budget.
func (v Value) sizeEstimate() int {
	switch v.kind {
	case KindString:
		return 8 + len(v.s)
	case KindObject:
		return 32
	default:
		return 8
	}
}
