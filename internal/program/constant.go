// Package program defines the compiled form of a HogTrace program: the
// constant pool, the opcode set, the probe records and the wire format
// they serialize to.
package program

import (
	"fmt"
	"strconv"
)

// ConstKind tags a constant pool entry. Identifier, Field and Function
// share the string payload with Str but are distinct kinds so the VM's
// read pattern stays type-safe: LOAD_VAR only accepts Identifier,
// GET_ATTR only Field, CALL_FUNC only Function.
type ConstKind uint8

const (
	ConstInt ConstKind = iota + 1
	ConstFloat
	ConstString
	ConstBool
	ConstNone
	ConstIdentifier
	ConstField
	ConstFunction
)

// String returns the kind name used in disassembly and errors.
func (k ConstKind) String() string {
	switch k {
	case ConstInt:
		return "int"
	case ConstFloat:
		return "float"
	case ConstString:
		return "string"
	case ConstBool:
		return "bool"
	case ConstNone:
		return "none"
	case ConstIdentifier:
		return "ident"
	case ConstField:
		return "field"
	case ConstFunction:
		return "func"
	default:
		return "unknown"
	}
}

// Constant is one constant pool entry. Exactly one payload field is
// meaningful, selected by Kind.
type Constant struct {
	Kind ConstKind
	Int  int64
	Flt  float64
	Str  string
	Bool bool
}

// Text returns the string payload of symbolic constants; empty otherwise.
func (c Constant) Text() string { return c.Str }

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstFloat:
		return strconv.FormatFloat(c.Flt, 'g', -1, 64)
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstBool:
		if c.Bool {
			return "True"
		}
		return "False"
	case ConstNone:
		return "None"
	case ConstIdentifier, ConstField, ConstFunction:
		return c.Kind.String() + ":" + c.Str
	default:
		return "?"
	}
}

// Constructors keep call sites terse in the compiler.

func IntConst(v int64) Constant       { return Constant{Kind: ConstInt, Int: v} }
func FloatConst(v float64) Constant   { return Constant{Kind: ConstFloat, Flt: v} }
func StringConst(v string) Constant   { return Constant{Kind: ConstString, Str: v} }
func BoolConst(v bool) Constant       { return Constant{Kind: ConstBool, Bool: v} }
func NoneConst() Constant             { return Constant{Kind: ConstNone} }
func IdentConst(name string) Constant { return Constant{Kind: ConstIdentifier, Str: name} }
func FieldConst(name string) Constant { return Constant{Kind: ConstField, Str: name} }
func FuncConst(name string) Constant  { return Constant{Kind: ConstFunction, Str: name} }

// MaxPoolSize is the hard cap on constant pool entries: indices must fit
// in the u16 operand of PUSH_CONST and friends.
const MaxPoolSize = 1 << 16

// ErrPoolOverflow is returned by Add when the pool is full.
var ErrPoolOverflow = fmt.Errorf("constant pool exceeds %d entries", MaxPoolSize)

// ConstantPool is an append-only, deduplicating table of constants shared
// by every bytecode stream in a program. Equal (kind, value) pairs reuse
// the same index. The pool is mutated only during compilation; once the
// Program is emitted it is frozen.
type ConstantPool struct {
	entries []Constant
	index   map[Constant]uint16
}

// NewPool returns an empty constant pool.
func NewPool() *ConstantPool {
	return &ConstantPool{index: make(map[Constant]uint16)}
}

// Add interns c, returning its index. Append-on-miss, dedup-on-hit.
func (p *ConstantPool) Add(c Constant) (uint16, error) {
	if idx, ok := p.index[c]; ok {
		return idx, nil
	}
	if len(p.entries) >= MaxPoolSize {
		return 0, ErrPoolOverflow
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	p.index[c] = idx
	return idx, nil
}

// Get returns the entry at idx.
func (p *ConstantPool) Get(idx uint16) (Constant, bool) {
	if int(idx) >= len(p.entries) {
		return Constant{}, false
	}
	return p.entries[idx], true
}

// Len returns the number of interned entries.
func (p *ConstantPool) Len() int { return len(p.entries) }

// Entries returns the backing slice. Callers must not mutate it.
func (p *ConstantPool) Entries() []Constant { return p.entries }

// rebuildIndex restores the dedup map after deserialization.
func (p *ConstantPool) rebuildIndex() {
	p.index = make(map[Constant]uint16, len(p.entries))
	for i, c := range p.entries {
		if _, ok := p.index[c]; !ok {
			p.index[c] = uint16(i)
		}
	}
}
