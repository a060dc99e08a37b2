// Package vm evaluates compiled probe bytecode against host execution
// frames.
//
// # Execution model
//
// One Executor runs one linear instruction stream to completion on the
// calling goroutine. There are no jumps, no suspension and no internal
// blocking; the only external calls an instruction can make go through
// the Dispatcher. Many probes may execute concurrently on different
// goroutines, each with its own Executor; the Program and its constant
// pool are read-only and freely shared.
//
// # Safety
//
// Nothing a probe does may crash or corrupt the host. Every failure mode
// inside the evaluator — stack underflow, unknown opcode, operand out of
// pool range, type mismatches, dispatcher errors, resource limits —
// converts to *Error. Predicates coerce errors to false; bodies abort
// and keep the captures already emitted. ExecuteProbe never returns a
// runtime error to its caller.
//
// # Resource bounds
//
// Three caps are checked cooperatively: an instruction-count cap
// (checked every instruction, so every stream terminates within it), the
// value stack depth, and a total-captured-bytes budget.
//
// # Invariants
//
//   - An empty predicate stream evaluates to true.
//   - Captures within one body are emitted in source order.
//   - Given identical dispatcher responses, request-store state and
//     clock, execution is deterministic.
package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/hogtrace/hogtrace/internal/program"
)

// Default resource bounds.
const (
	DefaultStackDepth      = 256
	DefaultMaxInstructions = 10_000
	DefaultMaxCaptureBytes = 64 << 10
)

// sampleSlot is the reserved request-store slot caching the per-request
// uniform draw behind sampling verdicts. The double-underscore namespace
// is reserved; user probes must not write __-prefixed slots.
const sampleSlot = "__sample_u__"

// sampleOKName is the reserved identifier exposing the per-request global
// sampling verdict to probe code.
const sampleOKName = "__sample_ok__"

// sampleFunc is the compiler-generated per-probe gate builtin.
const sampleFunc = "__sample__"

// Limits bounds one probe execution.
type Limits struct {
	StackDepth      int
	MaxInstructions int
	MaxCaptureBytes int
}

// DefaultLimits returns the standard resource bounds.
func DefaultLimits() Limits {
	return Limits{
		StackDepth:      DefaultStackDepth,
		MaxInstructions: DefaultMaxInstructions,
		MaxCaptureBytes: DefaultMaxCaptureBytes,
	}
}

// Env is everything one probe execution runs against: the program's
// constant pool, the host dispatcher, the request store, the program's
// global sampling rate and the resource limits. The zero Clock means
// time.Now.
type Env struct {
	Pool       *program.ConstantPool
	Dispatcher Dispatcher
	Store      RequestStore
	Sampling   float32
	Limits     Limits
	Clock      func() time.Time
}

// Executor is a single-use stack machine. Create one per stream run; it
// is not safe for concurrent use.
type Executor struct {
	env      Env
	stack    []Value
	icount   int
	capBytes int
	events   []CaptureEvent
}

// NewExecutor returns an executor over env, applying default limits for
// any zero fields.
func NewExecutor(env Env) *Executor {
	if env.Limits.StackDepth <= 0 {
		env.Limits.StackDepth = DefaultStackDepth
	}
	if env.Limits.MaxInstructions <= 0 {
		env.Limits.MaxInstructions = DefaultMaxInstructions
	}
	if env.Limits.MaxCaptureBytes <= 0 {
		env.Limits.MaxCaptureBytes = DefaultMaxCaptureBytes
	}
	if env.Clock == nil {
		env.Clock = time.Now
	}
	return &Executor{env: env, stack: make([]Value, 0, env.Limits.StackDepth)}
}

// RunPredicate executes a predicate stream and coerces the result to a
// boolean. An empty stream is true; any runtime error is false.
func (x *Executor) RunPredicate(code []byte) (bool, *Error) {
	if len(code) == 0 {
		return true, nil
	}
	if err := x.run(code); err != nil {
		return false, err
	}
	if len(x.stack) == 0 {
		return false, &Error{Kind: StackUnderflow, Message: "predicate left no result"}
	}
	return x.truthy(x.stack[len(x.stack)-1]), nil
}

// RunBody executes a body stream, returning the capture events emitted
// in source order. On error the events emitted before the failing
// instruction are returned alongside it.
func (x *Executor) RunBody(code []byte) ([]CaptureEvent, *Error) {
	err := x.run(code)
	return x.events, err
}

func (x *Executor) run(code []byte) *Error {
	ip := 0
	for ip < len(code) {
		x.icount++
		if x.icount > x.env.Limits.MaxInstructions {
			return &Error{Kind: LimitExceeded, Limit: LimitInstructions, IP: ip, Message: fmt.Sprintf("instruction cap %d exceeded", x.env.Limits.MaxInstructions)}
		}

		op := program.Opcode(code[ip])
		width := op.OperandWidth()
		if width < 0 || op == program.OpStoreVar {
			return &Error{Kind: BadOpcode, IP: ip, Message: fmt.Sprintf("opcode 0x%02x not executable in version 1", byte(op))}
		}
		if ip+1+width > len(code) {
			return &Error{Kind: BadOpcode, IP: ip, Message: "truncated operand"}
		}
		operands := code[ip+1 : ip+1+width]
		next := ip + 1 + width

		var err *Error
		switch op {
		case program.OpPushConst:
			err = x.opPushConst(ip, operands)
		case program.OpPop:
			_, err = x.pop(ip)
		case program.OpLoadVar:
			err = x.opLoadVar(ip, operands)
		case program.OpLoadReq:
			err = x.opLoadReq(ip, operands)
		case program.OpStoreReq:
			err = x.opStoreReq(ip, operands)
		case program.OpGetAttr:
			err = x.opGetAttr(ip, operands)
		case program.OpGetItem:
			err = x.opGetItem(ip)
		case program.OpCallFunc:
			err = x.opCallFunc(ip, operands)
		case program.OpCapture:
			err = x.opCapture(ip, operands)
		case program.OpAdd, program.OpSub, program.OpMul, program.OpDiv, program.OpMod:
			err = x.opArith(ip, op)
		case program.OpEq, program.OpNe:
			err = x.opEquality(ip, op)
		case program.OpLt, program.OpGt, program.OpLe, program.OpGe:
			err = x.opCompare(ip, op)
		case program.OpAnd, program.OpOr:
			err = x.opLogical(ip, op)
		case program.OpNot:
			err = x.opNot(ip)
		case program.OpHalt:
			return nil
		default:
			err = &Error{Kind: BadOpcode, IP: ip, Message: fmt.Sprintf("unknown opcode 0x%02x", byte(op))}
		}
		if err != nil {
			return err
		}
		ip = next
	}
	return nil
}

// Stack primitives.

func (x *Executor) push(ip int, v Value) *Error {
	if len(x.stack) >= x.env.Limits.StackDepth {
		return &Error{Kind: LimitExceeded, Limit: LimitStack, IP: ip, Message: fmt.Sprintf("stack depth cap %d exceeded", x.env.Limits.StackDepth)}
	}
	x.stack = append(x.stack, v)
	return nil
}

func (x *Executor) pop(ip int) (Value, *Error) {
	if len(x.stack) == 0 {
		return Value{}, &Error{Kind: StackUnderflow, IP: ip, Message: "pop from empty stack"}
	}
	v := x.stack[len(x.stack)-1]
	x.stack = x.stack[:len(x.stack)-1]
	return v, nil
}

func (x *Executor) pop2(ip int) (a, b Value, err *Error) {
	b, err = x.pop(ip)
	if err != nil {
		return
	}
	a, err = x.pop(ip)
	return
}

// Constant helpers.

func (x *Executor) constant(ip int, operands []byte) (program.Constant, *Error) {
	idx := binary.LittleEndian.Uint16(operands)
	c, ok := x.env.Pool.Get(idx)
	if !ok {
		return program.Constant{}, &Error{Kind: BadOpcode, IP: ip, Message: fmt.Sprintf("constant index %d out of pool range", idx)}
	}
	return c, nil
}

func (x *Executor) symbol(ip int, operands []byte, kind program.ConstKind) (string, *Error) {
	c, err := x.constant(ip, operands)
	if err != nil {
		return "", err
	}
	if c.Kind != kind {
		return "", &Error{Kind: TypeMismatch, IP: ip, Message: fmt.Sprintf("expected %s constant, found %s", kind, c.Kind)}
	}
	return c.Text(), nil
}

// lift converts a pool constant to a runtime Value. Symbolic kinds lift
// to their string payload.
func lift(c program.Constant) Value {
	switch c.Kind {
	case program.ConstInt:
		return Int(c.Int)
	case program.ConstFloat:
		return Float(c.Flt)
	case program.ConstString, program.ConstIdentifier, program.ConstField, program.ConstFunction:
		return Str(c.Str)
	case program.ConstBool:
		return Bool(c.Bool)
	default:
		return None()
	}
}

// Instruction implementations.

func (x *Executor) opPushConst(ip int, operands []byte) *Error {
	c, err := x.constant(ip, operands)
	if err != nil {
		return err
	}
	return x.push(ip, lift(c))
}

func (x *Executor) opLoadVar(ip int, operands []byte) *Error {
	name, err := x.symbol(ip, operands, program.ConstIdentifier)
	if err != nil {
		return err
	}
	if name == sampleOKName {
		ok, serr := x.sampleVerdict(ip, float64(x.env.Sampling))
		if serr != nil {
			return serr
		}
		return x.push(ip, Bool(ok))
	}
	v, derr := x.env.Dispatcher.LoadVariable(name)
	if derr != nil {
		return &Error{Kind: DispatcherFailure, IP: ip, Message: fmt.Sprintf("load %q", name), Inner: derr}
	}
	return x.push(ip, v)
}

func (x *Executor) opLoadReq(ip int, operands []byte) *Error {
	name, err := x.symbol(ip, operands, program.ConstIdentifier)
	if err != nil {
		return err
	}
	return x.push(ip, x.env.Store.Get(name))
}

func (x *Executor) opStoreReq(ip int, operands []byte) *Error {
	name, err := x.symbol(ip, operands, program.ConstIdentifier)
	if err != nil {
		return err
	}
	v, perr := x.pop(ip)
	if perr != nil {
		return perr
	}
	x.env.Store.Set(name, v)
	return nil
}

func (x *Executor) opGetAttr(ip int, operands []byte) *Error {
	field, err := x.symbol(ip, operands, program.ConstField)
	if err != nil {
		return err
	}
	obj, perr := x.pop(ip)
	if perr != nil {
		return perr
	}
	v, derr := x.env.Dispatcher.GetAttribute(obj, field)
	if derr != nil {
		return &Error{Kind: DispatcherFailure, IP: ip, Message: fmt.Sprintf("attribute %q", field), Inner: derr}
	}
	return x.push(ip, v)
}

func (x *Executor) opGetItem(ip int) *Error {
	obj, key, perr := x.pop2(ip)
	if perr != nil {
		return perr
	}
	v, derr := x.env.Dispatcher.GetItem(obj, key)
	if derr != nil {
		return &Error{Kind: DispatcherFailure, IP: ip, Message: "item access", Inner: derr}
	}
	return x.push(ip, v)
}

func (x *Executor) opCallFunc(ip int, operands []byte) *Error {
	name, err := x.symbol(ip, operands[:2], program.ConstFunction)
	if err != nil {
		return err
	}
	argc := int(operands[2])
	if len(x.stack) < argc {
		return &Error{Kind: StackUnderflow, IP: ip, Message: fmt.Sprintf("%s needs %d arguments, stack has %d", name, argc, len(x.stack))}
	}
	args := make([]Value, argc)
	copy(args, x.stack[len(x.stack)-argc:])
	x.stack = x.stack[:len(x.stack)-argc]

	if name == sampleFunc {
		return x.opSampleGate(ip, args)
	}

	v, derr := x.env.Dispatcher.CallFunction(name, args)
	if derr != nil {
		return &Error{Kind: DispatcherFailure, IP: ip, Message: fmt.Sprintf("call %s/%d", name, argc), Inner: derr}
	}
	return x.push(ip, v)
}

// opSampleGate serves the compiler-generated __sample__(rate) gate
// without involving the dispatcher's builtin table.
func (x *Executor) opSampleGate(ip int, args []Value) *Error {
	if len(args) != 1 || !args[0].IsNumeric() {
		return &Error{Kind: TypeMismatch, IP: ip, Message: "__sample__ takes one numeric rate"}
	}
	ok, err := x.sampleVerdict(ip, args[0].floatVal())
	if err != nil {
		return err
	}
	return x.push(ip, Bool(ok))
}

// sampleVerdict compares the per-request uniform draw against rate. The
// draw is taken once per request — on first use, via the dispatcher's
// rand() — and cached in a reserved request-store slot so every probe in
// the request agrees.
func (x *Executor) sampleVerdict(ip int, rate float64) (bool, *Error) {
	u := x.env.Store.Get(sampleSlot)
	if !u.IsNumeric() {
		drawn, derr := x.env.Dispatcher.CallFunction("rand", nil)
		if derr != nil {
			return false, &Error{Kind: DispatcherFailure, IP: ip, Message: "sampling draw", Inner: derr}
		}
		if !drawn.IsNumeric() {
			return false, &Error{Kind: TypeMismatch, IP: ip, Message: "rand() must return a number"}
		}
		x.env.Store.Set(sampleSlot, Float(drawn.floatVal()))
		u = x.env.Store.Get(sampleSlot)
	}
	return u.floatVal() < rate, nil
}

func (x *Executor) opCapture(ip int, operands []byte) *Error {
	argc := int(operands[0])
	namedc := int(operands[1])

	var values []CaptureValue
	switch {
	case namedc > 0:
		if len(x.stack) < namedc*2 {
			return &Error{Kind: StackUnderflow, IP: ip, Message: "capture operands missing"}
		}
		values = make([]CaptureValue, namedc)
		for i := namedc - 1; i >= 0; i-- {
			name, perr := x.pop(ip)
			if perr != nil {
				return perr
			}
			v, perr := x.pop(ip)
			if perr != nil {
				return perr
			}
			ns, ok := name.AsString()
			if !ok {
				return &Error{Kind: TypeMismatch, IP: ip, Message: "capture name must be a string"}
			}
			values[i] = CaptureValue{Name: ns, Value: v}
		}
	default:
		if len(x.stack) < argc {
			return &Error{Kind: StackUnderflow, IP: ip, Message: "capture operands missing"}
		}
		values = make([]CaptureValue, argc)
		for i := argc - 1; i >= 0; i-- {
			v, perr := x.pop(ip)
			if perr != nil {
				return perr
			}
			values[i] = CaptureValue{Name: fmt.Sprintf("arg%d", i), Value: v}
		}
	}

	size := 0
	for _, v := range values {
		size += len(v.Name) + v.Value.sizeEstimate()
	}
	x.capBytes += size
	if x.capBytes > x.env.Limits.MaxCaptureBytes {
		return &Error{Kind: LimitExceeded, Limit: LimitCaptureBytes, IP: ip, Message: fmt.Sprintf("capture budget %d bytes exceeded", x.env.Limits.MaxCaptureBytes)}
	}

	x.events = append(x.events, CaptureEvent{Timestamp: x.env.Clock(), Values: values})
	return nil
}

func (x *Executor) opArith(ip int, op program.Opcode) *Error {
	a, b, perr := x.pop2(ip)
	if perr != nil {
		return perr
	}
	v, err := arith(op, a, b)
	if err != nil {
		err.IP = ip
		return err
	}
	return x.push(ip, v)
}

func (x *Executor) opEquality(ip int, op program.Opcode) *Error {
	a, b, perr := x.pop2(ip)
	if perr != nil {
		return perr
	}
	eq := a.Equal(b)
	if op == program.OpNe {
		eq = !eq
	}
	return x.push(ip, Bool(eq))
}

func (x *Executor) opCompare(ip int, op program.Opcode) *Error {
	a, b, perr := x.pop2(ip)
	if perr != nil {
		return perr
	}
	var less, equal bool
	switch {
	case a.IsNumeric() && b.IsNumeric():
		af, bf := a.floatVal(), b.floatVal()
		less, equal = af < bf, af == bf
	case a.Kind() == KindString && b.Kind() == KindString:
		as, _ := a.AsString()
		bs, _ := b.AsString()
		less, equal = as < bs, as == bs
	default:
		return &Error{Kind: TypeMismatch, IP: ip, Message: fmt.Sprintf("cannot order %s and %s", a.Kind(), b.Kind())}
	}
	var result bool
	switch op {
	case program.OpLt:
		result = less
	case program.OpLe:
		result = less || equal
	case program.OpGt:
		result = !less && !equal
	case program.OpGe:
		result = !less
	}
	return x.push(ip, Bool(result))
}

func (x *Executor) opLogical(ip int, op program.Opcode) *Error {
	a, b, perr := x.pop2(ip)
	if perr != nil {
		return perr
	}
	av, bv := x.truthy(a), x.truthy(b)
	if op == program.OpAnd {
		return x.push(ip, Bool(av && bv))
	}
	return x.push(ip, Bool(av || bv))
}

func (x *Executor) opNot(ip int) *Error {
	v, perr := x.pop(ip)
	if perr != nil {
		return perr
	}
	return x.push(ip, Bool(!x.truthy(v)))
}

// truthy coerces a value to a predicate boolean: Bool as-is, None false,
// numbers non-zero, strings non-empty, Objects per the dispatcher.
func (x *Executor) truthy(v Value) bool {
	switch v.Kind() {
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindNone:
		return false
	case KindInt:
		i, _ := v.AsInt()
		return i != 0
	case KindFloat:
		f, _ := v.AsFloat()
		return f != 0
	case KindString:
		s, _ := v.AsString()
		return s != ""
	case KindObject:
		return x.env.Dispatcher.Truthy(v)
	default:
		return false
	}
}

// arith implements the numeric binary operators. Int op Int stays Int
// (truncated division); any Float operand widens the result to Float.
func arith(op program.Opcode, a, b Value) (Value, *Error) {
	if !a.IsNumeric() || !b.IsNumeric() {
		return Value{}, &Error{Kind: TypeMismatch, Message: fmt.Sprintf("%s on %s and %s", op, a.Kind(), b.Kind())}
	}

	if a.Kind() == KindInt && b.Kind() == KindInt {
		ai, _ := a.AsInt()
		bi, _ := b.AsInt()
		switch op {
		case program.OpAdd:
			return Int(ai + bi), nil
		case program.OpSub:
			return Int(ai - bi), nil
		case program.OpMul:
			return Int(ai * bi), nil
		case program.OpDiv:
			if bi == 0 {
				return Value{}, &Error{Kind: TypeMismatch, Message: "integer division by zero"}
			}
			return Int(ai / bi), nil
		case program.OpMod:
			if bi == 0 {
				return Value{}, &Error{Kind: TypeMismatch, Message: "integer modulo by zero"}
			}
			return Int(ai % bi), nil
		}
	}

	af, bf := a.floatVal(), b.floatVal()
	switch op {
	case program.OpAdd:
		return Float(af + bf), nil
	case program.OpSub:
		return Float(af - bf), nil
	case program.OpMul:
		return Float(af * bf), nil
	case program.OpDiv:
		if bf == 0 {
			return Value{}, &Error{Kind: TypeMismatch, Message: "division by zero"}
		}
		return Float(af / bf), nil
	case program.OpMod:
		if bf == 0 {
			return Value{}, &Error{Kind: TypeMismatch, Message: "modulo by zero"}
		}
		return Float(math.Mod(af, bf)), nil
	}
	return Value{}, &Error{Kind: BadOpcode, Message: fmt.Sprintf("%s is not arithmetic", op)}
}
