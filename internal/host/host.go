// Package host is the reference Go binding of the dispatcher contract.
//
// It resolves frame variables from a Frame snapshot, walks Go values with
// reflection for attribute and item access, and serves the built-in
// function table. It exists both as a usable binding for Go hosts and as
// the executable specification other language bindings are written
// against: the VM itself never learns anything about Go values beyond
// what crosses this boundary.
package host

import (
	"fmt"
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hogtrace/hogtrace/internal/vm"
)

// Frame is a snapshot of one host function invocation. Entry probes see
// Args/Kwargs/Self; exit probes additionally see Retval and Exception.
type Frame struct {
	Args      []any
	Kwargs    map[string]any
	Self      any
	Retval    any
	Exception any

	exit bool
}

// NewEntryFrame builds a frame for an entry probe.
func NewEntryFrame(args []any, kwargs map[string]any, self any) *Frame {
	return &Frame{Args: args, Kwargs: kwargs, Self: self}
}

// NewExitFrame builds a frame for an exit probe, carrying the return
// value and the in-flight exception (nil when the call returned cleanly).
func NewExitFrame(args []any, kwargs map[string]any, self any, retval, exception any) *Frame {
	return &Frame{Args: args, Kwargs: kwargs, Self: self, Retval: retval, Exception: exception, exit: true}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRand overrides the uniform source behind rand(); tests pin it for
// deterministic sampling.
func WithRand(fn func() float64) Option {
	return func(d *Dispatcher) { d.rand = fn }
}

// WithClock overrides the clock behind timestamp().
func WithClock(fn func() time.Time) Option {
	return func(d *Dispatcher) { d.now = fn }
}

// Dispatcher binds one frame to the VM for one probe execution.
type Dispatcher struct {
	frame *Frame
	rand  func() float64
	now   func() time.Time
}

// NewDispatcher wraps a frame for execution.
func NewDispatcher(frame *Frame, opts ...Option) *Dispatcher {
	d := &Dispatcher{frame: frame, rand: rand.Float64, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LoadVariable resolves the frame names the contract requires: args,
// arg0..argN, kwargs, self, plus retval and exception on exit frames.
// Unknown names are an error, not None.
func (d *Dispatcher) LoadVariable(name string) (vm.Value, error) {
	switch name {
	case "args":
		return ToValue(d.frame.Args), nil
	case "kwargs":
		return ToValue(d.frame.Kwargs), nil
	case "self":
		return ToValue(d.frame.Self), nil
	case "retval":
		if !d.frame.exit {
			return vm.Value{}, fmt.Errorf("retval is only visible at exit")
		}
		return ToValue(d.frame.Retval), nil
	case "exception":
		if !d.frame.exit {
			return vm.Value{}, fmt.Errorf("exception is only visible at exit")
		}
		return ToValue(d.frame.Exception), nil
	}
	if n, ok := argIndex(name); ok {
		if n >= len(d.frame.Args) {
			return vm.Value{}, fmt.Errorf("frame has %d arguments, no arg%d", len(d.frame.Args), n)
		}
		return ToValue(d.frame.Args[n]), nil
	}
	return vm.Value{}, fmt.Errorf("unknown variable %q", name)
}

func argIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "arg") || len(name) == 3 {
		return 0, false
	}
	n, err := strconv.Atoi(name[3:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// GetAttribute resolves obj.field against maps (by key) and structs (by
// exported field name, accepting lower-cased spellings).
func (d *Dispatcher) GetAttribute(obj vm.Value, field string) (vm.Value, error) {
	handle, ok := obj.AsObject()
	if !ok {
		return vm.Value{}, fmt.Errorf("%s value has no attributes", obj.Kind())
	}
	rv := indirect(reflect.ValueOf(handle))
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return vm.Value{}, fmt.Errorf("attribute access on map with %s keys", rv.Type().Key())
		}
		item := rv.MapIndex(reflect.ValueOf(field))
		if !item.IsValid() {
			return vm.Value{}, fmt.Errorf("no attribute %q", field)
		}
		return ToValue(item.Interface()), nil
	case reflect.Struct:
		f := rv.FieldByName(field)
		if !f.IsValid() {
			f = rv.FieldByName(strings.ToUpper(field[:1]) + field[1:])
		}
		if !f.IsValid() || !f.CanInterface() {
			return vm.Value{}, fmt.Errorf("no attribute %q", field)
		}
		return ToValue(f.Interface()), nil
	default:
		return vm.Value{}, fmt.Errorf("attribute access on %s", rv.Kind())
	}
}

// GetItem resolves obj[key] against slices/arrays (int key), maps
// (string or int key) and strings (int key, one-character string out).
func (d *Dispatcher) GetItem(obj, key vm.Value) (vm.Value, error) {
	if s, ok := obj.AsString(); ok {
		i, ok := key.AsInt()
		if !ok {
			return vm.Value{}, fmt.Errorf("string index must be an int, got %s", key.Kind())
		}
		if i < 0 || i >= int64(len(s)) {
			return vm.Value{}, fmt.Errorf("string index %d out of range", i)
		}
		return vm.Str(string(s[i])), nil
	}

	handle, ok := obj.AsObject()
	if !ok {
		return vm.Value{}, fmt.Errorf("%s value is not subscriptable", obj.Kind())
	}
	rv := indirect(reflect.ValueOf(handle))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		i, ok := key.AsInt()
		if !ok {
			return vm.Value{}, fmt.Errorf("index must be an int, got %s", key.Kind())
		}
		if i < 0 || i >= int64(rv.Len()) {
			return vm.Value{}, fmt.Errorf("index %d out of range for length %d", i, rv.Len())
		}
		return ToValue(rv.Index(int(i)).Interface()), nil
	case reflect.Map:
		kv, err := mapKey(rv.Type().Key(), key)
		if err != nil {
			return vm.Value{}, err
		}
		item := rv.MapIndex(kv)
		if !item.IsValid() {
			return vm.Value{}, fmt.Errorf("no key %s", key)
		}
		return ToValue(item.Interface()), nil
	default:
		return vm.Value{}, fmt.Errorf("%s is not subscriptable", rv.Kind())
	}
}

func mapKey(keyType reflect.Type, key vm.Value) (reflect.Value, error) {
	switch keyType.Kind() {
	case reflect.String:
		s, ok := key.AsString()
		if !ok {
			return reflect.Value{}, fmt.Errorf("map key must be a string, got %s", key.Kind())
		}
		return reflect.ValueOf(s), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := key.AsInt()
		if !ok {
			return reflect.Value{}, fmt.Errorf("map key must be an int, got %s", key.Kind())
		}
		return reflect.ValueOf(i).Convert(keyType), nil
	default:
		return reflect.Value{}, fmt.Errorf("unsupported map key type %s", keyType)
	}
}

// CallFunction serves the built-in table: timestamp, rand, len, str,
// int, float. Unknown names are an error.
func (d *Dispatcher) CallFunction(name string, args []vm.Value) (vm.Value, error) {
	switch name {
	case "timestamp":
		if len(args) != 0 {
			return vm.Value{}, fmt.Errorf("timestamp takes no arguments")
		}
		return vm.Float(float64(d.now().UnixNano()) / 1e9), nil
	case "rand":
		if len(args) != 0 {
			return vm.Value{}, fmt.Errorf("rand takes no arguments")
		}
		return vm.Float(d.rand()), nil
	case "len":
		if len(args) != 1 {
			return vm.Value{}, fmt.Errorf("len takes one argument")
		}
		return builtinLen(args[0])
	case "str":
		if len(args) != 1 {
			return vm.Value{}, fmt.Errorf("str takes one argument")
		}
		return builtinStr(args[0]), nil
	case "int":
		if len(args) != 1 {
			return vm.Value{}, fmt.Errorf("int takes one argument")
		}
		return builtinInt(args[0])
	case "float":
		if len(args) != 1 {
			return vm.Value{}, fmt.Errorf("float takes one argument")
		}
		return builtinFloat(args[0])
	default:
		return vm.Value{}, fmt.Errorf("unknown function %q", name)
	}
}

// Truthy decides predicate truthiness for opaque handles: nil handles
// are false, sized containers follow their length, everything else is
// true.
func (d *Dispatcher) Truthy(obj vm.Value) bool {
	handle, ok := obj.AsObject()
	if !ok || handle == nil {
		return false
	}
	rv := indirect(reflect.ValueOf(handle))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0
	case reflect.Invalid:
		return false
	default:
		return true
	}
}

func builtinLen(v vm.Value) (vm.Value, error) {
	if s, ok := v.AsString(); ok {
		return vm.Int(int64(len(s))), nil
	}
	handle, ok := v.AsObject()
	if !ok {
		return vm.Value{}, fmt.Errorf("%s has no length", v.Kind())
	}
	rv := indirect(reflect.ValueOf(handle))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return vm.Int(int64(rv.Len())), nil
	default:
		return vm.Value{}, fmt.Errorf("%s has no length", rv.Kind())
	}
}

func builtinStr(v vm.Value) vm.Value {
	if s, ok := v.AsString(); ok {
		return vm.Str(s)
	}
	if handle, ok := v.AsObject(); ok {
		return vm.Str(fmt.Sprintf("%v", handle))
	}
	return vm.Str(v.String())
}

func builtinInt(v vm.Value) (vm.Value, error) {
	switch v.Kind() {
	case vm.KindInt:
		return v, nil
	case vm.KindFloat:
		f, _ := v.AsFloat()
		return vm.Int(int64(f)), nil
	case vm.KindBool:
		b, _ := v.AsBool()
		if b {
			return vm.Int(1), nil
		}
		return vm.Int(0), nil
	case vm.KindString:
		s, _ := v.AsString()
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return vm.Value{}, fmt.Errorf("cannot convert %q to int", s)
		}
		return vm.Int(n), nil
	default:
		return vm.Value{}, fmt.Errorf("cannot convert %s to int", v.Kind())
	}
}

func builtinFloat(v vm.Value) (vm.Value, error) {
	switch v.Kind() {
	case vm.KindFloat:
		return v, nil
	case vm.KindInt:
		i, _ := v.AsInt()
		return vm.Float(float64(i)), nil
	case vm.KindBool:
		b, _ := v.AsBool()
		if b {
			return vm.Float(1), nil
		}
		return vm.Float(0), nil
	case vm.KindString:
		s, _ := v.AsString()
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return vm.Value{}, fmt.Errorf("cannot convert %q to float", s)
		}
		return vm.Float(f), nil
	default:
		return vm.Value{}, fmt.Errorf("cannot convert %s to float", v.Kind())
	}
}

// ToValue lifts a Go value into the VM's value space. Scalars map to
// their tagged kinds; nil maps to None; everything else crosses as an
// opaque Object handle.
func ToValue(v any) vm.Value {
	switch x := v.(type) {
	case nil:
		return vm.None()
	case bool:
		return vm.Bool(x)
	case int:
		return vm.Int(int64(x))
	case int8:
		return vm.Int(int64(x))
	case int16:
		return vm.Int(int64(x))
	case int32:
		return vm.Int(int64(x))
	case int64:
		return vm.Int(x)
	case uint:
		return vm.Int(int64(x))
	case uint8:
		return vm.Int(int64(x))
	case uint16:
		return vm.Int(int64(x))
	case uint32:
		return vm.Int(int64(x))
	case uint64:
		return vm.Int(int64(x))
	case float32:
		return vm.Float(float64(x))
	case float64:
		return vm.Float(x)
	case string:
		return vm.Str(x)
	case vm.Value:
		return x
	default:
		return vm.Object(v)
	}
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}
