package host

import (
	"testing"
	"time"

	"github.com/hogtrace/hogtrace/internal/vm"
)

func TestLoadVariable(t *testing.T) {
	frame := NewEntryFrame(
		[]any{42, "user"},
		map[string]any{"verbose": true},
		struct{ Name string }{"svc"},
	)
	d := NewDispatcher(frame)

	v, err := d.LoadVariable("arg0")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(vm.Int(42)) {
		t.Fatalf("arg0 = %s", v)
	}

	v, err = d.LoadVariable("arg1")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(vm.Str("user")) {
		t.Fatalf("arg1 = %s", v)
	}

	if _, err := d.LoadVariable("arg2"); err == nil {
		t.Fatal("out-of-range arg resolved")
	}

	for _, name := range []string{"args", "kwargs", "self"} {
		if _, err := d.LoadVariable(name); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}

	// Unknown names are an error, not None.
	if _, err := d.LoadVariable("bogus"); err == nil {
		t.Fatal("unknown variable resolved")
	}
}

func TestRetvalVisibility(t *testing.T) {
	entry := NewDispatcher(NewEntryFrame(nil, nil, nil))
	if _, err := entry.LoadVariable("retval"); err == nil {
		t.Fatal("retval visible at entry")
	}
	if _, err := entry.LoadVariable("exception"); err == nil {
		t.Fatal("exception visible at entry")
	}

	exit := NewDispatcher(NewExitFrame(nil, nil, nil, "done", nil))
	v, err := exit.LoadVariable("retval")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(vm.Str("done")) {
		t.Fatalf("retval = %s", v)
	}
	exc, err := exit.LoadVariable("exception")
	if err != nil {
		t.Fatal(err)
	}
	if !exc.IsNone() {
		t.Fatalf("clean exit exception = %s", exc)
	}
}

func TestGetAttribute(t *testing.T) {
	d := NewDispatcher(NewEntryFrame(nil, nil, nil))

	obj := vm.Object(map[string]any{"data": []any{1, 2}})
	v, err := d.GetAttribute(obj, "data")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != vm.KindObject {
		t.Fatalf("data lifted as %s", v.Kind())
	}

	if _, err := d.GetAttribute(obj, "missing"); err == nil {
		t.Fatal("missing attribute resolved")
	}

	type user struct {
		Name string
		Age  int
	}
	sobj := vm.Object(&user{Name: "alice", Age: 3})
	v, err = d.GetAttribute(sobj, "name")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(vm.Str("alice")) {
		t.Fatalf("struct field name = %s", v)
	}

	if _, err := d.GetAttribute(vm.Int(1), "x"); err == nil {
		t.Fatal("attribute on int resolved")
	}
}

func TestGetItem(t *testing.T) {
	d := NewDispatcher(NewEntryFrame(nil, nil, nil))

	slice := vm.Object([]any{10, 20, 30})
	v, err := d.GetItem(slice, vm.Int(1))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(vm.Int(20)) {
		t.Fatalf("slice[1] = %s", v)
	}
	if _, err := d.GetItem(slice, vm.Int(9)); err == nil {
		t.Fatal("out-of-range index resolved")
	}

	m := vm.Object(map[string]any{"v": 100})
	v, err = d.GetItem(m, vm.Str("v"))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(vm.Int(100)) {
		t.Fatalf(`m["v"] = %s`, v)
	}

	s := vm.Str("abc")
	v, err = d.GetItem(s, vm.Int(2))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(vm.Str("c")) {
		t.Fatalf("s[2] = %s", v)
	}
}

func TestBuiltins(t *testing.T) {
	now := time.Unix(1700000000, 500_000_000)
	d := NewDispatcher(NewEntryFrame(nil, nil, nil),
		WithClock(func() time.Time { return now }),
		WithRand(func() float64 { return 0.25 }),
	)

	ts, err := d.CallFunction("timestamp", nil)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := ts.AsFloat()
	if f != 1700000000.5 {
		t.Fatalf("timestamp = %v", f)
	}

	r, _ := d.CallFunction("rand", nil)
	if !r.Equal(vm.Float(0.25)) {
		t.Fatalf("rand = %s", r)
	}

	lenTests := []struct {
		arg  vm.Value
		want int64
	}{
		{vm.Str("abcd"), 4},
		{vm.Object([]any{1, 2, 3}), 3},
		{vm.Object(map[string]any{"a": 1}), 1},
	}
	for _, tt := range lenTests {
		got, err := d.CallFunction("len", []vm.Value{tt.arg})
		if err != nil {
			t.Fatalf("len(%s): %v", tt.arg, err)
		}
		if !got.Equal(vm.Int(tt.want)) {
			t.Fatalf("len(%s) = %s, want %d", tt.arg, got, tt.want)
		}
	}
	if _, err := d.CallFunction("len", []vm.Value{vm.Int(5)}); err == nil {
		t.Fatal("len(int) resolved")
	}

	strTests := []struct {
		arg  vm.Value
		want string
	}{
		{vm.Int(42), "42"},
		{vm.Str("x"), "x"},
		{vm.Bool(true), "True"},
		{vm.None(), "None"},
		{vm.Float(1.5), "1.5"},
	}
	for _, tt := range strTests {
		got, _ := d.CallFunction("str", []vm.Value{tt.arg})
		if !got.Equal(vm.Str(tt.want)) {
			t.Fatalf("str(%s) = %s, want %q", tt.arg, got, tt.want)
		}
	}

	i, err := d.CallFunction("int", []vm.Value{vm.Str(" 17 ")})
	if err != nil || !i.Equal(vm.Int(17)) {
		t.Fatalf(`int(" 17 ") = %s, %v`, i, err)
	}
	i, _ = d.CallFunction("int", []vm.Value{vm.Float(3.9)})
	if !i.Equal(vm.Int(3)) {
		t.Fatalf("int(3.9) = %s", i)
	}
	if _, err := d.CallFunction("int", []vm.Value{vm.Str("nope")}); err == nil {
		t.Fatal(`int("nope") resolved`)
	}

	f2, _ := d.CallFunction("float", []vm.Value{vm.Int(2)})
	if !f2.Equal(vm.Float(2)) {
		t.Fatalf("float(2) = %s", f2)
	}

	if _, err := d.CallFunction("mystery", nil); err == nil {
		t.Fatal("unknown function resolved")
	}
}

func TestTruthy(t *testing.T) {
	d := NewDispatcher(NewEntryFrame(nil, nil, nil))

	tests := []struct {
		v    vm.Value
		want bool
	}{
		{vm.Object([]any{}), false},
		{vm.Object([]any{1}), true},
		{vm.Object(map[string]any{}), false},
		{vm.Object(map[string]any{"a": 1}), true},
		{vm.Object(struct{}{}), true},
		{vm.Object(nil), false},
	}
	for _, tt := range tests {
		if got := d.Truthy(tt.v); got != tt.want {
			t.Fatalf("Truthy(%s) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestToValue(t *testing.T) {
	tests := []struct {
		in   any
		kind vm.Kind
	}{
		{nil, vm.KindNone},
		{true, vm.KindBool},
		{7, vm.KindInt},
		{int64(7), vm.KindInt},
		{uint32(7), vm.KindInt},
		{3.5, vm.KindFloat},
		{float32(3.5), vm.KindFloat},
		{"s", vm.KindString},
		{[]any{1}, vm.KindObject},
		{map[string]any{}, vm.KindObject},
	}
	for _, tt := range tests {
		if got := ToValue(tt.in).Kind(); got != tt.kind {
			t.Fatalf("ToValue(%T) = %s, want %s", tt.in, got, tt.kind)
		}
	}
}
