package program

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

// buildProgram assembles a small valid program by hand.
func buildProgram(t *testing.T) *Program {
	t.Helper()
	p := New()
	p.Sampling = 0.5

	idx := func(c Constant) uint16 {
		i, err := p.Pool.Add(c)
		if err != nil {
			t.Fatal(err)
		}
		return i
	}
	arg0 := idx(IdentConst("arg0"))
	admin := idx(StringConst("admin"))
	idx(FloatConst(2.5))
	idx(BoolConst(true))
	idx(NoneConst())
	idx(FieldConst("data"))
	idx(FuncConst("len"))
	idx(IntConst(-7))

	pred := []byte{byte(OpLoadVar), 0, 0, byte(OpPushConst), 0, 0, byte(OpEq), byte(OpHalt)}
	binary.LittleEndian.PutUint16(pred[1:], arg0)
	binary.LittleEndian.PutUint16(pred[4:], admin)

	body := []byte{byte(OpLoadVar), 0, 0, byte(OpCapture), 1, 0, byte(OpHalt)}
	binary.LittleEndian.PutUint16(body[1:], arg0)

	p.Probes = []*Probe{
		{
			ID:        "a1b2c3d4e5f60718",
			Spec:      ProbeSpec{Provider: ProviderFn, Specifier: "m.f", Target: TargetEntry},
			Predicate: pred,
			Body:      body,
		},
		{
			ID:   "deadbeef00112233",
			Spec: ProbeSpec{Provider: ProviderPy, Specifier: "pkg.*", Target: TargetExitOffset, Offset: 12},
		},
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	p := buildProgram(t)

	data, err := Serialize(p)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if got.Version != p.Version || got.Sampling != p.Sampling {
		t.Fatalf("header mismatch: %d/%v vs %d/%v", got.Version, got.Sampling, p.Version, p.Sampling)
	}
	if !reflect.DeepEqual(got.Pool.Entries(), p.Pool.Entries()) {
		t.Fatalf("pool mismatch:\n%v\n%v", got.Pool.Entries(), p.Pool.Entries())
	}
	if len(got.Probes) != len(p.Probes) {
		t.Fatalf("probe count %d, want %d", len(got.Probes), len(p.Probes))
	}
	for i := range p.Probes {
		if !reflect.DeepEqual(got.Probes[i], p.Probes[i]) {
			t.Fatalf("probe %d mismatch:\n%+v\n%+v", i, got.Probes[i], p.Probes[i])
		}
	}

	// Interning survives the round trip.
	if idx, err := got.Pool.Add(IdentConst("arg0")); err != nil || idx != 0 {
		t.Fatalf("re-adding arg0 after decode gave index %d, err %v", idx, err)
	}
}

func TestIncompatibleVersion(t *testing.T) {
	p := buildProgram(t)
	data, _ := Serialize(p)
	binary.LittleEndian.PutUint32(data[0:], 99)

	_, err := Deserialize(data)
	assertDecodeKind(t, err, DecodeIncompatibleVersion)
}

func TestTruncated(t *testing.T) {
	p := buildProgram(t)
	data, _ := Serialize(p)

	for _, cut := range []int{0, 3, 7, len(data) / 2, len(data) - 1} {
		_, err := Deserialize(data[:cut])
		assertDecodeKind(t, err, DecodeTruncated)
	}
}

func TestBadConstantTag(t *testing.T) {
	p := New()
	p.Pool.Add(IntConst(1))
	data, _ := Serialize(p)

	// The first constant tag sits right after version(4) + sampling(4) +
	// pool count(4).
	data[12] = 0xEE
	_, err := Deserialize(data)
	assertDecodeKind(t, err, DecodeBadTag)
}

func TestBadBytecodeOperand(t *testing.T) {
	p := New()
	idx, _ := p.Pool.Add(IdentConst("arg0"))
	code := []byte{byte(OpLoadVar), 0, 0, byte(OpHalt)}
	binary.LittleEndian.PutUint16(code[1:], idx)
	p.Probes = []*Probe{{
		ID:        "0011223344556677",
		Spec:      ProbeSpec{Provider: ProviderFn, Specifier: "m.f", Target: TargetEntry},
		Predicate: code,
	}}
	data, err := Serialize(p)
	if err != nil {
		t.Fatal(err)
	}

	// Point the LOAD_VAR operand past the pool: decode the good bytes,
	// overwrite the u16 operand after the first opcode of the predicate,
	// and re-serialize.
	good, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint16(good.Probes[0].Predicate[1:], 500)
	bad, err := Serialize(good)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Deserialize(bad)
	assertDecodeKind(t, err, DecodeIndexOutOfRange)
}

func TestUnknownOpcodeRejected(t *testing.T) {
	p := New()
	p.Probes = []*Probe{{
		ID:   "0011223344556677",
		Spec: ProbeSpec{Provider: ProviderFn, Specifier: "m.f", Target: TargetEntry},
		Body: []byte{0xEE},
	}}
	data, _ := Serialize(p)
	_, err := Deserialize(data)
	assertDecodeKind(t, err, DecodeBadTag)
}

func assertDecodeKind(t *testing.T, err error, kind DecodeErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatal("expected decode error")
	}
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error type %T, want *DecodeError", err)
	}
	if derr.Kind != kind {
		t.Fatalf("decode error kind %s, want %s: %v", derr.Kind, kind, derr)
	}
}
