package program

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire format, version 1. All scalars are little-endian; strings and byte
// streams are u32-length-prefixed; lists are u32-count-prefixed.
//
//	Program   { version:u32, sampling:f32, pool:ConstantPool, probes:[Probe] }
//	Pool      { count:u32, entries: (tag:u8 + payload)* }
//	Probe     { id:string, spec:ProbeSpec, predicate:bytes, body:bytes }
//	ProbeSpec { provider:u8, specifier:string, target:u8, offset:u32 }
//
// The layout is deliberately dumb: every field is length-delimited so the
// same logical schema can be restated in any length-delimited encoding
// without touching the data model.

// Encode writes the program to w in wire format.
func Encode(p *Program, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, p.Version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, p.Sampling); err != nil {
		return err
	}
	if err := writeConstants(w, p.Pool.Entries()); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.Probes))); err != nil {
		return err
	}
	for i, pb := range p.Probes {
		if err := writeProbe(w, pb); err != nil {
			return fmt.Errorf("probe %d: %w", i, err)
		}
	}
	return nil
}

// Serialize encodes the program to a byte slice.
func Serialize(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(p, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a program from r, validating version, constant tags and
// bytecode operand ranges. Any failure is a *DecodeError.
func Decode(r io.Reader) (*Program, error) {
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, truncated("version", err)
	}
	if version != Version {
		return nil, &DecodeError{Kind: DecodeIncompatibleVersion, Message: fmt.Sprintf("wire version %d, reader supports %d", version, Version)}
	}

	var sampling float32
	if err := binary.Read(r, binary.LittleEndian, &sampling); err != nil {
		return nil, truncated("sampling rate", err)
	}

	pool, err := readConstants(r)
	if err != nil {
		return nil, err
	}

	var probeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &probeCount); err != nil {
		return nil, truncated("probe count", err)
	}
	probes := make([]*Probe, 0, probeCount)
	for i := uint32(0); i < probeCount; i++ {
		pb, err := readProbe(r)
		if err != nil {
			return nil, err
		}
		probes = append(probes, pb)
	}

	p := &Program{Version: version, Sampling: sampling, Pool: pool, Probes: probes}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Deserialize decodes a program from a byte slice.
func Deserialize(data []byte) (*Program, error) {
	return Decode(bytes.NewReader(data))
}

func writeConstants(w io.Writer, entries []Constant) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}
	for i, c := range entries {
		if err := writeConstant(w, c); err != nil {
			return fmt.Errorf("constant %d: %w", i, err)
		}
	}
	return nil
}

func writeConstant(w io.Writer, c Constant) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(c.Kind)); err != nil {
		return err
	}
	switch c.Kind {
	case ConstInt:
		return binary.Write(w, binary.LittleEndian, c.Int)
	case ConstFloat:
		return binary.Write(w, binary.LittleEndian, c.Flt)
	case ConstString, ConstIdentifier, ConstField, ConstFunction:
		return writeString(w, c.Str)
	case ConstBool:
		var b byte
		if c.Bool {
			b = 1
		}
		return binary.Write(w, binary.LittleEndian, b)
	case ConstNone:
		return nil
	default:
		return fmt.Errorf("unsupported constant kind %d", c.Kind)
	}
}

func readConstants(r io.Reader) (*ConstantPool, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, truncated("constant count", err)
	}
	if count > MaxPoolSize {
		return nil, &DecodeError{Kind: DecodeIndexOutOfRange, Message: fmt.Sprintf("constant pool declares %d entries, max is %d", count, MaxPoolSize)}
	}
	pool := &ConstantPool{entries: make([]Constant, 0, count)}
	for i := uint32(0); i < count; i++ {
		c, err := readConstant(r)
		if err != nil {
			return nil, err
		}
		pool.entries = append(pool.entries, c)
	}
	pool.rebuildIndex()
	return pool, nil
}

func readConstant(r io.Reader) (Constant, error) {
	var tag uint8
	if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
		return Constant{}, truncated("constant tag", err)
	}
	kind := ConstKind(tag)
	c := Constant{Kind: kind}
	switch kind {
	case ConstInt:
		if err := binary.Read(r, binary.LittleEndian, &c.Int); err != nil {
			return Constant{}, truncated("int constant", err)
		}
	case ConstFloat:
		if err := binary.Read(r, binary.LittleEndian, &c.Flt); err != nil {
			return Constant{}, truncated("float constant", err)
		}
	case ConstString, ConstIdentifier, ConstField, ConstFunction:
		s, err := readString(r)
		if err != nil {
			return Constant{}, err
		}
		c.Str = s
	case ConstBool:
		var b byte
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return Constant{}, truncated("bool constant", err)
		}
		c.Bool = b != 0
	case ConstNone:
		// tag only
	default:
		return Constant{}, &DecodeError{Kind: DecodeBadTag, Message: fmt.Sprintf("unknown constant tag 0x%02x", tag)}
	}
	return c, nil
}

func writeProbe(w io.Writer, pb *Probe) error {
	if err := writeString(w, pb.ID); err != nil {
		return err
	}
	if err := writeSpec(w, pb.Spec); err != nil {
		return err
	}
	if err := writeBytes(w, pb.Predicate); err != nil {
		return err
	}
	return writeBytes(w, pb.Body)
}

func readProbe(r io.Reader) (*Probe, error) {
	id, err := readString(r)
	if err != nil {
		return nil, err
	}
	spec, err := readSpec(r)
	if err != nil {
		return nil, err
	}
	predicate, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	body, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	return &Probe{ID: id, Spec: spec, Predicate: predicate, Body: body}, nil
}

func writeSpec(w io.Writer, s ProbeSpec) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(s.Provider)); err != nil {
		return err
	}
	if err := writeString(w, s.Specifier); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(s.Target)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, s.Offset)
}

func readSpec(r io.Reader) (ProbeSpec, error) {
	var s ProbeSpec
	var provider uint8
	if err := binary.Read(r, binary.LittleEndian, &provider); err != nil {
		return s, truncated("probe provider", err)
	}
	if provider > uint8(ProviderPy) {
		return s, &DecodeError{Kind: DecodeBadTag, Message: fmt.Sprintf("unknown provider tag %d", provider)}
	}
	s.Provider = Provider(provider)

	specifier, err := readString(r)
	if err != nil {
		return s, err
	}
	s.Specifier = specifier

	var target uint8
	if err := binary.Read(r, binary.LittleEndian, &target); err != nil {
		return s, truncated("probe target", err)
	}
	if target > uint8(TargetExitOffset) {
		return s, &DecodeError{Kind: DecodeBadTag, Message: fmt.Sprintf("unknown target tag %d", target)}
	}
	s.Target = Target(target)

	if err := binary.Read(r, binary.LittleEndian, &s.Offset); err != nil {
		return s, truncated("probe offset", err)
	}
	return s, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, truncated("length prefix", err)
	}
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, truncated("payload", err)
	}
	return buf, nil
}

func truncated(what string, err error) *DecodeError {
	return &DecodeError{Kind: DecodeTruncated, Message: fmt.Sprintf("reading %s: %v", what, err)}
}
