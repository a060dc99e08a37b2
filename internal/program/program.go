package program

import (
	"encoding/binary"
	"fmt"
)

// Version is the only wire-format version this implementation reads and
// writes. Readers fail with IncompatibleVersion on anything else.
const Version uint32 = 1

// Provider identifies the probe provider namespace.
type Provider uint8

const (
	ProviderFn Provider = iota
	ProviderPy
)

// String returns the surface-syntax spelling of the provider.
func (p Provider) String() string {
	switch p {
	case ProviderFn:
		return "fn"
	case ProviderPy:
		return "py"
	default:
		return fmt.Sprintf("provider(%d)", uint8(p))
	}
}

// Target identifies the instrumentation point within a function.
type Target uint8

const (
	TargetEntry Target = iota
	TargetExit
	TargetEntryOffset
	TargetExitOffset
)

// String returns the surface-syntax spelling of the target.
func (t Target) String() string {
	switch t {
	case TargetEntry:
		return "entry"
	case TargetExit:
		return "exit"
	case TargetEntryOffset:
		return "entry+"
	case TargetExitOffset:
		return "exit+"
	default:
		return fmt.Sprintf("target(%d)", uint8(t))
	}
}

// ProbeSpec names the instrumentation point a probe attaches to.
type ProbeSpec struct {
	Provider  Provider
	Specifier string // dotted module path, optional trailing "*" wildcard
	Target    Target
	Offset    uint32 // meaningful for the offset targets only
}

// String renders the spec in surface syntax, e.g. "fn:m.f:entry+3".
func (s ProbeSpec) String() string {
	switch s.Target {
	case TargetEntryOffset:
		return fmt.Sprintf("%s:%s:entry+%d", s.Provider, s.Specifier, s.Offset)
	case TargetExitOffset:
		return fmt.Sprintf("%s:%s:exit+%d", s.Provider, s.Specifier, s.Offset)
	default:
		return fmt.Sprintf("%s:%s:%s", s.Provider, s.Specifier, s.Target)
	}
}

// Probe is one compiled probe: its spec plus two independent linear
// bytecode streams. An empty predicate stream means always-true. Both
// streams are immutable once the Program is emitted.
type Probe struct {
	ID        string // stable fingerprint assigned at compile time
	Spec      ProbeSpec
	Predicate []byte
	Body      []byte
}

// Program is the immutable compiled unit: a shared constant pool, an
// ordered probe list, and the global sampling rate in [0,1]. Programs are
// safe to share across goroutines.
type Program struct {
	Version  uint32
	Sampling float32
	Pool     *ConstantPool
	Probes   []*Probe
}

// New returns an empty program shell with the current version and a fresh
// pool. The compiler populates it.
func New() *Program {
	return &Program{Version: Version, Sampling: 1.0, Pool: NewPool()}
}

// Validate walks every bytecode stream checking that opcodes are known
// and operand indices stay inside the constant pool. Decode runs it so a
// malformed wire payload is rejected before it ever reaches a VM.
func (p *Program) Validate() error {
	for _, pb := range p.Probes {
		if err := p.validateStream(pb.ID, "predicate", pb.Predicate); err != nil {
			return err
		}
		if err := p.validateStream(pb.ID, "body", pb.Body); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) validateStream(probeID, which string, code []byte) error {
	ip := 0
	for ip < len(code) {
		op := Opcode(code[ip])
		width := op.OperandWidth()
		if width < 0 {
			return &DecodeError{Kind: DecodeBadTag, Message: fmt.Sprintf("probe %s %s: unknown opcode 0x%02x at offset %d", probeID, which, byte(op), ip)}
		}
		if ip+1+width > len(code) {
			return &DecodeError{Kind: DecodeTruncated, Message: fmt.Sprintf("probe %s %s: truncated operand at offset %d", probeID, which, ip)}
		}
		switch op {
		case OpPushConst, OpLoadVar, OpStoreVar, OpLoadReq, OpStoreReq, OpGetAttr, OpCallFunc:
			idx := binary.LittleEndian.Uint16(code[ip+1:])
			if int(idx) >= p.Pool.Len() {
				return &DecodeError{Kind: DecodeIndexOutOfRange, Message: fmt.Sprintf("probe %s %s: constant index %d out of range at offset %d", probeID, which, idx, ip)}
			}
		}
		ip += 1 + width
	}
	return nil
}
