package hogtrace

import (
	"github.com/google/uuid"

	"github.com/hogtrace/hogtrace/internal/compiler"
	"github.com/hogtrace/hogtrace/internal/host"
	"github.com/hogtrace/hogtrace/internal/program"
	"github.com/hogtrace/hogtrace/internal/reqstore"
	"github.com/hogtrace/hogtrace/internal/vm"
)

// Core types re-exported from the internal packages.
type (
	// Program is an immutable compiled probe program.
	Program = program.Program
	// Probe is one compiled probe within a program.
	Probe = program.Probe
	// ProbeSpec names the instrumentation point a probe attaches to.
	ProbeSpec = program.ProbeSpec

	// Value is the evaluator's runtime value.
	Value = vm.Value
	// Dispatcher is the host-language binding contract.
	Dispatcher = vm.Dispatcher
	// RequestStore holds the request-scoped slots behind $req.name.
	RequestStore = vm.RequestStore
	// CaptureBatch is the result of one fired probe body.
	CaptureBatch = vm.CaptureBatch
	// CaptureEvent is one emitted capture record.
	CaptureEvent = vm.CaptureEvent
	// Limits bounds one probe execution.
	Limits = vm.Limits
	// ExecOptions parameterizes one probe execution.
	ExecOptions = vm.ExecOptions

	// Frame is the reference host binding's invocation snapshot.
	Frame = host.Frame
	// DispatcherOption configures the reference host dispatcher.
	DispatcherOption = host.Option
)

// WithRand overrides the uniform source behind rand() on the reference
// host dispatcher; hosts pin it for deterministic sampling in tests.
var WithRand = host.WithRand

// WithClock overrides the clock behind timestamp() on the reference host
// dispatcher.
var WithClock = host.WithClock

// Compile compiles probe source into an immutable Program with the
// default sampling rate of 1.0.
func Compile(source string) (*Program, error) {
	return compiler.Compile(source)
}

// CompileWithSampling compiles probe source with a global sampling rate
// in [0,1]; out-of-range rates are clamped.
func CompileWithSampling(source string, rate float32) (*Program, error) {
	return compiler.Compile(source, compiler.WithSampling(rate))
}

// Serialize encodes a program to its wire format.
func Serialize(p *Program) ([]byte, error) {
	return program.Serialize(p)
}

// Deserialize decodes a program from its wire format, validating the
// version, constant tags and bytecode operand ranges.
func Deserialize(data []byte) (*Program, error) {
	return program.Deserialize(data)
}

// Disassemble renders a probe's bytecode stream for debugging.
func Disassemble(p *Program, code []byte) string {
	return program.Disassemble(p.Pool, code)
}

// ExecuteProbe runs one probe against a host frame wrapped in disp and
// the request's store. It returns nil when the probe does not fire;
// runtime failures never surface as Go errors.
func ExecuteProbe(p *Program, pb *Probe, disp Dispatcher, store RequestStore, opts ...ExecOptions) *CaptureBatch {
	var o ExecOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	return vm.ExecuteProbe(p, pb, disp, store, o)
}

// NewRequestID returns a fresh request correlation id.
func NewRequestID() string {
	return uuid.NewString()
}

// NewRequestStore returns an in-memory request store bound to requestID.
// It is for hosts that pin each request to one goroutine; use
// NewSharedRequestStore otherwise.
func NewRequestStore(requestID string) *reqstore.Store {
	return reqstore.New(requestID)
}

// NewSharedRequestStore returns a mutex-guarded request store for hosts
// that fan one request across goroutines.
func NewSharedRequestStore(requestID string) *reqstore.Shared {
	return reqstore.NewShared(requestID)
}

// NewEntryFrame builds a reference-host frame for an entry probe.
func NewEntryFrame(args []any, kwargs map[string]any, self any) *Frame {
	return host.NewEntryFrame(args, kwargs, self)
}

// NewExitFrame builds a reference-host frame for an exit probe.
func NewExitFrame(args []any, kwargs map[string]any, self any, retval, exception any) *Frame {
	return host.NewExitFrame(args, kwargs, self, retval, exception)
}

// NewDispatcher wraps a reference-host frame for one probe execution.
func NewDispatcher(frame *Frame, opts ...host.Option) Dispatcher {
	return host.NewDispatcher(frame, opts...)
}
