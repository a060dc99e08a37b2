// Package hogtrace is a DTrace-inspired instrumentation facility:
// operators author small probe programs that fire on function entry and
// exit in a host application, evaluate a guard, and emit structured
// capture events.
//
// The package covers the probe compiler pipeline (source, syntax tree,
// bytecode program with a shared constant pool) and the stack-machine
// evaluator that runs probe predicates and action bodies against
// host-supplied execution frames. Host-language specifics are confined
// to the Dispatcher contract; the evaluator itself treats every host
// value as opaque.
//
// A minimal round trip:
//
//	prog, err := hogtrace.Compile(`fn:orders.checkout:entry { capture(arg0); }`)
//	if err != nil { ... }
//
//	store := hogtrace.NewRequestStore(hogtrace.NewRequestID())
//	frame := hogtrace.NewEntryFrame([]any{42}, nil, nil)
//	batch := hogtrace.ExecuteProbe(prog, prog.Probes[0], hogtrace.NewDispatcher(frame), store)
//
// batch is nil when the probe does not fire (sampled out or predicate
// false). Probe execution never returns an error to the host: runtime
// failures coerce predicates to false and abort bodies, keeping the
// captures already emitted.
//
// Compiled programs serialize to a stable little-endian wire format via
// Serialize/Deserialize, so control planes can compile once and ship
// bytecode to fleets of hosts.
//
// For engines that want operational visibility — structured logs per
// execution, Prometheus metrics, OpenTelemetry spans — construct an
// Engine instead of calling the package-level functions.
package hogtrace
