package hogtrace_test

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hogtrace/hogtrace"
	"github.com/hogtrace/hogtrace/internal/host"
	"github.com/hogtrace/hogtrace/internal/program"
	"github.com/hogtrace/hogtrace/internal/vm"
)

func TestBasicCapture(t *testing.T) {
	prog, err := hogtrace.Compile(`fn:m.f:entry { capture(arg0); }`)
	if err != nil {
		t.Fatal(err)
	}

	store := hogtrace.NewRequestStore("req-1")
	frame := hogtrace.NewEntryFrame([]any{42}, nil, nil)
	batch := hogtrace.ExecuteProbe(prog, prog.Probes[0], hogtrace.NewDispatcher(frame), store)

	if batch == nil {
		t.Fatal("probe did not fire")
	}
	if len(batch.Events) != 1 {
		t.Fatalf("%d events, want 1", len(batch.Events))
	}
	got := batch.Events[0].Get("arg0")
	if !got.Equal(vm.Int(42)) {
		t.Fatalf("arg0 = %s, want 42", got)
	}
}

func TestPredicateFilters(t *testing.T) {
	prog, err := hogtrace.Compile(`fn:m.f:entry / arg0 == "admin" / { capture(arg0); }`)
	if err != nil {
		t.Fatal(err)
	}
	probe := prog.Probes[0]

	user := hogtrace.NewEntryFrame([]any{"user"}, nil, nil)
	if batch := hogtrace.ExecuteProbe(prog, probe, hogtrace.NewDispatcher(user), hogtrace.NewRequestStore("r1")); batch != nil {
		t.Fatalf("predicate passed for %q", "user")
	}

	admin := hogtrace.NewEntryFrame([]any{"admin"}, nil, nil)
	batch := hogtrace.ExecuteProbe(prog, probe, hogtrace.NewDispatcher(admin), hogtrace.NewRequestStore("r2"))
	if batch == nil {
		t.Fatal("predicate failed for admin")
	}
	if got := batch.Events[0].Get("arg0"); !got.Equal(vm.Str("admin")) {
		t.Fatalf("captured %s", got)
	}
}

func TestRequestScopeAcrossProbes(t *testing.T) {
	prog, err := hogtrace.Compile(`
		fn:m.f:entry { $req.t = timestamp(); }
		fn:m.f:exit { capture(dur = timestamp() - $req.t); }
	`)
	if err != nil {
		t.Fatal(err)
	}
	entry, exit := prog.Probes[0], prog.Probes[1]

	store := hogtrace.NewRequestStore("req-1")
	clock := host.WithClock(stepClock(time.Unix(1000, 0), 500*time.Millisecond))

	a := hogtrace.ExecuteProbe(prog, entry, hogtrace.NewDispatcher(hogtrace.NewEntryFrame(nil, nil, nil), clock), store)
	if a == nil {
		t.Fatal("entry probe did not fire")
	}
	b := hogtrace.ExecuteProbe(prog, exit, hogtrace.NewDispatcher(hogtrace.NewExitFrame(nil, nil, nil, nil, nil), clock), store)
	if b == nil {
		t.Fatal("exit probe did not fire")
	}
	dur := b.Events[0].Get("dur")
	f, ok := dur.AsFloat()
	if !ok || f < 0 {
		t.Fatalf("dur = %s, want non-negative float", dur)
	}
}

func TestRequestScopeMissingWriteAbortsBody(t *testing.T) {
	prog, err := hogtrace.Compile(`fn:m.f:exit { capture(dur = timestamp() - $req.t); }`)
	if err != nil {
		t.Fatal(err)
	}

	// No entry probe ran: $req.t is None, the subtraction type-mismatches,
	// the body aborts with zero captures.
	store := hogtrace.NewRequestStore("req-1")
	frame := hogtrace.NewExitFrame(nil, nil, nil, nil, nil)
	batch := hogtrace.ExecuteProbe(prog, prog.Probes[0], hogtrace.NewDispatcher(frame), store)

	if batch == nil {
		t.Fatal("empty-predicate probe must fire")
	}
	if len(batch.Events) != 0 {
		t.Fatalf("%d events captured, want 0", len(batch.Events))
	}
	if len(batch.Errors) != 1 || batch.Errors[0].Kind != vm.TypeMismatch {
		t.Fatalf("errors = %v, want one TypeMismatch", batch.Errors)
	}
}

func TestNestedAccess(t *testing.T) {
	prog, err := hogtrace.Compile(`fn:m.f:entry / len(args) > 2 && arg0.data[0]["v"] >= 100 / { capture(v = arg0.data[0]["v"]); }`)
	if err != nil {
		t.Fatal(err)
	}
	probe := prog.Probes[0]

	matching := map[string]any{
		"data": []any{map[string]any{"v": 150}},
	}
	frame := hogtrace.NewEntryFrame([]any{matching, 1, 2}, nil, nil)
	batch := hogtrace.ExecuteProbe(prog, probe, hogtrace.NewDispatcher(frame), hogtrace.NewRequestStore("r1"))
	if batch == nil {
		t.Fatal("matching structure did not fire")
	}
	if got := batch.Events[0].Get("v"); !got.Equal(vm.Int(150)) {
		t.Fatalf("v = %s", got)
	}

	// Too few args: predicate false.
	small := hogtrace.NewEntryFrame([]any{matching}, nil, nil)
	if b := hogtrace.ExecuteProbe(prog, probe, hogtrace.NewDispatcher(small), hogtrace.NewRequestStore("r2")); b != nil {
		t.Fatal("predicate passed with 1 arg")
	}

	// Shape mismatch: dispatcher error in predicate coerces to false.
	bad := hogtrace.NewEntryFrame([]any{map[string]any{"other": 1}, 1, 2}, nil, nil)
	if b := hogtrace.ExecuteProbe(prog, probe, hogtrace.NewDispatcher(bad), hogtrace.NewRequestStore("r3")); b != nil {
		t.Fatal("predicate passed on shape mismatch")
	}
}

func TestPerRequestSamplingIsUniform(t *testing.T) {
	prog, err := hogtrace.CompileWithSampling(`
		fn:m.a:entry { capture(arg0); }
		fn:m.b:entry { capture(arg0); }
		fn:m.c:exit { capture(retval); }
	`, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	run := func(u float64) int {
		store := hogtrace.NewRequestStore(hogtrace.NewRequestID())
		fired := 0
		for _, pb := range prog.Probes {
			var frame *hogtrace.Frame
			if pb.Spec.Target == program.TargetExit {
				frame = hogtrace.NewExitFrame([]any{1}, nil, nil, 7, nil)
			} else {
				frame = hogtrace.NewEntryFrame([]any{1}, nil, nil)
			}
			disp := hogtrace.NewDispatcher(frame, host.WithRand(func() float64 { return u }))
			if hogtrace.ExecuteProbe(prog, pb, disp, store) != nil {
				fired++
			}
		}
		return fired
	}

	// Verdict taken once per request: all probes fire, or none do.
	if got := run(0.2); got != len(prog.Probes) {
		t.Fatalf("u=0.2: %d of %d probes fired", got, len(prog.Probes))
	}
	if got := run(0.9); got != 0 {
		t.Fatalf("u=0.9: %d probes fired, want 0", got)
	}
}

func TestPathologicalBodyHitsInstructionCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("fn:m.f:entry { ")
	for i := 0; i < 5001; i++ {
		b.WriteString("capture(arg0); ")
	}
	b.WriteString("}")

	prog, err := hogtrace.Compile(b.String())
	if err != nil {
		t.Fatal(err)
	}

	frame := hogtrace.NewEntryFrame([]any{1}, nil, nil)
	batch := hogtrace.ExecuteProbe(prog, prog.Probes[0], hogtrace.NewDispatcher(frame), hogtrace.NewRequestStore("r1"),
		hogtrace.ExecOptions{Limits: hogtrace.Limits{MaxCaptureBytes: 1 << 20}})

	if batch == nil {
		t.Fatal("probe did not fire")
	}
	if len(batch.Errors) != 1 || batch.Errors[0].Kind != vm.LimitExceeded || batch.Errors[0].Limit != vm.LimitInstructions {
		t.Fatalf("errors = %v, want Limit(Instructions)", batch.Errors)
	}
	if len(batch.Events) == 0 || len(batch.Events) >= 5001 {
		t.Fatalf("%d events, want a partial prefix", len(batch.Events))
	}
}

func TestSerializeRoundTripEquivalence(t *testing.T) {
	source := `
		fn:api.handlers.*:entry / arg0 == "admin" && len(args) > 1 / {
			$req.start = timestamp();
			sample 25%;
			capture(user = arg0, n = len(args));
		}
		py:svc.worker.run:exit+2 { capture(retval); }
	`
	prog, err := hogtrace.Compile(source)
	if err != nil {
		t.Fatal(err)
	}

	data, err := hogtrace.Serialize(prog)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := hogtrace.Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.Version != prog.Version || decoded.Sampling != prog.Sampling {
		t.Fatal("header mismatch after round trip")
	}
	if !reflect.DeepEqual(decoded.Pool.Entries(), prog.Pool.Entries()) {
		t.Fatal("constant pool mismatch after round trip")
	}
	for i := range prog.Probes {
		if !reflect.DeepEqual(decoded.Probes[i], prog.Probes[i]) {
			t.Fatalf("probe %d mismatch after round trip", i)
		}
	}

	// The decoded program executes identically.
	frame := hogtrace.NewEntryFrame([]any{"admin", "x"}, nil, nil)
	disp := hogtrace.NewDispatcher(frame, host.WithRand(func() float64 { return 0.1 }))
	batch := hogtrace.ExecuteProbe(decoded, decoded.Probes[0], disp, hogtrace.NewRequestStore("r1"))
	if batch == nil {
		t.Fatal("decoded probe did not fire")
	}
	if got := batch.Events[0].Get("user"); !got.Equal(vm.Str("admin")) {
		t.Fatalf("user = %s", got)
	}
}

func TestEngineExecute(t *testing.T) {
	eng, err := hogtrace.NewEngine(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Shutdown(context.Background())

	prog, err := eng.Compile(context.Background(), `fn:m.f:entry { capture(arg0); }`)
	if err != nil {
		t.Fatal(err)
	}

	requestID := hogtrace.NewRequestID()
	store := hogtrace.NewRequestStore(requestID)
	frame := hogtrace.NewEntryFrame([]any{"x"}, nil, nil)
	batch := eng.ExecuteProbe(context.Background(), prog, prog.Probes[0], hogtrace.NewDispatcher(frame), store, requestID)

	if batch == nil {
		t.Fatal("probe did not fire")
	}
	if batch.SessionID != eng.SessionID() {
		t.Fatalf("batch session %q, engine session %q", batch.SessionID, eng.SessionID())
	}
	if batch.RequestID != requestID {
		t.Fatalf("batch request %q, want %q", batch.RequestID, requestID)
	}
}

func TestProbeNeverFailsHost(t *testing.T) {
	// A grab bag of hostile probes: none may surface an error from
	// ExecuteProbe.
	sources := []string{
		`fn:m.f:entry / arg0.a.b.c.d / { capture(arg0); }`,
		`fn:m.f:entry / arg5 > 0 / { capture(arg5); }`,
		`fn:m.f:entry { capture(x = arg0[99]); }`,
		`fn:m.f:entry { $req.x = 1 / 0; capture($req.x); }`,
	}
	for _, source := range sources {
		prog, err := hogtrace.Compile(source)
		if err != nil {
			t.Fatalf("Compile(%q): %v", source, err)
		}
		frame := hogtrace.NewEntryFrame([]any{[]any{1}}, nil, nil)
		// Must not panic or error; nil and partial batches are both fine.
		_ = hogtrace.ExecuteProbe(prog, prog.Probes[0], hogtrace.NewDispatcher(frame), hogtrace.NewRequestStore("r"))
	}
}

// stepClock returns a clock starting at start and advancing by step per
// call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		v := t
		t = t.Add(step)
		return v
	}
}
