package vm

import (
	"time"

	"github.com/hogtrace/hogtrace/internal/program"
)

// ExecOptions parameterizes one probe execution. SessionID and RequestID
// are stamped onto the capture batch; zero Limits fields take defaults;
// a nil Clock means time.Now.
type ExecOptions struct {
	SessionID string
	RequestID string
	Limits    Limits
	Clock     func() time.Time
}

// ExecuteProbe runs one probe against a host frame (wrapped in disp) and
// the request's store. It returns nil when the probe does not fire: the
// request was sampled out, the predicate was false, or the predicate
// failed at runtime (errors coerce to false by design).
//
// A non-nil batch carries the captures emitted in source order. If the
// body hit a runtime error the batch keeps everything emitted before the
// failing instruction and records the error; nothing ever propagates to
// the host as a Go error.
func ExecuteProbe(prog *program.Program, pb *program.Probe, disp Dispatcher, store RequestStore, opts ExecOptions) *CaptureBatch {
	env := Env{
		Pool:       prog.Pool,
		Dispatcher: disp,
		Store:      store,
		Sampling:   prog.Sampling,
		Limits:     opts.Limits,
		Clock:      opts.Clock,
	}

	// Global sampling gate: one verdict per request, shared by every
	// probe via the reserved store slot. A failed draw counts as a
	// predicate failure, so the probe silently does not fire.
	if prog.Sampling < 1 {
		gate := NewExecutor(env)
		ok, err := gate.sampleVerdict(0, float64(prog.Sampling))
		if err != nil || !ok {
			return nil
		}
	}

	pred := NewExecutor(env)
	ok, _ := pred.RunPredicate(pb.Predicate)
	if !ok {
		return nil
	}

	batch := &CaptureBatch{
		SessionID: opts.SessionID,
		RequestID: opts.RequestID,
		ProbeID:   pb.ID,
	}
	if len(pb.Body) == 0 {
		return batch
	}

	body := NewExecutor(env)
	events, err := body.RunBody(pb.Body)
	batch.Events = events
	if err != nil {
		batch.Errors = append(batch.Errors, err)
	}
	return batch
}
