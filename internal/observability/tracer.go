package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// The engine emits exactly two span shapes: one around program
// compilation and one around each probe execution. The helpers below own
// those shapes end to end — names, attributes, status — so call sites
// never assemble spans by hand.

// Attribute keys for engine spans.
var (
	attrProbeID   = attribute.Key("hogtrace.probe.id")
	attrProbeSpec = attribute.Key("hogtrace.probe.spec")
	attrRequestID = attribute.Key("hogtrace.request_id")
	attrSessionID = attribute.Key("hogtrace.session_id")
	attrProbes    = attribute.Key("hogtrace.program.probes")
	attrFired     = attribute.Key("hogtrace.fired")
	attrCaptures  = attribute.Key("hogtrace.captures")
)

// StartCompile opens the span around one program compilation.
func StartCompile(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "hogtrace.compile",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndCompile closes a compile span, recording the probe count on success
// or the failure otherwise.
func EndCompile(span trace.Span, probes int, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attrProbes.Int(probes))
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartExecute opens the span around one probe execution, stamped with
// the correlation ids and the probe's instrumentation point.
func StartExecute(ctx context.Context, sessionID, requestID, probeID, spec string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "hogtrace.execute_probe",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attrSessionID.String(sessionID),
			attrRequestID.String(requestID),
			attrProbeID.String(probeID),
			attrProbeSpec.String(spec),
		),
	)
}

// EndExecute closes an execute span with the firing outcome. Runtime
// failures inside the evaluator are by design not span errors: they are
// absorbed into the capture batch, and the execution itself completed.
func EndExecute(span trace.Span, fired bool, captures int) {
	span.SetAttributes(
		attrFired.Bool(fired),
		attrCaptures.Int(captures),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}
