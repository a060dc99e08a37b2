package hogtrace

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hogtrace/hogtrace/internal/compiler"
	"github.com/hogtrace/hogtrace/internal/config"
	"github.com/hogtrace/hogtrace/internal/logging"
	"github.com/hogtrace/hogtrace/internal/metrics"
	"github.com/hogtrace/hogtrace/internal/observability"
	"github.com/hogtrace/hogtrace/internal/vm"
)

// Config is the engine configuration. See internal/config for field
// documentation; DefaultEngineConfig returns the defaults.
type Config = config.Config

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *Config {
	return config.DefaultConfig()
}

// LoadConfig loads the engine configuration from a JSON or YAML file and
// applies HOGTRACE_* environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// Engine is the instrumented front door: it compiles and executes like
// the package-level functions, and additionally records a structured log
// line per execution, Prometheus metrics, and OpenTelemetry spans. One
// Engine represents one host session; its id is stamped on every capture
// batch.
//
// Engine methods are safe for concurrent use. Probe executions on
// different goroutines must use different request stores unless the
// store is a shared one.
type Engine struct {
	cfg       *config.Config
	sessionID string
	logger    *logging.Logger
}

// NewEngine builds an engine from cfg (nil means defaults), initializing
// structured logging, metrics and tracing according to it.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	logging.Configure(cfg.Logging.Format, cfg.Logging.Level)
	if cfg.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Metrics.Namespace, nil)
	}
	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	}); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		logger:    logging.Default(),
	}
	logging.Op().Info("engine ready", "session_id", e.sessionID)
	return e, nil
}

// SessionID returns the engine's session correlation id.
func (e *Engine) SessionID() string { return e.sessionID }

// Shutdown flushes telemetry.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Close()
	return observability.Shutdown(ctx)
}

// Compile compiles probe source with the engine's default sampling rate,
// recording compile metrics and a span.
func (e *Engine) Compile(ctx context.Context, source string) (*Program, error) {
	_, span := observability.StartCompile(ctx)

	prog, err := compiler.Compile(source, compiler.WithSampling(e.cfg.Sampling.Rate))
	metrics.Global().RecordCompile(err == nil)
	if err != nil {
		observability.EndCompile(span, 0, err)
		return nil, err
	}
	observability.EndCompile(span, len(prog.Probes), nil)
	return prog, nil
}

// ExecuteProbe runs one probe with the engine's limits and records the
// execution in the probe log, metrics and a span. requestID correlates
// the capture batch with the host request; the same id must be used for
// every probe sharing the request's store.
func (e *Engine) ExecuteProbe(ctx context.Context, p *Program, pb *Probe, disp Dispatcher, store RequestStore, requestID string) *CaptureBatch {
	_, span := observability.StartExecute(ctx, e.sessionID, requestID, pb.ID, pb.Spec.String())

	start := time.Now()
	batch := vm.ExecuteProbe(p, pb, disp, store, vm.ExecOptions{
		SessionID: e.sessionID,
		RequestID: requestID,
		Limits: vm.Limits{
			StackDepth:      e.cfg.Limits.StackDepth,
			MaxInstructions: e.cfg.Limits.MaxInstructions,
			MaxCaptureBytes: e.cfg.Limits.MaxCaptureBytes,
		},
	})
	durationUs := time.Since(start).Microseconds()

	fired := batch != nil
	captures := 0
	errMsg := ""
	if fired {
		captures = len(batch.Events)
		if len(batch.Errors) > 0 {
			errMsg = batch.Errors[0].Error()
		}
	}

	metrics.Global().RecordExecution(pb.ID, durationUs, fired, captures, errMsg != "")
	if errMsg != "" {
		logging.ForExecution(e.sessionID, requestID, pb.ID).Warn("probe body aborted", "error", errMsg)
	}
	e.logger.Log(&logging.ProbeLog{
		SessionID:  e.sessionID,
		RequestID:  requestID,
		ProbeID:    pb.ID,
		Spec:       pb.Spec.String(),
		DurationUs: durationUs,
		Fired:      fired,
		Captures:   captures,
		Error:      errMsg,
	})

	observability.EndExecute(span, fired, captures)
	return batch
}
