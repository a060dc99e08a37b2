// Package logging provides the engine's two log surfaces.
//
// The operational logger (Op, ForExecution) carries engine lifecycle and
// infrastructure events through slog; Configure rebuilds it from the
// engine's logging config, so the handler and threshold always mirror
// what the config said rather than being mutated piecemeal at run time.
//
// The probe Logger below is a separate, append-only record stream: one
// JSON line per probe execution, for offline inspection of what fired,
// what it captured and what failed. It stays quiet on the console unless
// explicitly enabled; probe execution is a hot path.
package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var op atomic.Pointer[slog.Logger]

func init() {
	op.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// Configure rebuilds the operational logger from the engine's logging
// config. format is "text" (default) or "json"; unknown levels fall back
// to info.
func Configure(format, level string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	op.Store(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Op returns the operational logger for engine lifecycle and
// infrastructure events.
func Op() *slog.Logger {
	return op.Load()
}

// ForExecution returns the operational logger scoped to one probe
// execution, carrying the correlation ids every related event should
// share.
func ForExecution(sessionID, requestID, probeID string) *slog.Logger {
	return op.Load().With(
		"session_id", sessionID,
		"request_id", requestID,
		"probe_id", probeID,
	)
}

// ProbeLog represents a single probe execution log entry.
type ProbeLog struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id,omitempty"`
	RequestID  string    `json:"request_id"`
	ProbeID    string    `json:"probe_id"`
	Spec       string    `json:"spec,omitempty"`
	DurationUs int64     `json:"duration_us"`
	Fired      bool      `json:"fired"`
	Captures   int       `json:"captures"`
	Error      string    `json:"error,omitempty"`
}

// Logger handles probe execution logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true}

// Default returns the default probe logger. Console echo is off until
// enabled.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a probe execution log entry.
func (l *Logger) Log(entry *ProbeLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	// Console output (human-readable)
	if l.console {
		status := "skip"
		if entry.Fired {
			status = fmt.Sprintf("fire captures=%d", entry.Captures)
		}
		fmt.Printf("[probe] %s %s %s %dµs\n", entry.ProbeID, entry.RequestID, status, entry.DurationUs)
		if entry.Error != "" {
			fmt.Printf("[probe]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
