// Package monitoring holds the session runtime's log streams.
//
// Three streams are kept apart so the render loop can stay quiet in
// production while lifecycle and failures remain visible:
//
//   - ops: actionable failures (init, update, dispose, attachment errors)
//   - diag: lifecycle (register, unregister, attach, detach)
//   - trace: per-frame telemetry
package monitoring

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	opsLogger   atomic.Pointer[log.Logger]
	diagLogger  atomic.Pointer[log.Logger]
	traceLogger atomic.Pointer[log.Logger]
)

func init() {
	SetLogWriters(os.Stderr, os.Stderr, nil)
}

// SetLogWriters configures the three logging streams. Pass nil for any writer
// to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger.Store(newLogger("[xr] ", ops))
	diagLogger.Store(newLogger("[xr] ", diag))
	traceLogger.Store(newLogger("[xr] ", trace))
}

// SetLevel maps a level name onto the three streams, all written to w.
// "error" keeps ops only, "info" adds diag, "debug" adds trace.
// Unknown levels behave like "info".
func SetLevel(level string, w io.Writer) {
	switch level {
	case "error", "warn":
		SetLogWriters(w, nil, nil)
	case "debug", "trace":
		SetLogWriters(w, w, w)
	case "off":
		SetLogWriters(nil, nil, nil)
	default:
		SetLogWriters(w, w, nil)
	}
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	if l := opsLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	if l := diagLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	if l := traceLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream is live, so hot paths can
// skip argument formatting entirely.
func TraceEnabled() bool {
	return traceLogger.Load() != nil
}
