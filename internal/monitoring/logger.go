// Package monitoring holds the process-wide diagnostic logger used by the
// converter, the batch runner and the command line.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose toggles Debugf output.
func SetVerbose(v bool) {
	verbose.Store(v)
}

// Debugf logs through Logf only when verbose output is enabled.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf("[debug] "+format, v...)
	}
}

// DebugLogger adapts Debugf to the Debugf-only logger interfaces taken by
// subprocess runners.
type DebugLogger struct{}

// Debugf forwards to the package Debugf.
func (DebugLogger) Debugf(format string, args ...interface{}) {
	Debugf(format, args...)
}
