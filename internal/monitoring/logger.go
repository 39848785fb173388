package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the diagnostic logger shared by every package. Tests swap it
// through SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger installs f as Logf; nil mutes logging.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}

// SetVerbose enables Debugf output.
func SetVerbose(on bool) { verbose.Store(on) }

// Verbose reports whether Debugf output is enabled.
func Verbose() bool { return verbose.Load() }

// Debugf logs per-tick detail through Logf when verbose output is on.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}

// Warnf logs a user-visible warning through Logf and counts it.
func Warnf(format string, v ...interface{}) {
	WarningsTotal.Inc()
	Logf("WARN "+format, v...)
}
