// Package monitoring carries the repo-wide diagnostic loggers. The data
// path logs through these hooks so tests and embedding daemons can mute or
// redirect output without touching the protocol packages.
package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level diagnostic logger, defaulting to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var debugLogger *log.Logger

// SetDebugWriter installs a destination for verbose per-packet diagnostics.
// Pass nil to disable debug logging (the default).
func SetDebugWriter(w io.Writer) {
	if w == nil {
		debugLogger = nil
		return
	}
	debugLogger = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// Debugf logs formatted debug messages when a debug writer is configured.
func Debugf(format string, v ...interface{}) {
	if debugLogger != nil {
		debugLogger.Printf(format, v...)
	}
}
