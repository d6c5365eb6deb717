package logger

import "io"

// NewNopLogger returns a Logger that prints nothing. Fatal still exits. Used by tests.
func NewNopLogger() Logger {
	return &ColorLogger{level: LevelError + 1, out: io.Discard}
}
