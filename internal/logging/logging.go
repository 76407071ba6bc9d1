// Package logging provides the leveled console logger used throughout the
// client: a thin wrapper over the standard log package with color-coded
// warn/error output, in the style of the kcptun-family tools in the
// retrieval pack (github.com/fatih/color for highlighting, log.Fatal for
// unrecoverable setup errors).
package logging

import (
	"log"
	"os"

	"github.com/fatih/color"
)

// Level controls which messages Logger.Debugf emits.
type Level int

const (
	LevelInfo Level = iota
	LevelDebug
)

// Logger is a small leveled logger writing to stderr with timestamps.
// Create one with New; the zero value has no underlying log.Logger and is
// not usable.
type Logger struct {
	level Level
	std   *log.Logger
}

// New creates a Logger writing to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{
		level: level,
		std:   log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// Infof logs an informational message unconditionally.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.std.Printf(format, args...)
}

// Debugf logs only when the logger's level is LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level < LevelDebug {
		return
	}
	l.std.Printf(format, args...)
}

// Warnf logs a highlighted warning: a datagram-local or session-local
// failure that is handled and does not stop the client (spec.md §7).
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.std.Print(color.YellowString(format, args...))
}

// Errorf logs a highlighted error that is still non-fatal.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.std.Print(color.RedString(format, args...))
}

// Fatalf logs a highlighted fatal error and exits the process. Reserved for
// programmer-fatal conditions such as an RDP send rejection (spec.md §7).
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.std.Fatal(color.New(color.FgRed, color.Bold).Sprintf(format, args...))
}
