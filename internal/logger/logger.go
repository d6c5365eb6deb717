package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Logger defines the interface for application logging.
type Logger interface {
	Info(message string, fields ...interface{})
	InfoWithBlankLine(message string, fields ...interface{})
	Warn(message string, fields ...interface{})
	WarnWithBlankLine(message string, fields ...interface{})
	Error(message string, fields ...interface{})
	ErrorWithBlankLine(message string, fields ...interface{})
	Debug(message string, fields ...interface{})
	DebugWithBlankLine(message string, fields ...interface{})
	Success(message string, fields ...interface{})
	SuccessWithBlankLine(message string, fields ...interface{})
	Highlight(message string, fields ...interface{})
	HighlightWithBlankLine(message string, fields ...interface{})
	Fatal(message string, fields ...interface{})              // Terminates with os.Exit(1)
	FatalWithBlankLine(message string, fields ...interface{}) // Terminates with os.Exit(1)
}

// Level is the minimum severity a ColorLogger prints.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config value to a Level. Unknown values fall back to info.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	infoColor      = color.New(color.FgGreen).SprintFunc()
	warnColor      = color.New(color.FgYellow).SprintFunc()
	errorColor     = color.New(color.FgRed).SprintFunc()
	debugColor     = color.New(color.FgCyan).SprintFunc()
	successColor   = color.New(color.FgGreen, color.Bold).SprintFunc()
	highlightColor = color.New(color.FgMagenta).SprintFunc()

	timeColor   = color.New(color.FgWhite).SprintFunc()
	fileColor   = color.New(color.FgBlue).SprintFunc()
	boldColor   = color.New(color.Bold).SprintFunc()
	moduleColor = color.New(color.FgMagenta, color.Bold).SprintFunc()
)

// ColorLogger implements the Logger interface with colored console output.
type ColorLogger struct {
	level Level
	mu    sync.Mutex
	out   io.Writer
}

// NewColorLogger creates a ColorLogger writing info and above to stdout.
func NewColorLogger() Logger {
	return NewColorLoggerWithLevel(LevelInfo, color.Output)
}

// NewColorLoggerWithLevel creates a ColorLogger with an explicit minimum level and sink.
// Watchers log from their own goroutines, so writes are serialized.
func NewColorLoggerWithLevel(level Level, out io.Writer) Logger {
	if out == nil {
		out = os.Stdout
	}
	return &ColorLogger{level: level, out: out}
}

// Info logs an informational message.
func (l *ColorLogger) Info(message string, fields ...interface{}) {
	l.printMessage(LevelInfo, infoColor("INFO"), message, false, fields...)
}

// InfoWithBlankLine logs an informational message and adds a blank line after it.
func (l *ColorLogger) InfoWithBlankLine(message string, fields ...interface{}) {
	l.printMessage(LevelInfo, infoColor("INFO"), message, true, fields...)
}

// Warn logs a warning message.
func (l *ColorLogger) Warn(message string, fields ...interface{}) {
	l.printMessage(LevelWarn, warnColor("WARN"), message, false, fields...)
}

// WarnWithBlankLine logs a warning message and adds a blank line after it.
func (l *ColorLogger) WarnWithBlankLine(message string, fields ...interface{}) {
	l.printMessage(LevelWarn, warnColor("WARN"), message, true, fields...)
}

// Error logs an error message.
func (l *ColorLogger) Error(message string, fields ...interface{}) {
	l.printMessage(LevelError, errorColor("ERROR"), message, false, fields...)
}

// ErrorWithBlankLine logs an error message and adds a blank line after it.
func (l *ColorLogger) ErrorWithBlankLine(message string, fields ...interface{}) {
	l.printMessage(LevelError, errorColor("ERROR"), message, true, fields...)
}

// Debug logs a debug message.
func (l *ColorLogger) Debug(message string, fields ...interface{}) {
	l.printMessage(LevelDebug, debugColor("DEBUG"), message, false, fields...)
}

// DebugWithBlankLine logs a debug message and adds a blank line after it.
func (l *ColorLogger) DebugWithBlankLine(message string, fields ...interface{}) {
	l.printMessage(LevelDebug, debugColor("DEBUG"), message, true, fields...)
}

// Success logs a success message.
func (l *ColorLogger) Success(message string, fields ...interface{}) {
	l.printMessage(LevelInfo, successColor("SUCCESS"), message, false, fields...)
}

// SuccessWithBlankLine logs a success message and adds a blank line after it.
func (l *ColorLogger) SuccessWithBlankLine(message string, fields ...interface{}) {
	l.printMessage(LevelInfo, successColor("SUCCESS"), message, true, fields...)
}

// Highlight logs a highlighted message.
func (l *ColorLogger) Highlight(message string, fields ...interface{}) {
	l.printMessage(LevelInfo, highlightColor("HIGHLIGHT"), message, false, fields...)
}

// HighlightWithBlankLine logs a highlighted message and adds a blank line after it.
func (l *ColorLogger) HighlightWithBlankLine(message string, fields ...interface{}) {
	l.printMessage(LevelInfo, highlightColor("HIGHLIGHT"), message, true, fields...)
}

// Fatal logs a fatal error message and terminates the program.
func (l *ColorLogger) Fatal(message string, fields ...interface{}) {
	l.printMessage(LevelError, errorColor("FATAL"), message, false, fields...)
	os.Exit(1)
}

// FatalWithBlankLine logs a fatal error message, adds a blank line, and terminates.
func (l *ColorLogger) FatalWithBlankLine(message string, fields ...interface{}) {
	l.printMessage(LevelError, errorColor("FATAL"), message, true, fields...)
	os.Exit(1)
}

// printMessage is the internal function for formatting and printing the log message.
func (l *ColorLogger) printMessage(level Level, label, message string, addBlankLine bool, fields ...interface{}) {
	if level < l.level {
		return
	}
	line := l.formatMessage(label, message, fields...) + l.formatFields(fields...)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, line)
	if addBlankLine {
		fmt.Fprintln(l.out)
	}
}

// formatCaller returns information about the call site (file:line)
func (l *ColorLogger) formatCaller() string {
	_, file, line, ok := runtime.Caller(4)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// extractServiceModule extracts service and module info from key-value fields
func (l *ColorLogger) extractServiceModule(fields ...interface{}) (string, string) {
	var service, module string

	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value, ok := fields[i+1].(string)
		if !ok {
			continue
		}

		switch key {
		case "service":
			service = value
		case "module":
			module = value
		}
	}

	return service, module
}

// formatMessage formats the log message prefix including time, caller, level, and context.
func (l *ColorLogger) formatMessage(label, message string, fields ...interface{}) string {
	service, module := l.extractServiceModule(fields...)

	contextInfo := ""
	switch {
	case service != "" && module != "":
		contextInfo = fmt.Sprintf(" %s[%s:%s]", moduleColor(""), service, module)
	case service != "":
		contextInfo = fmt.Sprintf(" %s[%s]", moduleColor(""), service)
	case module != "":
		contextInfo = fmt.Sprintf(" %s[%s]", moduleColor(""), module)
	}

	return fmt.Sprintf("%s %s %s%s %s",
		timeColor(time.Now().Format("2006-01-02 15:04:05")),
		fileColor(l.formatCaller()),
		label,
		contextInfo,
		message)
}

// formatFields formats all additional key-value fields.
func (l *ColorLogger) formatFields(fields ...interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok || key == "service" || key == "module" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", boldColor(key), fields[i+1])
	}
	return b.String()
}
