// Package logger provides the verbosity-gated structured logger used by the
// kernel shim. Verbosity runs from 0 (errors and final diagnostics only) to 4
// (per-chunk payload dumps); it is purely observational and is never consulted
// for control-flow decisions.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// MaxVerbosity is the highest meaningful verbosity level.
const MaxVerbosity = 4

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// String returns the string representation of the field
func (f Field) String() string {
	return fmt.Sprintf("%s=%v", f.Key, f.Value)
}

// Logger interface for structured, verbosity-gated logging
type Logger interface {
	// Error logs regardless of verbosity.
	Error(msg string, fields ...Field)
	// Info logs at verbosity >= 1.
	Info(msg string, fields ...Field)
	// Verbose logs when the configured verbosity is at least level.
	Verbose(level int, msg string, fields ...Field)
	// Verbosity returns the configured verbosity level.
	Verbosity() int
	WithComponent(component string) Logger
	WithFields(fields ...Field) Logger
}

// SimpleLogger provides a simple implementation of Logger
type SimpleLogger struct {
	verbosity int
	component string
	fields    []Field
	logger    *log.Logger
}

// NewSimpleLogger creates a new simple logger writing to output
func NewSimpleLogger(verbosity int, output io.Writer) *SimpleLogger {
	if output == nil {
		output = os.Stdout
	}
	if verbosity > MaxVerbosity {
		verbosity = MaxVerbosity
	}

	return &SimpleLogger{
		verbosity: verbosity,
		logger:    log.New(output, "", 0), // We'll handle timestamps ourselves
		fields:    make([]Field, 0),
	}
}

// NewDefaultLogger creates a logger with verbosity 0 on stdout
func NewDefaultLogger() *SimpleLogger {
	return NewSimpleLogger(0, os.Stdout)
}

// Verbosity returns the configured verbosity level
func (l *SimpleLogger) Verbosity() int {
	return l.verbosity
}

// WithComponent returns a new logger with a component field
func (l *SimpleLogger) WithComponent(component string) Logger {
	return &SimpleLogger{
		verbosity: l.verbosity,
		component: component,
		fields:    l.fields,
		logger:    l.logger,
	}
}

// WithFields returns a new logger with additional fields
func (l *SimpleLogger) WithFields(fields ...Field) Logger {
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)

	return &SimpleLogger{
		verbosity: l.verbosity,
		component: l.component,
		fields:    newFields,
		logger:    l.logger,
	}
}

// Error logs a message regardless of verbosity
func (l *SimpleLogger) Error(msg string, fields ...Field) {
	l.log("ERROR", msg, fields...)
}

// Info logs a message at verbosity >= 1
func (l *SimpleLogger) Info(msg string, fields ...Field) {
	l.Verbose(1, msg, fields...)
}

// Verbose logs a message when the configured verbosity is at least level
func (l *SimpleLogger) Verbose(level int, msg string, fields ...Field) {
	if l.verbosity < level {
		return
	}
	l.log("INFO", msg, fields...)
}

// log handles the actual logging
func (l *SimpleLogger) log(levelStr, msg string, fields ...Field) {
	// Build the log message
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	// Start with timestamp and level
	logMsg := fmt.Sprintf("[%s] %s", timestamp, levelStr)

	// Add component if present
	if l.component != "" {
		logMsg += fmt.Sprintf(" [%s]", l.component)
	}

	// Add the main message
	logMsg += fmt.Sprintf(" %s", msg)

	// Add persistent fields
	allFields := make([]Field, len(l.fields)+len(fields))
	copy(allFields, l.fields)
	copy(allFields[len(l.fields):], fields)

	// Add fields if present
	if len(allFields) > 0 {
		fieldStrs := make([]string, len(allFields))
		for i, field := range allFields {
			fieldStrs[i] = field.String()
		}
		logMsg += fmt.Sprintf(" {%s}", strings.Join(fieldStrs, ", "))
	}

	// Output the log message
	l.logger.Println(logMsg)
}

// Helper functions for creating fields
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Hex renders value as lowercase hex, for payload dumps at high verbosity
func Hex(key string, value []byte) Field {
	return Field{Key: key, Value: fmt.Sprintf("%x", value)}
}
