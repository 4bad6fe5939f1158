// Package logger provides the structured, tag-pair logging interface used
// throughout the router. It intentionally stays a thin wrapper: components
// log facts ("span dropped", "plan cache miss") with key/value tags rather
// than formatted prose, so a host can swap in any backend.
package logger

import (
	"fmt"
	"io"
	"os"
)

// Logger takes in a message and tag pairs.
type Logger interface {
	Debug(msg string, tags ...interface{})
	Info(msg string, tags ...interface{})
	Warn(msg string, tags ...interface{})
	Error(msg string, tags ...interface{})

	// With returns a logger that prepends the given tags to every entry.
	// Used to attach request_id/trace_id context without threading it
	// through every call site.
	With(tags ...interface{}) Logger
}

type logger struct {
	out      io.Writer
	baseTags []interface{}
}

// New creates a logger that writes to stdout.
func New() Logger { return &logger{out: os.Stdout} }

// NewWriter creates a logger that writes to an arbitrary writer, mainly for tests.
func NewWriter(w io.Writer) Logger { return &logger{out: w} }

func (l *logger) print(level, msg string, tags ...interface{}) {
	all := make([]interface{}, 0, len(l.baseTags)+len(tags)+1)
	all = append(all, msg)
	all = append(all, l.baseTags...)
	all = append(all, tags...)
	fmt.Fprintln(l.out, level, all)
}

// Debug creates a debug log entry.
func (l *logger) Debug(msg string, tags ...interface{}) { l.print("debug", msg, tags...) }

// Info creates an info log entry.
func (l *logger) Info(msg string, tags ...interface{}) { l.print("info", msg, tags...) }

// Warn creates a warn log entry.
func (l *logger) Warn(msg string, tags ...interface{}) { l.print("warn", msg, tags...) }

// Error creates an error log entry.
func (l *logger) Error(msg string, tags ...interface{}) { l.print("error", msg, tags...) }

func (l *logger) With(tags ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.baseTags)+len(tags))
	merged = append(merged, l.baseTags...)
	merged = append(merged, tags...)
	return &logger{out: l.out, baseTags: merged}
}
