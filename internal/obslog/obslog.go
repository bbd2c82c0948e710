// Package obslog is the ambient structured-logging layer. It wraps
// logrus the way nabbar-golib's logger package wraps it: an immutable
// Fields map threaded through every call site, emitted through a single
// shared logrus.Logger instance.
package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is an immutable map of structured log attributes. Add/Merge
// return a new Fields value so callers can fork a base field set per
// component without aliasing.
type Fields map[string]interface{}

func NewFields() Fields {
	return make(Fields)
}

func (f Fields) clone() Fields {
	res := make(Fields, len(f))
	for k, v := range f {
		res[k] = v
	}
	return res
}

func (f Fields) Add(key string, val interface{}) Fields {
	res := f.clone()
	res[key] = val
	return res
}

func (f Fields) Merge(other Fields) Fields {
	if len(other) == 0 {
		return f
	}
	res := f.clone()
	for k, v := range other {
		res[k] = v
	}
	return res
}

func (f Fields) Logrus() logrus.Fields {
	return logrus.Fields(f.clone())
}

// Logger is the ambient sink every STACS component logs through.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing to stderr, at Debug level when debug is
// true and Info otherwise, using logrus's default text formatter.
func New(debug bool) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &Logger{entry: logrus.NewEntry(l)}
}

// With returns a Logger whose every subsequent line carries fields
// merged onto the parent's own fields.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields.Logrus())}
}

// Warn logs a recoverable condition: the scan continues.
func (l *Logger) Warn(msg string, fields Fields) {
	l.entry.WithFields(fields.Logrus()).Warn(msg)
}

// Error logs a fatal condition. Callers still own process exit - this
// only records the line, per spec.md §7's "log ERROR and exit" contract.
func (l *Logger) Error(msg string, fields Fields) {
	l.entry.WithFields(fields.Logrus()).Error(msg)
}

// Debug logs a diagnostic line, visible only when New was called with
// debug=true.
func (l *Logger) Debug(msg string, fields Fields) {
	l.entry.WithFields(fields.Logrus()).Debug(msg)
}
