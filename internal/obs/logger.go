// Package obs provides the structured logging used by every terminal.
//
// It wraps logrus with the same output-routing strategy the rest of this
// codebase uses elsewhere: error-and-above records go to stderr, everything
// else to stdout, so a container log collector can treat the two streams
// differently without parsing message bodies.
package obs

import (
	"bytes"
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// level, without needing to parse structured fields twice.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	for _, lvl := range []string{"error", "fatal", "panic"} {
		if bytes.Contains(p, []byte("level="+lvl)) || bytes.Contains(p, []byte(`"level":"`+lvl+`"`)) {
			return os.Stderr.Write(p)
		}
	}
	return os.Stdout.Write(p)
}

// Config controls how a Logger is constructed.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, text
	Machine string
	Role    string // sampler, executor, writer
}

// New builds a logrus.Logger configured per Config, writing through the
// stdout/stderr splitter and stamping machine_id/terminal_role on every
// entry via WithFields at the call site (see Logger.Base).
func New(cfg Config) *Logger {
	l := logrus.New()
	l.SetOutput(OutputSplitter{})

	switch cfg.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &Logger{
		raw: l,
		base: logrus.Fields{
			"machine_id":    cfg.Machine,
			"terminal_role": cfg.Role,
		},
	}
}

// Logger is a context-carrying wrapper around logrus, mirroring the shape
// of a ContextLogger: a fixed set of base fields plus optional per-call
// fields, never string-interpolated into the message body.
type Logger struct {
	raw  *logrus.Logger
	base logrus.Fields
}

// Base returns a logrus.Entry pre-populated with machine_id/terminal_role.
func (l *Logger) Base() *logrus.Entry {
	return l.raw.WithFields(l.base)
}

// WithFields extends the base fields for one log statement.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Base().WithFields(fields)
}

// WithProcess attaches process_id and step_sequence, used throughout the
// recipe executor's per-step logging.
func (l *Logger) WithProcess(processID string, stepSequence int) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"process_id":    processID,
		"step_sequence": stepSequence,
	})
}

// WithError attaches err under the conventional logrus error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Base().WithError(err)
}

type ctxKey struct{}

// WithContext stores the logger on ctx so deeply nested calls can recover
// it without threading an explicit parameter through every signature.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext recovers a logger stored by WithContext, or a fresh
// info-level JSON logger if none was set — callers never need a nil check.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return New(Config{Level: "info", Format: "json", Role: "unknown"})
}
