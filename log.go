package strata

import (
	"context"
	"log/slog"
)

// Logger is the manager-level log sink (spec §6: "a log sink with
// severity ∈ {Debug, Info, Warning, Fatal}"). Fatal is modeled as Error:
// this façade never calls os.Exit on the caller's behalf.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// slogLogger adapts *slog.Logger to Logger, the same default the
// teacher's cmd/vybe wires via slog.SetDefault with a JSON handler.
type slogLogger struct{ l *slog.Logger }

// NewSlogLogger wraps l as a Logger. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Log(context.Background(), slog.LevelDebug, msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Log(context.Background(), slog.LevelInfo, msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Log(context.Background(), slog.LevelWarn, msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Log(context.Background(), slog.LevelError, msg, args...) }

// noopLogger discards everything; the Manager's zero-value default when
// Config.Logger is nil.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
