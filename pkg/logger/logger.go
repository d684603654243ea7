// Package logger provides the structured logger used across the SDK.
//
// It is a thin wrapper around zerolog so that packages depend on the
// small Logger interface rather than on a concrete logging library.
package logger

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Logger accepts a message followed by alternating key/value pairs,
// e.g. log.Debug("merged entity", "id", id, "action", action).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type zeroLogger struct {
	z zerolog.Logger
}

// New returns a Logger writing JSON lines to w.
func New(w io.Writer) Logger {
	return &zeroLogger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// NewWithLevel returns a Logger writing to w that drops events below level.
func NewWithLevel(w io.Writer, level zerolog.Level) Logger {
	return &zeroLogger{z: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zeroLogger{z: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, args ...any) { emit(l.z.Debug(), msg, args) }
func (l *zeroLogger) Info(msg string, args ...any)  { emit(l.z.Info(), msg, args) }
func (l *zeroLogger) Warn(msg string, args ...any)  { emit(l.z.Warn(), msg, args) }
func (l *zeroLogger) Error(msg string, args ...any) { emit(l.z.Error(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	if len(args)%2 != 0 {
		ev = ev.Interface("arg", args[len(args)-1])
	}
	ev.Msg(msg)
}
