// Package logobs provides the engine's structured logging facade: a
// component/field-based Logger API (WithComponent, WithField) built on
// zerolog rather than a hand-rolled formatter.
package logobs

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level is a small DebugLevel/InfoLevel/WarnLevel/ErrorLevel hierarchy,
// translated to zerolog's level type at construction time.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config configures a Logger.
type Config struct {
	Level     Level
	Output    io.Writer
	Pretty    bool
	Component string
}

// DefaultConfig returns JSON output to stdout at InfoLevel, the engine's
// production default.
func DefaultConfig() Config {
	return Config{Level: InfoLevel, Output: os.Stdout}
}

// Logger wraps a zerolog.Logger behind a component/field vocabulary so
// call sites read the same way regardless of which backend renders them.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	var w io.Writer = out
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: out}
	}
	z := zerolog.New(w).Level(cfg.Level.zerolog()).With().Timestamp().Logger()
	if cfg.Component != "" {
		z = z.With().Str("component", cfg.Component).Logger()
	}
	return Logger{z: z}
}

// WithComponent returns a Logger tagging every message with component.
func (l Logger) WithComponent(component string) Logger {
	return Logger{z: l.z.With().Str("component", component).Logger()}
}

// WithField returns a Logger tagging every message with one extra field.
func (l Logger) WithField(key string, value interface{}) Logger {
	return Logger{z: l.z.With().Interface(key, value).Logger()}
}

// Zerolog exposes the underlying zerolog.Logger for components (like
// pkg/engine) that accept a zerolog.Logger directly.
func (l Logger) Zerolog() zerolog.Logger { return l.z }

func (l Logger) Debug(msg string) { l.z.Debug().Msg(msg) }
func (l Logger) Info(msg string)  { l.z.Info().Msg(msg) }
func (l Logger) Warn(msg string)  { l.z.Warn().Msg(msg) }
func (l Logger) Error(msg string, err error) {
	l.z.Error().Err(err).Msg(msg)
}
