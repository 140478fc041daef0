package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Config controls the output of the logger shared by all pipeline stages.
type Config struct {
	Level  Level
	Output io.Writer
}

// Logger is a thin wrapper around zerolog so that callers are not tied to a
// particular logging library.
type Logger struct {
	logger zerolog.Logger
	level  Level
}

func NewLogger(c Config) *Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}

	return &Logger{
		logger: zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
			Level(zerologLevel(c.Level)).
			With().Timestamp().Logger(),
		level: c.Level,
	}
}

// NewDiscardLogger returns a logger that drops everything. Used by tests and
// as the default for builders constructed without WithLogger.
func NewDiscardLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("name", name).Logger(),
		level:  l.level,
	}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func (l *Logger) Level() Level {
	return l.level
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
