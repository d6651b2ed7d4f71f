package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger so components share one construction path.
type Logger struct {
	zerolog.Logger
}

func New(level string, pretty bool) *Logger {
	return NewWithWriter(os.Stdout, level, pretty)
}

func NewWithWriter(w io.Writer, level string, pretty bool) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return &Logger{Logger: l}
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Fatalf logs at error level and exits.
func (l *Logger) Fatalf(format string, args ...any) {
	l.Error().Msgf(format, args...)
	os.Exit(1)
}
