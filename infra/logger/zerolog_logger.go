package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

var (
	defaultsMu    sync.RWMutex
	defaultLevel  string
	defaultFormat string
)

// Configure sets the level and format ("json" or "console") used by
// loggers created afterwards. Empty values fall back to LOG_LEVEL and
// APP_ENV.
func Configure(level, format string) {
	defaultsMu.Lock()
	defaultLevel, defaultFormat = level, format
	defaultsMu.Unlock()
}

func settings() (level string, console bool) {
	defaultsMu.RLock()
	level, format := defaultLevel, defaultFormat
	defaultsMu.RUnlock()
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if format == "" {
		return level, strings.EqualFold(os.Getenv("APP_ENV"), "dev")
	}
	return level, format == "console"
}

// NewZerologLogger creates a ZerologLogger writing to stdout. All logs carry
// the component field.
func NewZerologLogger(component string) Logger {
	level, console := settings()
	var out io.Writer = os.Stdout
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(out, component, level)
}

// NewWithWriter creates a ZerologLogger on w. An empty or unknown level
// means info.
func NewWithWriter(w io.Writer, component, level string) *ZerologLogger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

// With returns a child logger tagged with a sub-component.
func (l *ZerologLogger) With(key, value string) *ZerologLogger {
	return &ZerologLogger{log: l.log.With().Str(key, value).Logger()}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
