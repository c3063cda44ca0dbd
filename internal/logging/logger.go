// internal/logging/logger.go
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config selects level, format and destination.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Logger wraps zerolog.Logger so components can share one configured writer.
type Logger struct {
	zerolog.Logger
}

// New builds a logger from cfg, tagging every record with service and version.
func New(cfg Config, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg Config, version string, w io.Writer) *Logger {
	if strings.ToLower(cfg.Format) == "text" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "2006-01-02T15:04:05.000Z07:00"}
	}

	zl := zerolog.New(w).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "pzem-poller").
		Str("version", version).
		Logger()

	return &Logger{Logger: zl}
}

// With returns a child logger with extra default fields given as key/value pairs.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{Logger: l.Logger.With().Fields(keyvals).Logger()}
}

// Default is used before configuration is loaded.
func Default() *Logger {
	return New(Config{Level: "info", Format: "text", Output: "stderr"}, "dev")
}

// Discard drops everything. Intended for tests.
func Discard() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ShouldLogStreak throttles repeated failure logs: the 1st, 5th, 10th, 30th,
// 60th, 120th and 300th consecutive failure, then every 600th.
func ShouldLogStreak(streak int) bool {
	switch streak {
	case 1, 5, 10, 30, 60, 120, 300:
		return true
	}
	return streak > 0 && streak%600 == 0
}
