// Package logging builds the zerolog logger shared by codecollab commands.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls logger output.
type Config struct {
	Level  string `env:"CODECOLLAB_LOG_LEVEL"  envDefault:"info"`
	Format string `env:"CODECOLLAB_LOG_FORMAT" envDefault:"json"`
}

// New returns a logger tagged with service and installs it as the zerolog
// global logger so packages logging through zerolog/log share its output.
func New(cfg Config, service string) zerolog.Logger {
	return NewWithWriter(cfg, service, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg Config, service string, w io.Writer) zerolog.Logger {
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", strings.TrimSpace(service)).
		Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
