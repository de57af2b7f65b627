// Package logging configures the zerolog logger shared by every component in the core.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/config"
)

// New builds the root logger for the process: JSON to stderr unless cfg.LogFormat is "console",
// which selects a human-readable console writer; the level is parsed from cfg.LogLevel (Info
// when it does not parse).
func New(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	return logger.Level(level)
}
