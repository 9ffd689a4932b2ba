// Package logging configures the process-wide zerolog logger. Components
// derive their own logger from the root via With().Str("component", ...).
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for the given application environment.
// Dev gets human-readable console output; everything else gets JSON lines
// on stderr with RFC3339 timestamps.
func New(appEnv string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if strings.EqualFold(appEnv, "dev") {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
