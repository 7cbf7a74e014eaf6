// Package logging constructs the server's zerolog.Logger, grounded on the
// teacher's cmd/ehr-server/main.go logger setup: JSON to stdout normally,
// a human-readable console writer in development.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a logger for the given environment name ("development" gets a
// ConsoleWriter; anything else gets structured JSON).
func New(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
