// Package logging configures the process-wide diagnostic logger. Logs go to
// stderr so the report on stdout stays clean for piping.
package logging

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New returns a logger writing to stderr, with console formatting when
// stderr is a terminal. Verbose enables debug-level output; otherwise only
// warnings and errors are emitted.
func New(verbose bool) zerolog.Logger {
	out := os.Stderr

	var zl zerolog.Logger
	if isatty.IsTerminal(out.Fd()) {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		zl = zerolog.New(out).With().Timestamp().Logger()
	}

	if verbose {
		return zl.Level(zerolog.DebugLevel)
	}
	return zl.Level(zerolog.WarnLevel)
}
