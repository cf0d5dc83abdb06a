// Package logging provides structured logging setup for the CRM.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global zerolog logger.
// Dev mode uses a human-readable console writer; prod uses JSON.
func Setup(devMode bool) {
	setup(os.Stdout, devMode)
}

func setup(out io.Writer, devMode bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	if devMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
