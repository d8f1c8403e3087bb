package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/linuxautomates/gitsei-sub041/internal/config"
)

// New logs to the console in dev and JSON elsewhere, and installs the logger
// as the zerolog global.
func New(cfg config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.AppEnv == "dev" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Str("service", "sprintsync").Logger()
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
		logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "sprintsync").Logger()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = logger
	return logger
}
