// Package logger provides the process-wide structured logger.
package logger

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default logger writing JSON lines to stdout. Safe
// to call more than once; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if debug {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		defaultLogger.Info().Msg("logger initialized")
	})
}

// Get returns the process-wide logger, initializing it at info level if
// Init has not yet been called.
func Get() *zerolog.Logger {
	Init(false)
	return &defaultLogger
}

// Worker returns a logger scoped to a single worker's lifetime, tagging
// every subsequent line with the worker's name, id, and bound model.
func Worker(name string, id int, model string) zerolog.Logger {
	return Get().With().Str("worker", name).Int("worker_id", id).Str("model", model).Logger()
}
