// Package telemetry provides CIS's ambient logging, metrics, and
// health/status surface. Logging wraps zerolog the way cuemby-warren's
// pkg/log wraps it: a process-wide base logger configured once, and
// component-scoped child loggers handed to each subsystem.
package telemetry

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	baseOnce sync.Once
	base     zerolog.Logger
)

// Init configures the process-wide base logger. Safe to call once;
// later calls are no-ops so tests and the real daemon entrypoint can
// both call it without coordinating.
func Init(level zerolog.Level, pretty bool) {
	baseOnce.Do(func() {
		var w = os.Stdout
		if pretty {
			base = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger().Level(level)
			return
		}
		base = zerolog.New(w).With().Timestamp().Logger().Level(level)
	})
}

// Component returns a child logger tagged with the given component name.
// Subsystems call this once at construction and hold the result.
func Component(name string) zerolog.Logger {
	baseOnce.Do(func() {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	return base.With().Str("component", name).Logger()
}
