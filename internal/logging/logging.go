// Package logging initializes the process-global zerolog logger the same
// way the teacher's internal/ws.App.initLogger does, but with verbosity
// driven by a component=level filter string (spec §6's abstracted
// RUST_LOG-style variable) instead of a single environment name.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvVar is the environment variable Init reads its filter string from.
const EnvVar = "VULCAN_LOG"

// Init configures the global zerolog logger. filter is a comma-separated
// list of "component=level" pairs, e.g. "signal=debug,control=info"; a bare
// level with no "=" sets the default for every component. Unknown or empty
// filters fall back to info level with a human-readable console writer.
func Init(filter string) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw).Level(defaultLevel(filter))

	// The global level is the most verbose level the filter names anywhere,
	// so a component override below the default still reaches its logger.
	global := defaultLevel(filter)
	for _, part := range strings.Split(filter, ",") {
		if _, v, ok := strings.Cut(strings.TrimSpace(part), "="); ok {
			if lvl, err := zerolog.ParseLevel(v); err == nil && lvl < global {
				global = lvl
			}
		}
	}
	zerolog.SetGlobalLevel(global)
}

// ForComponent returns a child logger carrying the given component name and
// level override, if the process filter string names one explicitly.
func ForComponent(name, filter string) zerolog.Logger {
	level := defaultLevel(filter)
	for _, part := range strings.Split(filter, ",") {
		part = strings.TrimSpace(part)
		k, v, ok := strings.Cut(part, "=")
		if ok && k == name {
			if lvl, err := zerolog.ParseLevel(v); err == nil {
				level = lvl
			}
		}
	}
	return log.Logger.With().Str("component", name).Logger().Level(level)
}

func defaultLevel(filter string) zerolog.Level {
	for _, part := range strings.Split(filter, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.Contains(part, "=") {
			continue
		}
		if lvl, err := zerolog.ParseLevel(part); err == nil {
			return lvl
		}
	}
	return zerolog.InfoLevel
}

// FromEnv reads the EnvVar filter string, defaulting to "info" when unset.
func FromEnv() string {
	if v := os.Getenv(EnvVar); v != "" {
		return v
	}
	return "info"
}
