package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is a custom slog level below [slog.LevelDebug]. It carries
// wire-level payloads: the full JSON sent to and received from the model
// provider, and raw MCP tool arguments and results.
//
// The value -8 sits one step below Debug on slog's spacing of four,
// matching the trace level other slog extensions use. Expect very large
// log lines when it is enabled.
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts a case-insensitive string to an [slog.Level].
//
// Accepted values:
//   - "trace": [LevelTrace], model and tool payloads
//   - "debug": [slog.LevelDebug], per-query and per-tool detail
//   - "info" or "": [slog.LevelInfo], query lifecycle and startup
//   - "warn" or "warning": [slog.LevelWarn]
//   - "error": [slog.LevelError]
//
// Surrounding whitespace is ignored. Any other value is an error naming
// the valid choices; config validation and the --log-level flag both
// report it unchanged.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLogLevelNames is an [slog.HandlerOptions.ReplaceAttr] function
// that renders [LevelTrace] as "TRACE". slog has no name for custom
// levels and would print "DEBUG-4".
//
// Install it on every handler the process builds:
//
//	slog.NewJSONHandler(w, &slog.HandlerOptions{
//	    Level:       config.LevelTrace,
//	    ReplaceAttr: config.ReplaceLogLevelNames,
//	})
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
