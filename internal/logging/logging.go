// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the default slog logger from KUBESAGE_LOG_LEVEL and
// an optional -log-level / --log-level flag (flag wins). KUBESAGE_LOG_FORMAT=json
// switches to the JSON handler.
// It returns args with the flag stripped so cobra and other parsers never see it.
func InitLogging(args []string) []string {
	return initLogging(os.Stderr, args)
}

func initLogging(w io.Writer, args []string) []string {
	levelStr := os.Getenv("KUBESAGE_LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}

	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if v, ok := flagValue(arg); ok {
			levelStr = v
			continue
		}
		if arg == "-log-level" || arg == "--log-level" {
			if i+1 < len(args) {
				levelStr = args[i+1]
				i++
			}
			continue
		}

		remaining = append(remaining, arg)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(levelStr)}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("KUBESAGE_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))

	return remaining
}

func flagValue(arg string) (string, bool) {
	for _, prefix := range []string{"--log-level=", "-log-level="} {
		if strings.HasPrefix(arg, prefix) {
			return strings.TrimPrefix(arg, prefix), true
		}
	}
	return "", false
}

// ParseLevel maps a level name to a slog.Level. Unrecognised names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
