package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pterm/pterm"
)

// New returns a slog.Logger that prints through pterm. level is one of
// trace, debug, info, warn or error; format is "text" or "json".
func New(w io.Writer, level string, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	pl := pterm.DefaultLogger.
		WithWriter(w).
		WithLevel(lvl).
		WithTime(true).
		WithMaxWidth(1000)
	pl.TimeFormat = "02 Jan 15:04:05.000"

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		pl = pl.WithFormatter(pterm.LogFormatterColorful)
	case "json":
		pl = pl.WithFormatter(pterm.LogFormatterJSON)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return slog.New(pterm.NewSlogHandler(pl)), nil
}

func ParseLevel(level string) (pterm.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return pterm.LogLevelTrace, nil
	case "debug":
		return pterm.LogLevelDebug, nil
	case "", "info":
		return pterm.LogLevelInfo, nil
	case "warn", "warning":
		return pterm.LogLevelWarn, nil
	case "error":
		return pterm.LogLevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}
