// Package logging builds the slog handlers used by the daemon.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Levels lists the accepted level names.
var Levels = []string{"trace", "debug", "info", "warn", "error"}

// ValidLevel reports whether name is an accepted level.
func ValidLevel(name string) bool {
	switch strings.ToLower(name) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// HandlerText returns a human-readable handler. Debug and trace add
// timestamps; trace also reports the caller.
func HandlerText(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}

	reportCaller := false
	reportTimestamp := false
	lvl := log.InfoLevel
	switch strings.ToLower(level) {
	case "trace":
		reportCaller = true
		reportTimestamp = true
		lvl = log.DebugLevel
	case "debug":
		reportTimestamp = true
		lvl = log.DebugLevel
	case "warn", "warning":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	}

	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: reportTimestamp,
		ReportCaller:    reportCaller,
		Level:           lvl,
	})
}

// HandlerJSON returns a JSON handler. Trace adds source locations.
func HandlerJSON(level string, w io.Writer) slog.Handler {
	if w == nil {
		w = os.Stderr
	}

	addSource := false
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "trace":
		addSource = true
		lvl = slog.LevelDebug
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: addSource})
}

// New returns a logger writing to w in format ("text" or "json") at level.
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	if !ValidLevel(level) {
		return nil, fmt.Errorf("unknown log level %q (want one of %s)", level, strings.Join(Levels, ", "))
	}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(HandlerText(level, w)), nil
	case "json":
		return slog.New(HandlerJSON(level, w)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}
