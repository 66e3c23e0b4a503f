// Package logger configures the daemon's own slog output: a text handler
// on stderr (optionally colorized) and, when a file is configured, a
// rotated JSON log via lumberjack.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the daemon log file.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Setup installs the process-wide default slog logger and returns a
// closer for the rotated file writer, if any.
func Setup(level, file string, color bool) (io.Closer, error) {
	lv := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lv}

	var stderrHandler slog.Handler
	if color {
		stderrHandler = NewColorTextHandler(os.Stderr, opts, true)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}

	if file == "" {
		slog.SetDefault(slog.New(stderrHandler))
		return nil, nil
	}

	rot := &lj.Logger{
		Filename:   file,
		MaxSize:    DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAge:     DefaultMaxAgeDays,
	}
	fileHandler := slog.NewJSONHandler(rot, opts)
	slog.SetDefault(slog.New(newTeeHandler(stderrHandler, fileHandler)))
	return rot, nil
}

func parseLevel(s string) slog.Level {
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
