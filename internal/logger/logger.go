// Package logger sets up the daemon's global slog logger and the handful of
// attribute helpers every component uses to log about a machine consistently
// (spec §4.8's "mac" and "component" fields appear the same way from the
// registry and the HTTP surface).
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/bootwake/bootwaked/internal/boot"
)

var Log *slog.Logger

// Init initializes the global logger
func Init(level string, logFile string) error {
	// Parse log level
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelDebug
	}

	// Set up multi-writer (stdout + file)
	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	multiWriter := io.MultiWriter(writers...)

	// Create handler with custom options
	handler := slog.NewTextHandler(multiWriter, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten time format
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

// Mac renders a boot.MacAddress as the "mac" attr every log line about a
// specific host uses, so grepping logs for one host means grepping one
// string regardless of which component emitted the line.
func Mac(mac boot.MacAddress) slog.Attr {
	return slog.String("mac", mac.String())
}

// Component tags log as belonging to a named subsystem (registry, daemon,
// httpapi) so every line it emits carries "component" without repeating the
// attr at each call site. base is nil-safe: a nil base falls back to Log,
// or slog.Default() if Init hasn't run.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = Log
	}
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", name)
}
