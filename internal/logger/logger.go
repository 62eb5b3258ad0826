// Package logger configures the process-wide structured logger, mirroring
// the upstream gcsfuse logger: log/slog with an optional rotating file
// sink.
package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity is a logging verbosity level, matching the config surface's
// allowed values.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

func (s Severity) level() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls where and how log lines are written.
type Config struct {
	// FilePath is the destination log file. Empty means stderr.
	FilePath string
	Severity Severity
	// MaxSizeMB is the rotation threshold lumberjack enforces.
	MaxSizeMB  int
	MaxBackups int
	Format     string // "text" or "json"
}

// New builds a slog.Logger per cfg. FS-Adapter logs its error paths
// through this logger with structured fields (ino, err); Store does not
// log and returns its errors to FS-Adapter instead.
func New(cfg Config) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxSizeOrDefault(cfg.MaxSizeMB),
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}

	level := &slog.LevelVar{}
	level.Set(cfg.Severity.level())

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func maxSizeOrDefault(mb int) int {
	if mb <= 0 {
		return 100
	}
	return mb
}
