// internal/logging/logging.go
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"ai-orchestrator/internal/config"
)

// New builds the process logger. Output goes to stdout and, when a log file
// is configured, also to a size-rotated file.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}
	return NewWithWriter(w, cfg), closer
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Zap returns a zap logger for libraries that only accept one (the etcd
// client). It logs JSON to stderr at the application level, but never
// below warn, since the etcd client is chatty at info.
func Zap(cfg config.LogConfig) *zap.Logger {
	level := zapcore.WarnLevel
	if ParseLevel(cfg.Level) >= slog.LevelError {
		level = zapcore.ErrorLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	l, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("etcd")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
