package main

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/christophersiem/little-moments/internal/config"
)

// newLogger builds a text logger on stderr whose level follows level. When
// cfg.File is set, records are also written to a size-rotated file; the
// returned closer closes it.
func newLogger(cfg config.LogConfig, level *slog.LevelVar, stderr io.Writer) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(stderr, opts)), nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return slog.New(slog.NewTextHandler(io.MultiWriter(stderr, file), opts)), file
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
