// Package logging configures the process-wide slog logger from LogConfig.
//
// Call sites use log/slog directly; this package only decides where records
// go (stdout, optionally tee'd into a lumberjack-rotated file), how they are
// encoded (json or text) and holds the LevelVar that config hot-reload
// adjusts.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/relaystack/relayworker/worker/internal/config"
)

var level = new(slog.LevelVar)

// Setup builds a logger from cfg, installs it as the slog default and returns
// it. The returned io.Closer releases the log file, if one was opened.
func Setup(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	return setup(cfg, os.Stdout)
}

func setup(cfg config.LogConfig, stdout io.Writer) (*slog.Logger, io.Closer) {
	level.Set(ParseLevel(cfg.Level))

	var out io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if cfg.LogToFile && cfg.FilePath != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(stdout, rot)
		closer = rot
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, closer
}

// SetLevel changes the level of every logger built by Setup.
func SetLevel(s string) {
	lv := ParseLevel(s)
	if level.Level() != lv {
		slog.Info("logging: level changed", "from", level.Level(), "to", lv)
		level.Set(lv)
	}
}

// ParseLevel maps a config string to a slog level; unknown values are Info.
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
