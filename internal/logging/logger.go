// Package logging builds the broker's *slog.Logger from
// config.LoggingConfig: a stdout handler plus, when a file path is
// configured, a lumberjack-rotated main log file and a second
// lumberjack-rotated file for warn-and-above records, fanned out to by a single
// multiHandler whose branches each carry their own minimum level.
// Adapted from the teacher's internal/logging, which splits the same
// way between "syntrix.log" (all levels) and "errors.log" (warn+).
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arces-wot/sepa/internal/config"
)

// New builds a *slog.Logger from cfg. Call Close on the returned
// closer during shutdown to flush and release any rotated log files.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	branches := []branch{{handler: newHandler(os.Stdout, cfg.Format, opts), minLevel: level}}

	var closers multiCloser
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		branches = append(branches, branch{handler: newHandler(rotated, cfg.Format, opts), minLevel: level})
		closers = append(closers, rotated)

		errRotated := &lumberjack.Logger{
			Filename:   errorLogPath(cfg.File),
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		branches = append(branches, branch{handler: newHandler(errRotated, cfg.Format, opts), minLevel: slog.LevelWarn})
		closers = append(closers, errRotated)
	}

	var handler slog.Handler
	if len(branches) == 1 {
		handler = branches[0].handler
	} else {
		handler = newMultiHandler(branches...)
	}

	var closer io.Closer = nopCloser{}
	if len(closers) > 0 {
		closer = closers
	}
	return slog.New(handler), closer, nil
}

// errorLogPath derives the error-only log's filename from the main
// log's, e.g. "sepa.log" -> "sepa-errors.log".
func errorLogPath(mainPath string) string {
	ext := filepath.Ext(mainPath)
	base := strings.TrimSuffix(mainPath, ext)
	return base + "-errors" + ext
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// multiCloser closes every rotated log file, returning the first
// error encountered but still attempting to close the rest.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
