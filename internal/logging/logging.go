// Package logging builds the gateway's structured JSON logger and provides
// the size-based rotating file writer backing it when logs go to disk.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/openbid/auction-gateway/internal/config"
)

// New builds a JSON slog.Logger from the logging configuration. The returned
// closer is non-nil when output goes to a rotating file and must be closed on
// shutdown.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var w io.Writer
	var closer io.Closer

	switch cfg.Output {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log output: %w", err)
		}
		w = rw
		closer = rw
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(handler), closer, nil
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
