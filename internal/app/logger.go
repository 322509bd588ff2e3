package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger shared by the API server and
// the sync worker. LOG_FORMAT=json switches to JSON output for log shipping;
// anything else gets the text handler.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
}
