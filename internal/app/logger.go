package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	env := "development"
	if cfg != nil {
		env = cfg.AppEnv
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(w, opts)
		}
	}
	return slog.New(handler).With(slog.String("service", "societyhub"), slog.String("env", env))
}
