package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/seantiz/procjoin/internal/model"
)

const (
	defaultListenAddr = ":8080"
	defaultBackend    = model.BackendSubprocess
	defaultLogLevel   = slog.LevelWarn

	envListenAddr = "PROCJOIN_LISTEN_ADDR"
	envLogLevel   = "PROCJOIN_LOG_LEVEL"
	envBackend    = "PROCJOIN_BACKEND"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	LogLevel   slog.Level
	Backend    string
}

// Load reads configuration from environment variables with sensible defaults.
// The default log level is warn, so a successful run prints nothing.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		LogLevel:   defaultLogLevel,
		Backend:    defaultBackend,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv(envBackend); v != "" {
		cfg.Backend = v
	}

	return cfg
}

// ParseLogLevel maps a level name to a slog.Level, falling back to warn.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultLogLevel
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
