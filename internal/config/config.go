package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration for the server and the terminal client.
type Config struct {
	ListenAddr     string
	DBDriver       string
	DBDSN          string
	FeedBaseURL    string
	FeedToken      string
	UserAgent      string
	ClusterSize    int
	StaleLockAfter time.Duration
	RequestTimeout time.Duration
	LogLevel       slog.Level
	LogFormat      string

	// Client side.
	APIURL      string
	StatePath   string
	RevealDelay time.Duration
	TimedTotal  time.Duration
}

// FromEnv creates a configuration instance sourced from environment variables.
// A .env file in the working directory is loaded first when present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:     getEnv("CHRONODLE_LISTEN_ADDR", ":8080"),
		DBDriver:       getEnv("CHRONODLE_DB_DRIVER", "sqlite"),
		DBDSN:          getEnv("CHRONODLE_DB_DSN", "chronodle.db"),
		FeedBaseURL:    getEnv("CHRONODLE_FEED_BASE_URL", "https://api.wikimedia.org"),
		FeedToken:      getEnv("CHRONODLE_FEED_TOKEN", ""),
		UserAgent:      getEnv("CHRONODLE_USER_AGENT", "chronodle/1.0 (https://github.com/chronodle/chronodle)"),
		ClusterSize:    20,
		RequestTimeout: 60 * time.Second,
		LogLevel:       slog.LevelInfo,
		LogFormat:      getEnv("CHRONODLE_LOG_FORMAT", "text"),
		APIURL:         getEnv("CHRONODLE_API_URL", "http://localhost:8080"),
		StatePath:      getEnv("CHRONODLE_STATE_PATH", "chronodle-state.db"),
		RevealDelay:    1500 * time.Millisecond,
		TimedTotal:     60 * time.Second,
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("CHRONODLE_DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("CHRONODLE_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if size := os.Getenv("CHRONODLE_CLUSTER_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 2 {
			return Config{}, fmt.Errorf("parse CHRONODLE_CLUSTER_SIZE: want an integer >= 2, got %q", size)
		}
		cfg.ClusterSize = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CHRONODLE_STALE_LOCK_AFTER", &cfg.StaleLockAfter},
		{"CHRONODLE_REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"CHRONODLE_REVEAL_DELAY", &cfg.RevealDelay},
		{"CHRONODLE_TIMED_TOTAL", &cfg.TimedTotal},
	}
	for _, d := range durations {
		raw := os.Getenv(d.key)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil || v < 0 {
			return Config{}, fmt.Errorf("parse %s: want a non-negative duration, got %q", d.key, raw)
		}
		*d.dst = v
	}

	if level := os.Getenv("CHRONODLE_LOG_LEVEL"); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return Config{}, fmt.Errorf("parse CHRONODLE_LOG_LEVEL: %w", err)
		}
	}

	return cfg, nil
}

// Logger builds the process logger described by the config.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
