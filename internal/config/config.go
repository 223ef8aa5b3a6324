package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the support chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	FeedbackWindow           time.Duration
	JanitorInterval          time.Duration
	MetricsNamespace         string
	LogLevel                 string
	DefaultLanguage          string

	AllowAnyOrigin bool

	AIResponderMode       string
	AIResponderURL        string
	AIResponderTimeout    time.Duration
	AIResponderMaxRetries int

	DatabaseURL      string
	TicketStore      string
	TicketSQLitePath string

	QueueRefreshSchedule string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "helpdesk"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		DefaultLanguage:  strings.ToLower(envOrDefault("APP_DEFAULT_LANGUAGE", "en")),
		AllowAnyOrigin:   false,
		AIResponderMode:  strings.ToLower(envOrDefault("AI_RESPONDER_MODE", "auto")),
		AIResponderURL:   stringsTrimSpace("AI_RESPONDER_URL"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		TicketStore:      strings.ToLower(envOrDefault("TICKET_STORE", "auto")),
		TicketSQLitePath: envOrDefault("TICKET_SQLITE_PATH", "data/tickets.db"),
		// Waiting customers see their position move without reconnecting.
		QueueRefreshSchedule:     envOrDefault("QUEUE_REFRESH_SCHEDULE", "@every 15s"),
		AIResponderMaxRetries:    2,
		AIResponderTimeout:       20 * time.Second,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		FeedbackWindow:           10 * time.Minute,
		JanitorInterval:          30 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FeedbackWindow, err = durationFromEnv("APP_FEEDBACK_WINDOW", cfg.FeedbackWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AIResponderTimeout, err = durationFromEnv("AI_RESPONDER_TIMEOUT", cfg.AIResponderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AIResponderMaxRetries, err = intFromEnv("AI_RESPONDER_MAX_RETRIES", cfg.AIResponderMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.FeedbackWindow <= 0 {
		return Config{}, fmt.Errorf("APP_FEEDBACK_WINDOW must be positive")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("APP_JANITOR_INTERVAL must be positive")
	}
	if cfg.AIResponderTimeout <= 0 {
		return Config{}, fmt.Errorf("AI_RESPONDER_TIMEOUT must be positive")
	}
	if cfg.AIResponderMaxRetries < 0 {
		return Config{}, fmt.Errorf("AI_RESPONDER_MAX_RETRIES must be >= 0")
	}
	switch cfg.AIResponderMode {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid AI_RESPONDER_MODE: %q (expected auto|http|mock)", cfg.AIResponderMode)
	}
	if cfg.AIResponderMode == "http" && cfg.AIResponderURL == "" {
		return Config{}, fmt.Errorf("AI_RESPONDER_MODE=http requires AI_RESPONDER_URL")
	}
	switch cfg.TicketStore {
	case "auto", "memory", "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid TICKET_STORE: %q (expected auto|memory|postgres|sqlite)", cfg.TicketStore)
	}
	if cfg.TicketStore == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("TICKET_STORE=postgres requires DATABASE_URL")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("invalid APP_LOG_LEVEL: %q", cfg.LogLevel)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
