package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.AIResponderMode != "auto" {
		t.Fatalf("AIResponderMode = %q, want %q", cfg.AIResponderMode, "auto")
	}
	if cfg.TicketStore != "auto" {
		t.Fatalf("TicketStore = %q, want %q", cfg.TicketStore, "auto")
	}
	if cfg.DefaultLanguage != "en" {
		t.Fatalf("DefaultLanguage = %q, want %q", cfg.DefaultLanguage, "en")
	}
	if cfg.SessionInactivityTimeout != 30*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 30m", cfg.SessionInactivityTimeout)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("APP_DEFAULT_LANGUAGE", "VI")
	t.Setenv("AI_RESPONDER_MODE", "http")
	t.Setenv("AI_RESPONDER_URL", "http://localhost:7777/reply")
	t.Setenv("AI_RESPONDER_TIMEOUT", "3s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want :9191", cfg.BindAddr)
	}
	if cfg.DefaultLanguage != "vi" {
		t.Fatalf("DefaultLanguage = %q, want vi", cfg.DefaultLanguage)
	}
	if cfg.AIResponderURL != "http://localhost:7777/reply" {
		t.Fatalf("AIResponderURL = %q, want explicit value", cfg.AIResponderURL)
	}
	if cfg.AIResponderTimeout != 3*time.Second {
		t.Fatalf("AIResponderTimeout = %v, want 3s", cfg.AIResponderTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"http mode without url":  {"AI_RESPONDER_MODE": "http"},
		"unknown responder mode": {"AI_RESPONDER_MODE": "gpt"},
		"unknown ticket store":   {"TICKET_STORE": "mongo"},
		"postgres without dsn":   {"TICKET_STORE": "postgres"},
		"short inactivity":       {"APP_SESSION_INACTIVITY_TIMEOUT": "1s"},
		"bad duration":           {"APP_FEEDBACK_WINDOW": "soon"},
		"bad bool":               {"APP_ALLOW_ANY_ORIGIN": "maybe"},
		"negative retries":       {"AI_RESPONDER_MAX_RETRIES": "-1"},
		"unsupported log level":  {"APP_LOG_LEVEL": "trace"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() expected error for %v", env)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_FEEDBACK_WINDOW",
		"APP_JANITOR_INTERVAL",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_DEFAULT_LANGUAGE",
		"APP_ALLOW_ANY_ORIGIN",
		"AI_RESPONDER_MODE",
		"AI_RESPONDER_URL",
		"AI_RESPONDER_TIMEOUT",
		"AI_RESPONDER_MAX_RETRIES",
		"DATABASE_URL",
		"TICKET_STORE",
		"TICKET_SQLITE_PATH",
		"QUEUE_REFRESH_SCHEDULE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
