package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q", cfg.GinMode)
	}
	if cfg.APIBasePath != "/api" {
		t.Errorf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.DBPath != "gateway.db" || cfg.SessionFolder != "sessions" {
		t.Errorf("paths: db=%q sessions=%q", cfg.DBPath, cfg.SessionFolder)
	}
	if cfg.PairingTimeout != 30*time.Second {
		t.Errorf("PairingTimeout = %v", cfg.PairingTimeout)
	}
	if cfg.WebhookTimeout != 10*time.Second {
		t.Errorf("WebhookTimeout = %v", cfg.WebhookTimeout)
	}
	if cfg.Reconnect.BaseDelay != 2*time.Second || cfg.Reconnect.MaxDelay != time.Minute || cfg.Reconnect.MaxRetries != 10 {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("IdempotencyTTL = %v", cfg.IdempotencyTTL)
	}
	if cfg.OTEL.ServiceName != "go-wa-gateway" {
		t.Errorf("OTEL.ServiceName = %q", cfg.OTEL.ServiceName)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GIN_MODE", "DEBUG")
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("PAIRING_TIMEOUT", "5s")
	t.Setenv("RECONNECT_BASE_DELAY", "500ms")
	t.Setenv("RECONNECT_MAX_DELAY", "10s")
	t.Setenv("RECONNECT_MAX_RETRIES", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com , https://b.example.com ,")
	t.Setenv("API_BASE_PATH", "gateway/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.GinMode != "debug" {
		t.Errorf("GinMode = %q", cfg.GinMode)
	}
	// "warning" normalizes to "warn"
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.PairingTimeout != 5*time.Second {
		t.Errorf("PairingTimeout = %v", cfg.PairingTimeout)
	}
	if cfg.Reconnect.BaseDelay != 500*time.Millisecond || cfg.Reconnect.MaxRetries != 3 {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[0] != "https://a.example.com" {
		t.Errorf("CORS = %+v", cfg.CORS.AllowedOrigins)
	}
	// Base path gains a leading slash and loses the trailing one.
	if cfg.APIBasePath != "/gateway" {
		t.Errorf("APIBasePath = %q", cfg.APIBasePath)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"zero pairing timeout", "PAIRING_TIMEOUT", "0s"},
		{"zero webhook timeout", "WEBHOOK_TIMEOUT", "0s"},
		{"negative retries", "RECONNECT_MAX_RETRIES", "-1"},
		{"zero burst", "RATE_BURST", "0"},
		{"sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_ReconnectDelayOrdering(t *testing.T) {
	t.Setenv("RECONNECT_BASE_DELAY", "2m")
	t.Setenv("RECONNECT_MAX_DELAY", "1m")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when base delay exceeds max delay")
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":      "/",
		"/api":  "/api",
		"api":   "/api",
		"/api/": "/api",
		"/":     "/",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
