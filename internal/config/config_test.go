package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "AI_PRIMARY_MAX_ATTEMPTS", "AI_RETRY_DELAY", "SERVICE_CUTOFF_HOUR", "SEARCH_WINDOW_DAYS", "CLINIC_TIMEZONE", "AI_SECONDARY_PROVIDER", "USE_MEMORY_QUEUE", "MESSAGE_DEADLINE"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.AIPrimaryMaxAttempts != 3 {
		t.Fatalf("expected 3 primary attempts, got %d", cfg.AIPrimaryMaxAttempts)
	}
	if cfg.AIRetryDelay != 2*time.Second {
		t.Fatalf("expected 2s retry delay, got %s", cfg.AIRetryDelay)
	}
	if cfg.MessageDeadline != 150*time.Second {
		t.Fatalf("expected 150s message deadline, got %s", cfg.MessageDeadline)
	}
	if cfg.ServiceCutoffHour != 14 {
		t.Fatalf("expected cutoff hour 14, got %d", cfg.ServiceCutoffHour)
	}
	if cfg.SearchWindowDays != 7 {
		t.Fatalf("expected 7 day window, got %d", cfg.SearchWindowDays)
	}
	if cfg.ClinicTimezone != "America/Caracas" {
		t.Fatalf("expected clinic timezone default, got %s", cfg.ClinicTimezone)
	}
	if cfg.SecondaryAIProvider != "openrouter" {
		t.Fatalf("expected openrouter secondary, got %s", cfg.SecondaryAIProvider)
	}
	if !cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("AI_SECONDARY_PROVIDER", " Bedrock ")
	t.Setenv("AI_RETRY_DELAY", "500ms")
	t.Setenv("CAPACITY_CONSULTA_WEDNESDAY", "4")
	t.Setenv("USE_MEMORY_QUEUE", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://clinica.example, ,http://localhost:3000")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.SecondaryAIProvider != "bedrock" {
		t.Fatalf("expected normalized provider, got %q", cfg.SecondaryAIProvider)
	}
	if cfg.AIRetryDelay != 500*time.Millisecond {
		t.Fatalf("expected retry delay override, got %s", cfg.AIRetryDelay)
	}
	if cfg.CapacityConsultaWednesday != 4 {
		t.Fatalf("expected wednesday capacity override, got %d", cfg.CapacityConsultaWednesday)
	}
	if cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue disabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://localhost:3000" {
		t.Fatalf("unexpected origins %#v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitPerSecond != 0.5 {
		t.Fatalf("expected rate override, got %v", cfg.RateLimitPerSecond)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SEARCH_WINDOW_DAYS", "seven")
	t.Setenv("AI_ATTEMPT_TIMEOUT", "soon")
	cfg := Load()
	if cfg.SearchWindowDays != 7 {
		t.Fatalf("expected fallback window, got %d", cfg.SearchWindowDays)
	}
	if cfg.AIAttemptTimeout != 30*time.Second {
		t.Fatalf("expected fallback attempt timeout, got %s", cfg.AIAttemptTimeout)
	}
}
