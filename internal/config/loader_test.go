package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr == "" {
		t.Fatalf("expected default addr")
	}
	if cfg.Retry.MaxElapsedTime != 2*time.Minute {
		t.Fatalf("expected default max elapsed 2m, got %s", cfg.Retry.MaxElapsedTime)
	}
	if len(cfg.Upstream.Providers) != 0 {
		t.Fatalf("expected no providers without OPENROUTER_API_KEY")
	}
}

func TestLoad_OpenRouterProvider(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Upstream.Providers) != 1 {
		t.Fatalf("expected one provider, got %d", len(cfg.Upstream.Providers))
	}
	if cfg.Upstream.Providers[0].APIKey != "sk-or-test" {
		t.Fatalf("unexpected api key %q", cfg.Upstream.Providers[0].APIKey)
	}
}

func TestLoad_RetryMaxElapsedClamped(t *testing.T) {
	t.Setenv("RETRY_MAX_ELAPSED_MS", "99999999")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxElapsedTime != 600_000*time.Millisecond {
		t.Fatalf("expected clamp to 600000ms, got %s", cfg.Retry.MaxElapsedTime)
	}
}
