package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("DISABLE_CONNECTIONS", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without POSTGRES_DSN")
	}

	t.Setenv("DISABLE_CONNECTIONS", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("smoke mode must not require DSN: %v", err)
	}
	if !cfg.DisableConnections {
		t.Fatal("DISABLE_CONNECTIONS not picked up")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/centurion")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("default addr: %q", cfg.HTTP.Addr)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o-mini" || cfg.OpenAI.EmbeddingModel != "text-embedding-3-small" {
		t.Fatalf("model defaults: %+v", cfg.OpenAI)
	}
	if cfg.Workers.DebouncePollInterval != 500*time.Millisecond {
		t.Fatalf("debounce poll default: %v", cfg.Workers.DebouncePollInterval)
	}
	if cfg.Database.MaxOpenConns != 5 || cfg.Database.MaxIdleConns != 1 {
		t.Fatalf("pool defaults: %+v", cfg.Database)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "45s")
	if d := envDuration("TEST_DURATION", time.Minute); d != 45*time.Second {
		t.Fatalf("go duration form: %v", d)
	}

	// Bare numbers are seconds.
	t.Setenv("TEST_DURATION", "2")
	if d := envDuration("TEST_DURATION", time.Minute); d != 2*time.Second {
		t.Fatalf("bare seconds form: %v", d)
	}

	t.Setenv("TEST_DURATION", "garbage")
	if d := envDuration("TEST_DURATION", time.Minute); d != time.Minute {
		t.Fatalf("fallback expected: %v", d)
	}
}

func TestCryptoKeyFallback(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/centurion")
	t.Setenv("APP_ENCRYPTION_KEY_CURRENT", "")
	t.Setenv("APP_ENCRYPTION_KEY", "legacy-key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Crypto.CurrentKey != "legacy-key" {
		t.Fatalf("legacy key var should apply: %q", cfg.Crypto.CurrentKey)
	}
}
