// Package config loads runtime configuration from the environment.
// Secrets (DSNs, API keys, encryption keys) are env-only and never
// written to disk by this service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Environment string
	LogLevel    string

	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	OpenAI   OpenAIConfig
	Workers  WorkersConfig
	Crypto   CryptoConfig

	// DisableConnections starts the HTTP surface without DB/Redis (smoke mode).
	DisableConnections bool
	// DisableWorkers skips the background loops while keeping connections up.
	DisableWorkers bool
}

type HTTPConfig struct {
	Addr string
}

type DatabaseConfig struct {
	PostgresDSN  string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	URL string
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	VisionModel    string
	STTModel       string
	EmbeddingModel string
}

type WorkersConfig struct {
	DebouncePollInterval time.Duration
	FollowupPollInterval time.Duration
	WatchdogPollInterval time.Duration
	CleanupInterval      time.Duration
	// CleanupCron optionally gates cleanup runs to a cron schedule.
	CleanupCron string
}

type CryptoConfig struct {
	// CurrentKey encrypts and decrypts; PreviousKey is decrypt-only fallback
	// during key rotation.
	CurrentKey  string
	PreviousKey string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: envStr("ENVIRONMENT", "development"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr: envStr("HTTP_ADDR", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresDSN:  os.Getenv("POSTGRES_DSN"),
			MaxOpenConns: envInt("DB_POOL_MAX", 5),
			MaxIdleConns: envInt("DB_POOL_MIN", 1),
		},
		Redis: RedisConfig{
			URL: envStr("REDIS_URL", "redis://localhost:6379"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			BaseURL:        envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			ChatModel:      envStr("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			VisionModel:    envStr("OPENAI_VISION_MODEL", "gpt-4o-mini"),
			STTModel:       envStr("OPENAI_STT_MODEL", "whisper-1"),
			EmbeddingModel: envStr("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Workers: WorkersConfig{
			DebouncePollInterval: envDuration("DEBOUNCE_POLL_INTERVAL", 500*time.Millisecond),
			FollowupPollInterval: envDuration("FOLLOWUP_POLL_INTERVAL", 30*time.Second),
			WatchdogPollInterval: envDuration("WATCHDOG_POLL_INTERVAL", 30*time.Second),
			CleanupInterval:      envDuration("MEMORY_CLEANUP_INTERVAL", time.Hour),
			CleanupCron:          os.Getenv("MEMORY_CLEANUP_CRON"),
		},
		Crypto: CryptoConfig{
			CurrentKey:  firstNonEmpty(os.Getenv("APP_ENCRYPTION_KEY_CURRENT"), os.Getenv("APP_ENCRYPTION_KEY")),
			PreviousKey: strings.TrimSpace(os.Getenv("APP_ENCRYPTION_KEY_PREVIOUS")),
		},
		DisableConnections: envBool("DISABLE_CONNECTIONS", false),
		DisableWorkers:     envBool("DISABLE_WORKERS", false),
	}

	if !cfg.DisableConnections && cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN environment variable is not set")
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// Bare numbers are seconds.
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
