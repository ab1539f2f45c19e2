// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// QueueConfig provides settings for the asynq dispatch queue.
type QueueConfig interface {
	GetRedisURL() string
	GetQueueName() string
	GetQueueConcurrency() int
}

// LedgerConfig provides settings for the idempotency ledger.
type LedgerConfig interface {
	GetRedisURL() string
	GetDedupTTL() time.Duration
}

// VaultConfig provides settings for the credential vault.
type VaultConfig interface {
	GetVaultMasterKey() []byte
	GetVaultCacheTTL() time.Duration
}

// EmailConfig provides SMTP settings for confirmation emails.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsEmailEnabled() bool
}

// SummarizerConfig provides settings for end-of-call summarization.
type SummarizerConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	IsSummarizerEnabled() bool
}

// RateLimitConfig provides settings for the webhook rate limiter.
type RateLimitConfig interface {
	GetWebhookRatePerSecond() float64
	GetWebhookRateBurst() int
}

// =============================================================================
// Config
// =============================================================================

// Config holds all application configuration, loaded once at startup and
// passed into component constructors. There is no ambient global state.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string
	RedisURL    string

	CORSAllowAll bool
	CORSOrigins  []string

	QueueName        string
	QueueConcurrency int

	DedupTTL time.Duration

	VaultMasterKey []byte
	VaultCacheTTL  time.Duration

	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string

	GeminiAPIKey string
	GeminiModel  string

	WebhookRatePerSecond float64
	WebhookRateBurst     int
}

// Load reads configuration from the environment. A .env file is honored in
// development but never required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		CORSAllowAll: getBool("CORS_ALLOW_ALL", false),
		CORSOrigins:  getList("CORS_ORIGINS"),

		QueueName:        getEnv("DISPATCH_QUEUE", "side-effects"),
		QueueConcurrency: getInt("DISPATCH_CONCURRENCY", 10),

		DedupTTL: getDuration("DEDUP_TTL", 24*time.Hour),

		VaultCacheTTL: getDuration("VAULT_CACHE_TTL", time.Minute),

		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getInt("SMTP_PORT", 587),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Booking Desk"),
		EmailFromAddress: os.Getenv("EMAIL_FROM_ADDRESS"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		WebhookRatePerSecond: getFloat("WEBHOOK_RATE_PER_SECOND", 25),
		WebhookRateBurst:     getInt("WEBHOOK_RATE_BURST", 50),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	masterKey := os.Getenv("VAULT_MASTER_KEY")
	if masterKey == "" {
		return nil, fmt.Errorf("VAULT_MASTER_KEY is required")
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("VAULT_MASTER_KEY must be exactly 32 bytes, got %d", len(masterKey))
	}
	cfg.VaultMasterKey = []byte(masterKey)

	return cfg, nil
}

func (c *Config) GetDatabaseURL() string  { return c.DatabaseURL }
func (c *Config) GetHTTPAddr() string     { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool   { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

func (c *Config) GetRedisURL() string     { return c.RedisURL }
func (c *Config) GetQueueName() string    { return c.QueueName }
func (c *Config) GetQueueConcurrency() int { return c.QueueConcurrency }

func (c *Config) GetDedupTTL() time.Duration { return c.DedupTTL }

func (c *Config) GetVaultMasterKey() []byte       { return c.VaultMasterKey }
func (c *Config) GetVaultCacheTTL() time.Duration { return c.VaultCacheTTL }

func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsEmailEnabled() bool {
	return c.SMTPHost != "" && c.EmailFromAddress != ""
}

func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string  { return c.GeminiModel }
func (c *Config) IsSummarizerEnabled() bool {
	return c.GeminiAPIKey != ""
}

func (c *Config) GetWebhookRatePerSecond() float64 { return c.WebhookRatePerSecond }
func (c *Config) GetWebhookRateBurst() int         { return c.WebhookRateBurst }

// =============================================================================
// Env helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
