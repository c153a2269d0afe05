// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case.
//
// Each of the seven upstream services accepts a comma-separated list of
// credentials (spec §6.3): a bare bearer string for OpenAI/Anthropic/Google
// AI/Mistral, or a ":"-delimited composite for AWS/GCP/Azure.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// Credentials holds the comma-separated credential lists for every
	// upstream service. At least one must be non-empty.
	Credentials CredentialsConfig

	// AzureAPIVersion is the api-version query parameter for Azure OpenAI
	// requests. Default: "2024-12-01-preview".
	AzureAPIVersion string

	// AllowAWSLogging permits selecting AWS keys whose account has model
	// invocation logging enabled (spec §4.2's AWS eligibility hard filter).
	AllowAWSLogging bool

	// Redis holds the connection URL for the Redis-backed cache and rate limiter.
	Redis RedisConfig

	// Cache controls caching behaviour.
	Cache CacheConfig

	// CircuitBreaker controls per-service circuit breaker thresholds.
	CircuitBreaker CircuitBreakerConfig

	// RateLimit controls request-rate and quota limiting.
	RateLimit RateLimitConfig

	// Queue controls the request queue's per-identity admission limit.
	Queue QueueConfig

	// Limits bounds context size and model family availability.
	Limits LimitsConfig

	// OriginBlacklist rejects requests whose Origin/Referer header contains
	// any of these substrings (spec §4.6 step 2).
	OriginBlacklist []string

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default).
	CORSOrigins []string

	// AllowClientAPIKeys enables forwarding client-supplied Authorization
	// headers directly to upstream providers alongside pool-managed keys.
	AllowClientAPIKeys bool

	// EventsClickHouseDSN, when set, enables the request logger's durable
	// analytics sink (internal/logger). Empty disables it — entries still
	// flow through slog.
	EventsClickHouseDSN string
}

// CredentialsConfig carries the raw, comma-separated credential strings for
// each of the seven upstream services. Parsing into *keys.Key values happens
// in internal/app, which owns the keys.Pool construction.
type CredentialsConfig struct {
	OpenAI    string
	Anthropic string
	GoogleAI  string
	Mistral   string
	AWS       string
	GCP       string
	Azure     string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Mode            string
	TTL             time.Duration
	ExcludeExact    []string
	ExcludePatterns []string
}

// CircuitBreakerConfig controls per-service circuit breaker settings.
type CircuitBreakerConfig struct {
	ErrorThreshold  int
	TimeWindow      time.Duration
	HalfOpenTimeout time.Duration
}

// RateLimitConfig controls request-rate and per-identity quota limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute allowed globally. 0 disables.
	RPMLimit int
	// QuotaTokensPerWindow is the per-identity, per-family token budget.
	// 0 disables quota enforcement.
	QuotaTokensPerWindow int64
	// QuotaWindow is the rolling window the quota budget applies to.
	QuotaWindow time.Duration
}

// QueueConfig tunes the request scheduler.
type QueueConfig struct {
	// UserConcurrencyLimit bounds how many requests one identity may have
	// queued simultaneously (spec §4.8). Default: 1.
	UserConcurrencyLimit int
}

// LimitsConfig bounds request admission (spec §4.6 step 6).
type LimitsConfig struct {
	MaxContextTokens int
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CORS_ORIGINS", []string{"*"})
	v.SetDefault("AZURE_API_VERSION", "2024-12-01-preview")

	v.SetDefault("CB_ERROR_THRESHOLD", 5)
	v.SetDefault("CB_TIME_WINDOW", "60s")
	v.SetDefault("CB_HALF_OPEN_TIMEOUT", "30s")

	v.SetDefault("RPM_LIMIT", 0)
	v.SetDefault("QUOTA_TOKENS_PER_WINDOW", 0)
	v.SetDefault("QUOTA_WINDOW", "1h")

	v.SetDefault("QUEUE_USER_CONCURRENCY_LIMIT", 1)
	v.SetDefault("MAX_CONTEXT_TOKENS", 0)

	v.SetDefault("ALLOW_CLIENT_API_KEYS", false)
	v.SetDefault("ALLOW_AWS_LOGGING", false)

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Credentials: CredentialsConfig{
			OpenAI:    v.GetString("OPENAI_API_KEYS"),
			Anthropic: v.GetString("ANTHROPIC_API_KEYS"),
			GoogleAI:  v.GetString("GOOGLEAI_API_KEYS"),
			Mistral:   v.GetString("MISTRAL_API_KEYS"),
			AWS:       v.GetString("AWS_CREDENTIALS"),
			GCP:       v.GetString("GCP_CREDENTIALS"),
			Azure:     v.GetString("AZURE_CREDENTIALS"),
		},

		AzureAPIVersion: v.GetString("AZURE_API_VERSION"),
		AllowAWSLogging: v.GetBool("ALLOW_AWS_LOGGING"),

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold:  v.GetInt("CB_ERROR_THRESHOLD"),
			TimeWindow:      v.GetDuration("CB_TIME_WINDOW"),
			HalfOpenTimeout: v.GetDuration("CB_HALF_OPEN_TIMEOUT"),
		},

		RateLimit: RateLimitConfig{
			RPMLimit:             v.GetInt("RPM_LIMIT"),
			QuotaTokensPerWindow: v.GetInt64("QUOTA_TOKENS_PER_WINDOW"),
			QuotaWindow:          v.GetDuration("QUOTA_WINDOW"),
		},

		Queue: QueueConfig{
			UserConcurrencyLimit: v.GetInt("QUEUE_USER_CONCURRENCY_LIMIT"),
		},

		Limits: LimitsConfig{
			MaxContextTokens: v.GetInt("MAX_CONTEXT_TOKENS"),
		},

		OriginBlacklist: v.GetStringSlice("ORIGIN_BLACKLIST"),
		CORSOrigins:     v.GetStringSlice("CORS_ORIGINS"),

		AllowClientAPIKeys: v.GetBool("ALLOW_CLIENT_API_KEYS"),

		EventsClickHouseDSN: v.GetString("EVENTS_CLICKHOUSE_DSN"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if !c.AllowClientAPIKeys && !c.AtLeastOneCredential() {
		return fmt.Errorf(
			"config: at least one credential is required " +
				"(OPENAI_API_KEYS, ANTHROPIC_API_KEYS, GOOGLEAI_API_KEYS, MISTRAL_API_KEYS, " +
				"AWS_CREDENTIALS, GCP_CREDENTIALS, or AZURE_CREDENTIALS). " +
				"Set ALLOW_CLIENT_API_KEYS=true to require clients to supply their own keys.",
		)
	}

	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf("config: invalid CACHE_MODE %q; must be one of: redis, memory, none", c.Cache.Mode)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.CircuitBreaker.ErrorThreshold < 1 {
		return fmt.Errorf("config: CB_ERROR_THRESHOLD must be ≥ 1, got %d", c.CircuitBreaker.ErrorThreshold)
	}
	if c.CircuitBreaker.TimeWindow <= 0 {
		return fmt.Errorf("config: CB_TIME_WINDOW must be a positive duration")
	}
	if c.Queue.UserConcurrencyLimit < 1 {
		return fmt.Errorf("config: QUEUE_USER_CONCURRENCY_LIMIT must be ≥ 1, got %d", c.Queue.UserConcurrencyLimit)
	}

	return nil
}

// AtLeastOneCredential returns true if at least one service has credentials configured.
func (c *Config) AtLeastOneCredential() bool {
	cr := c.Credentials
	return cr.OpenAI != "" || cr.Anthropic != "" || cr.GoogleAI != "" || cr.Mistral != "" ||
		cr.AWS != "" || cr.GCP != "" || cr.Azure != ""
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
