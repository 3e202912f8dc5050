package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"quota-service/internal/ratelimit"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type RateLimitConfig struct {
	Enabled bool

	// StoreTimeout caps the shared-store round trip on the request path.
	StoreTimeout time.Duration

	// DownFor skips the shared store for this long after a failure.
	// Zero retries the store on every check.
	DownFor time.Duration

	// Default applies to tier-aware endpoints when the caller's tier has no
	// explicit entry. Anonymous applies to IP-keyed endpoints and is
	// deliberately stricter.
	Default    ratelimit.QuotaLimits
	Anonymous  ratelimit.QuotaLimits
	TierLimits map[string]ratelimit.QuotaLimits
}

// Load reads configuration from the environment. A .env file is honored when
// present. Limits are validated here so a misconfigured quota fails startup
// instead of silently admitting unlimited traffic.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getEnv("KAFKA_QUOTA_TOPIC", "quota-events"),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getEnvBool("RATE_LIMIT_ENABLED", true),
			StoreTimeout: getEnvDuration("RATE_LIMIT_STORE_TIMEOUT", 300*time.Millisecond),
			DownFor:      getEnvDuration("RATE_LIMIT_DOWN_FOR", 0),
			Default: ratelimit.QuotaLimits{
				RequestsPerMinute: getEnvInt("RATE_LIMIT_RPM", 60),
				RequestsPerDay:    getEnvInt("RATE_LIMIT_RPD", 10000),
				Burst:             getEnvInt("RATE_LIMIT_BURST", 0),
			},
			Anonymous: ratelimit.QuotaLimits{
				RequestsPerMinute: getEnvInt("RATE_LIMIT_ANON_RPM", 20),
				RequestsPerDay:    getEnvInt("RATE_LIMIT_ANON_RPD", 1000),
			},
			TierLimits: map[string]ratelimit.QuotaLimits{
				"free": {
					RequestsPerMinute: getEnvInt("RATE_LIMIT_FREE_RPM", 60),
					RequestsPerDay:    getEnvInt("RATE_LIMIT_FREE_RPD", 10000),
				},
				"pro": {
					RequestsPerMinute: getEnvInt("RATE_LIMIT_PRO_RPM", 300),
					RequestsPerDay:    getEnvInt("RATE_LIMIT_PRO_RPD", 100000),
					Burst:             getEnvInt("RATE_LIMIT_PRO_BURST", 20),
				},
				"enterprise": {
					RequestsPerMinute: getEnvInt("RATE_LIMIT_ENTERPRISE_RPM", 1200),
					RequestsPerDay:    getEnvInt("RATE_LIMIT_ENTERPRISE_RPD", 1000000),
					Burst:             getEnvInt("RATE_LIMIT_ENTERPRISE_BURST", 100),
				},
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := c.RateLimit.Default.Validate(); err != nil {
		return fmt.Errorf("default limits: %w", err)
	}
	if err := c.RateLimit.Anonymous.Validate(); err != nil {
		return fmt.Errorf("anonymous limits: %w", err)
	}
	for tier, limits := range c.RateLimit.TierLimits {
		if err := limits.Validate(); err != nil {
			return fmt.Errorf("tier %q limits: %w", tier, err)
		}
	}
	if c.RateLimit.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive, got %s", c.RateLimit.StoreTimeout)
	}
	return nil
}

// LimitsForTier resolves a caller's tier to its quota limits, falling back to
// the defaults for unknown tiers.
func (c *Config) LimitsForTier(tier string) ratelimit.QuotaLimits {
	if limits, ok := c.RateLimit.TierLimits[strings.ToLower(tier)]; ok {
		return limits
	}
	return c.RateLimit.Default
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) ServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
