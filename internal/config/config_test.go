package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quota-service/internal/ratelimit"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.Default.RequestsPerMinute)
	assert.Equal(t, 10000, cfg.RateLimit.Default.RequestsPerDay)
	assert.Equal(t, 300*time.Millisecond, cfg.RateLimit.StoreTimeout)
	assert.Equal(t, ":8080", cfg.ServerAddress())
	assert.False(t, cfg.IsProduction())
}

func TestLoadRejectsZeroLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPM", "0")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidLimits)
}

func TestLoadRejectsNegativeTierLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_PRO_RPM", "-10")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidLimits)
}

func TestLoadHonorsEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("RATE_LIMIT_RPM", "120")
	t.Setenv("RATE_LIMIT_DOWN_FOR", "5s")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 120, cfg.RateLimit.Default.RequestsPerMinute)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.DownFor)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
}

func TestLimitsForTier(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	pro := cfg.LimitsForTier("PRO")
	assert.Equal(t, 300, pro.RequestsPerMinute)

	unknown := cfg.LimitsForTier("trial")
	assert.Equal(t, cfg.RateLimit.Default, unknown)
}
