package config

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngineConfig_Defaults(t *testing.T) {
	cfg, err := LoadEngineConfig()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 180, cfg.HorizonDays)
	assert.Equal(t, 366, cfg.MaxRangeDays)
	assert.Equal(t, 5, cfg.ReserveAttempts)
	assert.Equal(t, 2*time.Second, cfg.ReserveTimeout)
	assert.False(t, cfg.RequirePayment)
	assert.Equal(t, 24*time.Hour, cfg.CartTTL)
	assert.Equal(t, 15*time.Minute, cfg.PendingTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoadEngineConfig_Overrides(t *testing.T) {
	t.Setenv("BOOKING_TIMEZONE", "Europe/Berlin")
	t.Setenv("BOOKING_RESERVE_ATTEMPTS", "0")
	t.Setenv("BOOKING_REQUIRE_PAYMENT", "yes")
	t.Setenv("CART_TTL", "90m")
	t.Setenv("BOOKING_PENDING_TTL", "0s")
	t.Setenv("BOOKING_SWEEP_INTERVAL", "-5s")

	cfg, err := LoadEngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, 1, cfg.ReserveAttempts)
	assert.True(t, cfg.RequirePayment)
	assert.Equal(t, 90*time.Minute, cfg.CartTTL)
	assert.Zero(t, cfg.PendingTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoadEngineConfig_BadZone(t *testing.T) {
	t.Setenv("BOOKING_TIMEZONE", "Mars/Olympus")
	_, err := LoadEngineConfig()
	assert.Error(t, err)
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 10, cfg.Capacity)
	assert.Equal(t, 1, cfg.RefillTokens)
	assert.Equal(t, 2*time.Second, cfg.RefillInterval)
	assert.Equal(t, 10*time.Second, cfg.TTL)
}

func TestLoadCacheConfig(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	cfg := LoadCacheConfig()
	assert.True(t, cfg.Methods["GET"])
	assert.True(t, cfg.Methods["HEAD"])
	assert.Equal(t, 5*time.Second, cfg.TTL)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())

	rdb, err := NewRedisClient(LoadRedisConfig())
	require.NoError(t, err)
	require.NotNil(t, rdb)
	_ = rdb.Close()

	rdb, err = NewRedisClient(RedisConfig{Enabled: false})
	assert.NoError(t, err)
	assert.Nil(t, rdb)
}

func TestAccessTTL(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "")
	assert.Equal(t, time.Hour, AccessTTL())
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
	assert.Equal(t, 15*time.Minute, AccessTTL())
}
