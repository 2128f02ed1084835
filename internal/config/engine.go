package config

import (
	"fmt"
	"time"
)

// EngineConfig tunes the booking engine.
type EngineConfig struct {
	Location        *time.Location // provider-local zone that defines "today"
	HorizonDays     int            // days past today a provider publishes; later days are closed
	MaxRangeDays    int            // longest availability query
	ReserveAttempts int            // optimistic retries before Contention
	ReserveTimeout  time.Duration  // per-attempt store timeout
	RetryBackoff    time.Duration  // base pause between lost races
	RequirePayment  bool           // leave checkouts PENDING until payment settles
	CartTTL         time.Duration  // idle lifetime of a stored cart
	PublishMaxDays  int            // longest range a provider may publish in one call
	PendingTTL      time.Duration  // how long a checkout may await payment; 0 never expires
	SweepInterval   time.Duration  // how often stale pending checkouts are released
}

// LoadEngineConfig reads BOOKING_* and CART_* variables.  Unlike Load it
// returns an error, since a bad time zone name is easy to get wrong.
func LoadEngineConfig() (EngineConfig, error) {
	tz := envStr("BOOKING_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("BOOKING_TIMEZONE %q: %w", tz, err)
	}
	cfg := EngineConfig{
		Location:        loc,
		HorizonDays:     envInt("BOOKING_HORIZON_DAYS", 180),
		MaxRangeDays:    envInt("BOOKING_MAX_RANGE_DAYS", 366),
		ReserveAttempts: envInt("BOOKING_RESERVE_ATTEMPTS", 5),
		ReserveTimeout:  envDur("BOOKING_RESERVE_TIMEOUT", 2*time.Second),
		RetryBackoff:    envDur("BOOKING_RETRY_BACKOFF", 10*time.Millisecond),
		RequirePayment:  envBool("BOOKING_REQUIRE_PAYMENT", false),
		CartTTL:         envDur("CART_TTL", 24*time.Hour),
		PublishMaxDays:  envInt("BOOKING_PUBLISH_MAX_DAYS", 366),
		PendingTTL:      envDur("BOOKING_PENDING_TTL", 15*time.Minute),
		SweepInterval:   envDur("BOOKING_SWEEP_INTERVAL", time.Minute),
	}
	if cfg.HorizonDays < 0 {
		cfg.HorizonDays = 0
	}
	if cfg.MaxRangeDays < 1 {
		cfg.MaxRangeDays = 1
	}
	if cfg.ReserveAttempts < 1 {
		cfg.ReserveAttempts = 1
	}
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = 2 * time.Second
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.CartTTL <= 0 {
		cfg.CartTTL = 24 * time.Hour
	}
	if cfg.PublishMaxDays < 1 {
		cfg.PublishMaxDays = 1
	}
	if cfg.PendingTTL < 0 {
		cfg.PendingTTL = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return cfg, nil
}
