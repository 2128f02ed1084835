package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/service-booking-engine/internal/model"
)

func TestFixed_TodayUsesProviderZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC on May 31 is already June 1 in Tokyo.
	c := NewFixed(time.Date(2025, 5, 31, 20, 0, 0, 0, time.UTC), tokyo)

	assert.Equal(t, model.NewDay(2025, 6, 1), c.Today())

	c.Set(time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, model.NewDay(2025, 5, 31), c.Today())
}
