// Package clock supplies the engine's notion of "now" and "today".  Business
// days are provider-local, so every comparison against today goes through
// a Clock bound to the provider's time zone.
package clock

import (
	"sync"
	"time"

	"github.com/iliyamo/service-booking-engine/internal/model"
)

// Clock reports the current instant and the current provider-local day.
type Clock interface {
	Now() time.Time
	Today() model.Day
}

type system struct {
	loc *time.Location
}

// System returns a Clock backed by time.Now in the given location.
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return system{loc: loc}
}

func (s system) Now() time.Time   { return time.Now().UTC() }
func (s system) Today() model.Day { return model.DayOf(time.Now(), s.loc) }

// Fixed is a settable Clock for tests and replay tooling.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewFixed returns a Fixed clock frozen at now, with days observed in loc.
func NewFixed(now time.Time, loc *time.Location) *Fixed {
	if loc == nil {
		loc = time.UTC
	}
	return &Fixed{now: now, loc: loc}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Today() model.Day {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.DayOf(f.now, f.loc)
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
