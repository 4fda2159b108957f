package helper

import (
	"sync"
	"time"
)

// Clock returns the current instant.
type Clock func() time.Time

// SystemClock reads the wall clock.
func SystemClock() time.Time { return time.Now() }

// ManualClock is a clock that only moves when told to. It is safe for
// concurrent use.
type ManualClock struct {
	m   sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current instant.
func (mc *ManualClock) Now() time.Time {
	mc.m.Lock()
	defer mc.m.Unlock()
	return mc.now
}

// Advance moves the clock forward by d.
func (mc *ManualClock) Advance(d time.Duration) {
	mc.m.Lock()
	defer mc.m.Unlock()
	mc.now = mc.now.Add(d)
}

// Set moves the clock to t.
func (mc *ManualClock) Set(t time.Time) {
	mc.m.Lock()
	defer mc.m.Unlock()
	mc.now = t
}
