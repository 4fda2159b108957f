package segrep

import "time"

// LagTimer measures how long a replica takes to catch up with a checkpoint.
// The timer is created when the checkpoint is published and started once the
// checkpoint is sent to the replica. It is not safe for concurrent use.
type LagTimer struct {
	now     func() time.Time
	created time.Time
	started time.Time
	stopped time.Time
}

// NewLagTimer returns a timer created at the current instant of now.
func NewLagTimer(now func() time.Time) *LagTimer {
	return &LagTimer{now: now, created: now()}
}

// Start starts the timer. Starting a started timer does nothing.
func (t *LagTimer) Start() {
	if t.started.IsZero() {
		t.started = t.now()
	}
}

// Stop freezes both durations.
func (t *LagTimer) Stop() {
	if t.stopped.IsZero() {
		t.stopped = t.now()
	}
}

// Started returns true once Start was called.
func (t *LagTimer) Started() bool {
	return !t.started.IsZero()
}

// Time returns the time since the timer was started, or zero if it was never
// started.
func (t *LagTimer) Time() time.Duration {
	if t.started.IsZero() {
		return 0
	}
	return t.end().Sub(t.started)
}

// TotalElapsed returns the time since the timer was created.
func (t *LagTimer) TotalElapsed() time.Duration {
	return t.end().Sub(t.created)
}

func (t *LagTimer) end() time.Time {
	if !t.stopped.IsZero() {
		return t.stopped
	}
	return t.now()
}
