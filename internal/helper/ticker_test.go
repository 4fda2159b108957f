package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerTicker(t *testing.T) {
	ticker := NewTimerTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		require.FailNow(t, "ticked before being reset")
	case <-time.After(10 * time.Millisecond):
	}

	ticker.Reset()
	select {
	case <-ticker.C():
	case <-time.After(10 * time.Second):
		require.FailNow(t, "no tick after reset")
	}
}

func TestManualTicker(t *testing.T) {
	var resets, stops int

	ticker := NewManualTicker()
	ticker.ResetFunc = func() { resets++ }
	ticker.StopFunc = func() { stops++ }

	ticker.Reset()
	ticker.Tick()
	<-ticker.C()
	ticker.Stop()

	require.Equal(t, 1, resets)
	require.Equal(t, 1, stops)
}

func TestManualClock(t *testing.T) {
	start := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	require.Equal(t, start, clock.Now())

	clock.Advance(time.Minute)
	require.Equal(t, start.Add(time.Minute), clock.Now())

	clock.Set(start)
	require.Equal(t, start, clock.Now())
}
