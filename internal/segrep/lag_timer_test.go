package segrep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/shardtracker/internal/helper"
)

func TestLagTimer(t *testing.T) {
	clock := helper.NewManualClock(time.Unix(1000, 0))
	timer := NewLagTimer(clock.Now)

	clock.Advance(time.Second)
	require.False(t, timer.Started())
	require.Equal(t, time.Duration(0), timer.Time())
	require.Equal(t, time.Second, timer.TotalElapsed())

	timer.Start()
	clock.Advance(2 * time.Second)
	timer.Start()
	require.True(t, timer.Started())
	require.Equal(t, 2*time.Second, timer.Time())
	require.Equal(t, 3*time.Second, timer.TotalElapsed())

	timer.Stop()
	clock.Advance(time.Minute)
	require.Equal(t, 2*time.Second, timer.Time())
	require.Equal(t, 3*time.Second, timer.TotalElapsed())
}
