package helper

import "time"

// Ticker signals periodic work on the channel returned by C. Reset arms the
// next tick.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset()
}

// NewTimerTicker returns a Ticker that fires once interval has passed since
// the last Reset.
func NewTimerTicker(interval time.Duration) Ticker {
	timer := time.NewTimer(interval)
	if !timer.Stop() {
		<-timer.C
	}
	return &timerTicker{timer: timer, interval: interval}
}

type timerTicker struct {
	timer    *time.Timer
	interval time.Duration
}

func (tt *timerTicker) C() <-chan time.Time { return tt.timer.C }

// Reset drains a pending tick before rearming the timer.
func (tt *timerTicker) Reset() {
	if !tt.timer.Stop() {
		select {
		case <-tt.timer.C:
		default:
		}
	}
	tt.timer.Reset(tt.interval)
}

func (tt *timerTicker) Stop() { tt.timer.Stop() }

// ManualTicker ticks only when Tick is called. Tests use it to drive
// periodic loops step by step.
type ManualTicker struct {
	c chan time.Time
	// ResetFunc is invoked on every Reset.
	ResetFunc func()
	// StopFunc is invoked on Stop.
	StopFunc func()
}

// NewManualTicker returns a ManualTicker with no-op hooks.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		c:         make(chan time.Time, 1),
		ResetFunc: func() {},
		StopFunc:  func() {},
	}
}

// C returns the tick channel.
func (mt *ManualTicker) C() <-chan time.Time { return mt.c }

// Reset calls ResetFunc.
func (mt *ManualTicker) Reset() { mt.ResetFunc() }

// Stop calls StopFunc.
func (mt *ManualTicker) Stop() { mt.StopFunc() }

// Tick delivers a tick. It blocks while an earlier tick is still unread.
func (mt *ManualTicker) Tick() { mt.c <- time.Now() }
