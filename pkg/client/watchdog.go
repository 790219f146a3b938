package client

import (
	"context"
	"sync/atomic"
	"time"
)

// epoch anchors activity timestamps to the monotonic clock.
var epoch = time.Now()

// monotonicMillis returns milliseconds elapsed since process start.
func monotonicMillis() int64 {
	return time.Since(epoch).Milliseconds()
}

// Activity is the timestamp of the last sign of life on a connection.
// It is written by the reader and read by the watchdog.
type Activity struct {
	last atomic.Int64 // monotonic milliseconds
}

// Touch records activity now.
func (a *Activity) Touch() {
	a.last.Store(monotonicMillis())
}

// Last returns the monotonic millisecond timestamp of the last Touch.
func (a *Activity) Last() int64 {
	return a.last.Load()
}

// Idle returns the time since the last Touch.
func (a *Activity) Idle() time.Duration {
	return time.Duration(monotonicMillis()-a.last.Load()) * time.Millisecond
}

// Watchdog stops a session that has been silent for longer than its timeout.
// It never reconnects; the supervisor does that once the session returns.
type Watchdog struct {
	timeout  time.Duration
	activity *Activity
	trip     func()
}

// NewWatchdog creates a watchdog over activity. trip runs at most once, on
// the watchdog goroutine, when the timeout is exceeded. A non-positive
// timeout selects DefaultWatchdogTimeout.
func NewWatchdog(timeout time.Duration, activity *Activity, trip func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	return &Watchdog{
		timeout:  timeout,
		activity: activity,
		trip:     trip,
	}
}

// Interval returns the check period, half the timeout.
func (w *Watchdog) Interval() time.Duration {
	if iv := w.timeout / 2; iv > 0 {
		return iv
	}
	return time.Millisecond
}

// Run checks activity every Interval until ctx is done or the watchdog trips.
// It reports whether it tripped.
func (w *Watchdog) Run(ctx context.Context) bool {
	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.activity.Idle() > w.timeout {
				if ctx.Err() != nil {
					return false
				}
				w.trip()
				return true
			}

		case <-ctx.Done():
			return false
		}
	}
}
