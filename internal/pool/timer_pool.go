// Package pool provides pooled timers for the bounded waits of sessions, links and the simulator.
package pool

import (
	"context"
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer for the given duration d from the pool.
//
// Return the timer to the pool with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		t.Reset(d)

		return t
	}

	return time.NewTimer(d)
}

// PutTimer returns t to the pool. t cannot be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// Sleep pauses for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
