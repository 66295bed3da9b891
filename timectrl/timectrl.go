package timectrl

import (
	"context"
	"sync"
	"time"
)

// TU is the 802.11 time unit.
const TU = 1024 * time.Microsecond

// SlotDuration is one 16 TU scheduling slot.
const SlotDuration = 16 * TU

// SimClock is the clock abstraction shared by the event scheduler and the
// negotiation timers so they can run on simulated or wall-clock time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d has
	// elapsed in simulation time.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated steps by Tick as fast as listeners return.
	Accelerated
)

type waiter struct {
	at time.Time
	ch chan time.Time
}

// TimeController drives simulation time and notifies registered listeners
// after every tick.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
	waiters     []waiter
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps the clock and releases any waiter that became due.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	due := tc.dueLocked(t)
	tc.mu.Unlock()
	for _, w := range due {
		w.ch <- t
	}
}

// After returns a channel that fires once simulation time has advanced by d.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	at := tc.currentTime.Add(d)
	if d <= 0 {
		tc.mu.Unlock()
		ch <- at
		return ch
	}
	tc.waiters = append(tc.waiters, waiter{at: at, ch: ch})
	tc.mu.Unlock()
	return ch
}

func (tc *TimeController) dueLocked(now time.Time) []waiter {
	var due []waiter
	kept := tc.waiters[:0]
	for _, w := range tc.waiters {
		if !w.at.After(now) {
			due = append(due, w)
		} else {
			kept = append(kept, w)
		}
	}
	tc.waiters = kept
	return due
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller for the given simulated duration (forever when
// zero) in its own goroutine. The returned channel is closed when the run
// ends or ctx is cancelled.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.mu.Unlock()

		var tick <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}

		for elapsed := time.Duration(0); duration == 0 || elapsed < duration; elapsed += tc.Tick {
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}
			simTime = simTime.Add(tc.Tick)
			tc.SetTime(simTime)

			tc.mu.RLock()
			listeners := append([]func(time.Time){}, tc.listeners...)
			tc.mu.RUnlock()
			for _, fn := range listeners {
				fn(simTime)
			}
		}
	}()
	return done
}
