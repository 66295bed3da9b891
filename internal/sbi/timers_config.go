package sbi

import (
	"time"

	"github.com/signalsfoundry/nan-scheduler/timectrl"
)

// TimerConfig holds the delays of the two scheduler timers.
type TimerConfig struct {
	// DispatchDelay is how long the dispatch timer waits before popping the
	// next queued negotiation.
	// Default: one slot
	DispatchDelay time.Duration

	// AvailabilityDebounce coalesces availability changes before the
	// update is pushed to the firmware.
	// Default: one DW interval
	AvailabilityDebounce time.Duration
}

// DefaultTimerConfig returns a TimerConfig with the firmware defaults.
func DefaultTimerConfig() TimerConfig {
	return TimerConfig{
		DispatchDelay:        timectrl.SlotDuration,
		AvailabilityDebounce: 32 * timectrl.SlotDuration,
	}
}
