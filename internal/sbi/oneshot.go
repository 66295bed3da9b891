package sbi

import (
	"sync"
	"time"
)

// OneShot is a re-armable single timer on top of an EventScheduler. Arming
// an armed timer replaces the pending expiry.
type OneShot struct {
	sched EventScheduler
	fire  func()

	mu      sync.Mutex
	pending string
}

// NewOneShot binds fire to a timer on sched.
func NewOneShot(sched EventScheduler, fire func()) *OneShot {
	return &OneShot{sched: sched, fire: fire}
}

// Arm schedules fire after d, cancelling any earlier arm.
func (o *OneShot) Arm(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != "" {
		o.sched.Cancel(o.pending)
	}
	var id string
	id = o.sched.Schedule(o.sched.Now().Add(d), func() {
		o.mu.Lock()
		if o.pending != id {
			o.mu.Unlock()
			return
		}
		o.pending = ""
		o.mu.Unlock()
		o.fire()
	})
	o.pending = id
}

// ArmIfIdle arms the timer only when it is not already pending.
func (o *OneShot) ArmIfIdle(d time.Duration) {
	if o.Armed() {
		return
	}
	o.Arm(d)
}

// Stop cancels a pending expiry.
func (o *OneShot) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != "" {
		o.sched.Cancel(o.pending)
		o.pending = ""
	}
}

// Armed reports whether an expiry is pending.
func (o *OneShot) Armed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending != ""
}
