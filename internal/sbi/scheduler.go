// Package sbi is the boundary towards the radio firmware: the structured
// commands the scheduler emits, the Commander that carries them, and the
// event scheduler that drives every deferred step (negotiation dispatch and
// availability debounce).
package sbi

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/nan-scheduler/timectrl"
)

// EventScheduler runs callbacks at simulation times taken from a SimClock.
// The driving loop advances the clock and calls RunDue after every step.
type EventScheduler interface {
	// Schedule registers f to run at 'at' and returns an ID for Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a pending event. Unknown or already-run IDs are ignored.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Time

	// RunDue executes every event due at Now(). Events scheduled by a
	// callback for a time that is already due run in the same call.
	RunDue()
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// eventScheduler keeps events ordered by due time.
type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates an event scheduler backed by clock.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}
	s.insertLocked(ev)
	s.index[id] = ev
	return id
}

// insertLocked keeps s.events sorted; equal times stay in schedule order.
func (s *eventScheduler) insertLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

// popDueLocked removes and returns the earliest due event, skipping
// cancelled ones.
func (s *eventScheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if !ev.cancelled && ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		if ev.cancelled {
			continue
		}
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}
		// Callbacks may schedule or cancel, so run them unlocked.
		if ev.f != nil {
			ev.f()
		}
	}
}

// Pending returns the number of events not yet run or cancelled.
func Pending(s EventScheduler) int {
	switch v := s.(type) {
	case *eventScheduler:
		v.mu.Lock()
		defer v.mu.Unlock()
		return len(v.index)
	case *FakeEventScheduler:
		v.mu.Lock()
		defer v.mu.Unlock()
		return len(v.index)
	}
	return -1
}
