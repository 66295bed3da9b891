package sbi

import (
	"fmt"
	"sync"
	"time"
)

// FakeEventScheduler owns its notion of time so tests can step the
// negotiation timers deterministically with Advance and AdvanceTo.
type FakeEventScheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64

	events []*scheduledEvent
	index  map[string]*scheduledEvent
}

// NewFakeEventScheduler starts the fake clock at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now:   start,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *FakeEventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("fake-ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}

	pos := len(s.events)
	for i, existing := range s.events {
		if at.Before(existing.when) {
			pos = i
			break
		}
	}
	s.events = append(s.events, nil)
	copy(s.events[pos+1:], s.events[pos:])
	s.events[pos] = ev
	s.index[id] = ev
	return id
}

func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

func (s *FakeEventScheduler) RunDue() {
	for {
		s.mu.Lock()
		if len(s.events) == 0 || s.events[0].when.After(s.now) {
			s.mu.Unlock()
			return
		}
		ev := s.events[0]
		s.events = s.events[1:]
		if ev.cancelled {
			s.mu.Unlock()
			continue
		}
		delete(s.index, ev.id)
		s.mu.Unlock()

		if ev.f != nil {
			ev.f()
		}
	}
}

// AdvanceTo moves the fake clock to t and runs everything due. Time never
// goes backwards.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.mu.Lock()
	if t.Before(s.now) {
		s.mu.Unlock()
		return
	}
	s.now = t
	s.mu.Unlock()

	s.RunDue()
}

// Advance is AdvanceTo(Now()+d).
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}
