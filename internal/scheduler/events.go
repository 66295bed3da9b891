package scheduler

import "context"

type eventKind uint8

const (
	evDispatch eventKind = iota
	evSyncRequest
	evSyncStep
	evAvailability
)

// event is a message between the negotiation machine, the sync-update
// machine and the timers.
type event struct {
	kind    eventKind
	records []int
}

func (s *Scheduler) post(e event) {
	s.queue = append(s.queue, e)
}

// drain handles queued events until the queue is empty. Events posted while
// draining are handled by the outermost call.
func (s *Scheduler) drain(ctx context.Context) {
	if s.draining {
		return
	}
	s.draining = true
	defer func() { s.draining = false }()

	for len(s.queue) > 0 {
		e := s.queue[0]
		s.queue = s.queue[1:]
		switch e.kind {
		case evDispatch:
			s.onDispatch(ctx)
		case evSyncRequest:
			s.sync.request(e.records)
			if s.sync.state == SyncIdle {
				s.sync.state = SyncPrepare
				s.post(event{kind: evSyncStep})
			}
		case evSyncStep:
			s.stepSync(ctx)
		case evAvailability:
			s.pushAvailability(ctx)
		}
	}
}

// requestSync asks the sync-update machine to push the given records.
func (s *Scheduler) requestSync(records []int) {
	s.post(event{kind: evSyncRequest, records: records})
}
