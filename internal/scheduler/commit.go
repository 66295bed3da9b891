package scheduler

import (
	"context"

	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// Commit applies an agreed negotiation: conditional slots become committed,
// the scratch results move into the schedule record, every granted window
// is recomputed, unused committed slots are collected and the firmware is
// brought up to date.
func (s *Scheduler) Commit(ctx context.Context) error {
	if s.nego.state != StateConfirm {
		return ErrWrongState
	}
	ctx, span := s.childSpan(ctx, "nan.commit")
	defer span.End()

	for _, id := range s.timelines.Timelines() {
		if _, err := s.timelines.PromoteConditional(id); err != nil {
			return s.abort(ctx, reject(model.ReasonResourceLimitation, err))
		}
		if _, err := s.timelines.Merge(id, timeline.Committed); err != nil {
			return s.abort(ctx, reject(model.ReasonResourceLimitation, err))
		}
	}
	r, err := s.peers.Record(s.nego.record)
	if err != nil {
		return s.abort(ctx, reject(model.ReasonUnspecified, err))
	}
	sc := s.nego.scratch
	r.Usage |= s.nego.typ.usage()
	if s.nego.typ == NegoRanging {
		r.Ranging = sc.ranging
	} else {
		r.Immutable = sc.immutable
		r.QoS = sc.qos
		if sc.ndc != kb.NoNDC {
			r.NDC = sc.ndc
		}
	}
	s.nego.scratch.newNDC = false

	s.refreshFAW()
	released := s.collectGarbage(ctx)
	s.requestSync(s.peers.ActiveRecords())
	s.markAvailabilityChanged(true, false, sc.ndc != kb.NoNDC)
	s.nego.log.Info(ctx, "schedule committed",
		logging.MAC("peer", s.nego.mac),
		logging.Int("record", s.nego.record),
		logging.Slots("faw_5g", r.FAW[timeline.Timeline5G]),
		logging.Slots("faw_2g4", r.FAW[timeline.Timeline2G4]),
		logging.Int("gc_released", released),
	)
	s.finish(ctx, "accepted")
	s.drain(ctx)
	return nil
}
