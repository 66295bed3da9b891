package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// adoption is the set of requested slots one channel receives on one band
// timeline.
type adoption struct {
	timeline timeline.ID
	channel  model.ChannelDescriptor
	slots    model.Bitmap
}

// review is the outcome of checking a peer's proposal slot by slot.
type review struct {
	adopted   []adoption
	conflicts int
	ndcBad    bool
	ndc       map[timeline.ID]model.Bitmap
}

func (r *review) adopt(id timeline.ID, ch model.ChannelDescriptor, slot int) {
	for i := range r.adopted {
		a := &r.adopted[i]
		if a.timeline == id && a.channel == ch {
			a.slots.Set(slot)
			return
		}
	}
	r.adopted = append(r.adopted, adoption{timeline: id, channel: ch, slots: model.BitmapFromSlots(slot)})
}

// CheckRemoteProposal evaluates the schedule the peer sent, as applied to
// its descriptor. A responder accepts or answers with a counter-proposal;
// an initiator waiting for the response accepts or fails. Accepting moves
// the negotiation to Confirm.
func (s *Scheduler) CheckRemoteProposal(ctx context.Context) (Verdict, Proposal, error) {
	state := s.nego.state
	if state != StateResponder && state != StateWaitResponse {
		return 0, Proposal{}, ErrWrongState
	}
	ctx, span := s.childSpan(ctx, "nan.check_remote_proposal")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveEvaluation(time.Since(start)) }()

	p, err := s.peers.Peer(s.nego.peer)
	if err != nil {
		return 0, Proposal{}, s.abort(ctx, reject(model.ReasonUnspecified, err))
	}
	for _, id := range s.timelines.Timelines() {
		s.timelines.Reset(id, timeline.Conditional)
	}

	rv, ne := s.reviewProposal(p)
	if ne != nil {
		return 0, Proposal{}, s.abort(ctx, ne)
	}
	if ne := s.adoptReview(p, rv); ne != nil {
		return 0, Proposal{}, s.abort(ctx, ne)
	}
	span.SetAttributes(
		attribute.Int("nan.conflicts", rv.conflicts),
		attribute.Bool("nan.ndc_rejected", rv.ndcBad),
	)

	if rv.conflicts > 0 || rv.ndcBad {
		if state == StateWaitResponse {
			reason := model.ReasonNDLUnacceptable
			if s.nego.typ == NegoRanging {
				reason = model.ReasonRangingUnacceptable
			}
			return 0, Proposal{}, s.abort(ctx, reject(reason, fmt.Errorf("%d conflicting slots", rv.conflicts)))
		}
		return s.counter(ctx, p)
	}

	if s.nego.typ == NegoDataLink {
		borrowed, ne := s.solveQoS(ctx, p, state == StateWaitResponse)
		if ne != nil {
			return 0, Proposal{}, s.abort(ctx, ne)
		}
		if borrowed > 0 {
			s.nego.state = StateWaitResponse
			s.markAvailabilityChanged(false, true, false)
			prop := s.buildProposal()
			s.drain(ctx)
			return VerdictCounter, prop, nil
		}
	}

	s.nego.state = StateConfirm
	s.nego.log.Info(ctx, "remote proposal accepted", logging.MAC("peer", s.nego.mac))
	prop := s.buildProposal()
	s.drain(ctx)
	return VerdictAccept, prop, nil
}

// counter answers a conflicting proposal with our own schedule on top of
// whatever could be accepted.
func (s *Scheduler) counter(ctx context.Context, p *kb.Peer) (Verdict, Proposal, error) {
	plan := s.bandPlan(p)
	if len(plan) == 0 {
		return 0, Proposal{}, s.abort(ctx, reject(model.ReasonResourceLimitation, ErrNoBand))
	}
	if ne := s.propose(ctx, p, plan); ne != nil {
		return 0, Proposal{}, s.abort(ctx, ne)
	}
	s.nego.state = StateWaitResponse
	s.markAvailabilityChanged(false, true, s.nego.scratch.newNDC)
	s.nego.log.Info(ctx, "counter-proposal built", logging.MAC("peer", s.nego.mac))
	prop := s.buildProposal()
	s.drain(ctx)
	return VerdictCounter, prop, nil
}

// reviewProposal classifies every slot the peer asks for. Immutable slots
// that can not be honoured and slots without any channel fail the
// negotiation; NDC problems and other conflicts are reported for a
// counter-proposal.
func (s *Scheduler) reviewProposal(p *kb.Peer) (review, *NegotiationError) {
	const types = model.EntryCommitted | model.EntryConditional
	immutable := p.ImmutableTimeline()
	var ndcSlots model.Bitmap
	if s.nego.typ == NegoDataLink && !p.NDC.ID.IsZero() {
		ndcSlots = p.NDC.Slots
	}
	want := p.Timeline(types).Or(immutable).Or(ndcSlots)
	if s.nego.typ == NegoRanging {
		want = want.Or(p.RangingTimeline())
	}
	want = want.AndNot(model.DWBitmap())

	rv := review{ndc: make(map[timeline.ID]model.Bitmap)}
	ndcBands := model.BandMask(0)
	for _, slot := range want.Slots() {
		ch, ok := p.ChannelAt(slot, types)
		if !ok {
			return rv, reject(model.ReasonInvalidAvailability, fmt.Errorf("slot %d has no channel", slot))
		}
		band := core.BandOf(ch)
		id := s.timelines.TimelineFor(band)
		if !s.allowed(ch) || s.conflictsCommitted(id, slot, ch) {
			switch {
			case immutable.Test(slot):
				return rv, reject(model.ReasonImmutableUnacceptable, fmt.Errorf("immutable slot %d on %s", slot, ch))
			case ndcSlots.Test(slot):
				rv.ndcBad = true
			default:
				rv.conflicts++
			}
			continue
		}
		if ndcSlots.Test(slot) {
			if band != model.Band2G4 && slot%model.SlotsPerDW != ndcOffset(band) {
				rv.ndcBad = true
				continue
			}
			ndcBands |= model.MaskOf(band)
			b := rv.ndc[id]
			b.Set(slot)
			rv.ndc[id] = b
		}
		rv.adopt(id, ch, slot)
	}
	if ndcBands == model.BandMask2G4 && !s.cfg.Interop && s.highBands(p) {
		rv.ndcBad = true
	}
	return rv, nil
}

// highBands reports whether both sides could hold an NDC on 5 or 6 GHz.
func (s *Scheduler) highBands(p *kb.Peer) bool {
	high := model.BandMask5G | model.BandMask6G
	return s.cfg.BandMask()&high != 0 && p.SupportedBands()&high != 0
}

// adoptReview moves the accepted slots into the conditional lists and
// records the immutable, ranging and NDC parts of the proposal.
func (s *Scheduler) adoptReview(p *kb.Peer, rv review) *NegotiationError {
	for _, a := range rv.adopted {
		if _, err := s.timelines.AddSlots(a.timeline, timeline.Conditional, a.channel, a.slots); err != nil {
			return reject(model.ReasonResourceLimitation, err)
		}
		if bt, err := s.timelines.Timeline(a.timeline); err == nil {
			bt.ValidatingConditional = true
		}
	}
	sc := &s.nego.scratch
	sc.immutable = p.ImmutableTimeline()
	if s.nego.typ == NegoRanging {
		sc.ranging = p.RangingTimeline().AndNot(model.DWBitmap())
	}
	if rv.ndcBad || len(rv.ndc) == 0 {
		return nil
	}

	h, existed := s.peers.LookupNDC(p.NDC.ID)
	if !existed {
		var err error
		if h, err = s.peers.AcquireNDC(p.NDC.ID); err != nil {
			return reject(model.ReasonResourceLimitation, err)
		}
	}
	if sc.ndc != kb.NoNDC && sc.ndc != h && sc.newNDC && !s.peers.NDCReferenced(sc.ndc) {
		s.peers.ReleaseNDC(sc.ndc)
	}
	if sc.ndc != h {
		sc.ndc, sc.newNDC = h, !existed
	}
	n, _ := s.peers.NDC(h)
	for id, slots := range rv.ndc {
		n.Slots[id] = n.Slots[id].Or(slots)
	}
	return nil
}
