package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/qos"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// GenerateProposal builds the initiator's schedule proposal: an NDC
// reservation for data links, the default slot quota on every usable band
// timeline and whatever QoS needs on top. The negotiation then waits for
// the peer's response.
func (s *Scheduler) GenerateProposal(ctx context.Context) (Proposal, error) {
	if s.nego.state != StateInitiator {
		return Proposal{}, ErrWrongState
	}
	ctx, span := s.childSpan(ctx, "nan.generate_proposal")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveEvaluation(time.Since(start)) }()

	p, err := s.peers.Peer(s.nego.peer)
	if err != nil {
		return Proposal{}, s.abort(ctx, reject(model.ReasonUnspecified, err))
	}
	plan := s.bandPlan(p)
	if len(plan) == 0 {
		return Proposal{}, s.abort(ctx, reject(model.ReasonResourceLimitation, ErrNoBand))
	}
	if ne := s.propose(ctx, p, plan); ne != nil {
		return Proposal{}, s.abort(ctx, ne)
	}
	s.nego.state = StateWaitResponse
	s.markAvailabilityChanged(false, true, s.nego.scratch.newNDC)
	prop := s.buildProposal()
	s.drain(ctx)
	return prop, nil
}

// propose fills the conditional lists for plan. It is shared by the
// initiator and by a responder building a counter-proposal.
func (s *Scheduler) propose(ctx context.Context, p *kb.Peer, plan []bandChoice) *NegotiationError {
	quota := s.cfg.Quota.NDLSlots
	if s.nego.typ == NegoRanging {
		quota = s.cfg.Quota.RangingSlots
	} else if ne := s.selectNDC(plan[0]); ne != nil {
		return ne
	}

	hint := p.Timeline(model.EntryCommitted | model.EntryConditional | model.EntryPotential)
	var taken, picked model.Bitmap
	for _, c := range plan {
		have := s.linkSlots(c)
		slots := s.defaultSlots(c, quota, hint, have.Or(taken))
		if _, err := s.timelines.AddSlots(c.Timeline, timeline.Conditional, c.Channel, slots); err != nil {
			return reject(model.ReasonResourceLimitation, err)
		}
		taken = taken.Or(have).Or(slots)
		picked = picked.Or(slots)
		s.nego.log.Debug(ctx, "default slots proposed",
			logging.String("band", c.Band.String()),
			logging.String("channel", c.Channel.String()),
			logging.Slots("slots", slots),
		)
	}

	if s.nego.typ == NegoRanging {
		if picked.IsZero() {
			picked = taken
		}
		s.nego.scratch.ranging = picked
	} else if _, ne := s.solveQoS(ctx, p, false); ne != nil {
		return ne
	}

	for _, c := range plan {
		if bt, err := s.timelines.Timeline(c.Timeline); err == nil {
			bt.ValidatingConditional = true
		}
	}
	return nil
}

// selectNDC reserves the NDC base schedule for the negotiation on c: the
// scratch NDC, an NDC already reserved on that timeline, or a new one.
func (s *Scheduler) selectNDC(c bandChoice) *NegotiationError {
	sc := &s.nego.scratch
	if sc.ndc == kb.NoNDC {
		for _, h := range s.peers.NDCs() {
			n, _ := s.peers.NDC(h)
			if slots := n.Slots[c.Timeline]; !slots.IsZero() && s.fits(c, slots) {
				sc.ndc = h
				break
			}
		}
	}
	if sc.ndc == kb.NoNDC {
		h, err := s.peers.AcquireNDC(s.newNDCID())
		if err != nil {
			return reject(model.ReasonResourceLimitation, err)
		}
		sc.ndc, sc.newNDC = h, true
	}
	n, _ := s.peers.NDC(sc.ndc)
	if n.Slots[c.Timeline].IsZero() {
		base := s.ndcBase(c)
		if base.IsZero() {
			return reject(model.ReasonResourceLimitation, ErrNoBand)
		}
		n.Slots[c.Timeline] = base
	}
	if _, err := s.timelines.AddSlots(c.Timeline, timeline.Conditional, c.Channel, n.Slots[c.Timeline]); err != nil {
		return reject(model.ReasonResourceLimitation, err)
	}
	return nil
}

// fits reports whether every slot of b is free for c.Channel.
func (s *Scheduler) fits(c bandChoice, b model.Bitmap) bool {
	for _, slot := range b.Slots() {
		if s.blocked(c.Timeline, slot, c.Channel) {
			return false
		}
	}
	return true
}

// ndcBase is one slot at the band's NDC offset every NDCPeriod intervals.
func (s *Scheduler) ndcBase(c bandChoice) model.Bitmap {
	var b model.Bitmap
	period := s.cfg.Quota.NDCPeriod
	if period < 1 {
		period = 1
	}
	off := ndcOffset(c.Band)
	for w := 0; w < model.DWIntervals; w += period {
		slot := w*model.SlotsPerDW + off
		if !s.blocked(c.Timeline, slot, c.Channel) {
			b.Set(slot)
		}
	}
	return b
}

// newNDCID draws a cluster ID from the 50-6F-9A-01-xx-xx range that is not
// in use yet.
func (s *Scheduler) newNDCID() model.NDCID {
	for {
		u := uuid.New()
		id := model.NDCID{0x50, 0x6F, 0x9A, 0x01, u[0], u[1]}
		if _, used := s.peers.LookupNDC(id); !used {
			return id
		}
	}
}

// qosPools builds one solver pool per band timeline that holds conditional
// entries: the slots granted so far and the free slots of its main channel.
func (s *Scheduler) qosPools() ([]bandChoice, []qos.Pool) {
	var choices []bandChoice
	var pools []qos.Pool
	for _, id := range s.timelines.Timelines() {
		entries := s.timelines.Entries(id, timeline.Conditional)
		if len(entries) == 0 {
			continue
		}
		main := entries[0]
		for _, e := range entries[1:] {
			if e.Count > main.Count {
				main = e
			}
		}
		c := bandChoice{Band: core.BandOf(main.Channel), Timeline: id, Channel: main.Channel}
		granted := s.linkSlots(c)
		choices = append(choices, c)
		pools = append(pools, qos.Pool{
			Name:    id.String(),
			Granted: granted,
			Free:    s.usable(id, c.Channel).AndNot(granted),
		})
	}
	return choices, pools
}

// solveQoS merges both requirements and borrows free slots until they hold.
// The borrowed slots are added to the conditional lists and their number is
// returned. With strict set, having to borrow at all is a failure.
func (s *Scheduler) solveQoS(ctx context.Context, p *kb.Peer, strict bool) (int, *NegotiationError) {
	q := qos.Negotiate(s.nego.localQoS, p.QoS)
	s.nego.scratch.qos = q
	if q.Unbounded() {
		return 0, nil
	}
	choices, pools := s.qosPools()
	res, err := qos.Solve(q, pools)
	if err != nil {
		return 0, reject(model.ReasonQoSUnacceptable, err)
	}
	if res.Borrowed() == 0 {
		return 0, nil
	}
	if strict {
		return 0, reject(model.ReasonQoSUnacceptable, qos.ErrUnsatisfiable)
	}
	for i, c := range choices {
		if _, err := s.timelines.AddSlots(c.Timeline, timeline.Conditional, c.Channel, res.Added[i]); err != nil {
			return 0, reject(model.ReasonResourceLimitation, err)
		}
	}
	s.nego.log.Debug(ctx, "qos slots borrowed",
		logging.Int("min_slots", int(q.MinSlots)),
		logging.Int("max_latency", int(q.MaxLatency)),
		logging.Int("borrowed", res.Borrowed()),
	)
	return res.Borrowed(), nil
}
