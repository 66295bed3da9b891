package scheduler

import (
	"context"

	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/sbi"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/internal/wire"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// availabilityState collects change flags until the debounce timer fires.
type availabilityState struct {
	seq       uint8
	committed bool
	potential bool
	ndc       bool
}

// markAvailabilityChanged flags what changed and arms the debounce timer.
// Changes arriving while it is armed are folded into the same update.
func (s *Scheduler) markAvailabilityChanged(committed, potential, ndc bool) {
	s.avail.committed = s.avail.committed || committed
	s.avail.potential = s.avail.potential || potential
	s.avail.ndc = s.avail.ndc || ndc
	s.debounce.ArmIfIdle(s.timers.AvailabilityDebounce)
}

// pushAvailability sends one availability attribute per band timeline and
// the control command naming what changed.
func (s *Scheduler) pushAvailability(ctx context.Context) {
	a := s.avail
	a.seq++
	s.avail = availabilityState{seq: a.seq}
	for _, id := range s.timelines.Timelines() {
		attr := wire.Availability{
			SequenceID:       a.seq,
			MapID:            uint8(id),
			CommittedChanged: a.committed,
			PotentialChanged: a.potential,
			NDCChanged:       a.ndc,
			Entries:          s.localEntries(id, false),
		}
		raw, err := attr.MarshalBinary()
		if err != nil {
			s.log.Warn(ctx, "availability not encodable",
				logging.String("timeline", id.String()),
				logging.String("error", err.Error()),
			)
			continue
		}
		s.send(ctx, sbi.UpdateAvailability{Timeline: uint8(id), Attribute: raw})
	}
	s.send(ctx, sbi.UpdateAvailabilityControl{
		SequenceID:       a.seq,
		CommittedChanged: a.committed,
		PotentialChanged: a.potential,
		NDCChanged:       a.ndc,
	})
}

// localEntries lists what timeline id advertises: committed entries, the
// conditional ones when asked, and a potential entry covering the rest.
func (s *Scheduler) localEntries(id timeline.ID, withConditional bool) []model.AvailabilityEntry {
	var out []model.AvailabilityEntry
	used := model.DWBitmap()
	add := func(t model.EntryType, e timeline.Entry) {
		out = append(out, model.AvailabilityEntry{
			Control:  model.EntryControl{Type: t, RxNSS: 1, TimeBitmapPresent: true},
			Slots:    e.Slots,
			Channels: []model.ChannelDescriptor{e.Channel},
		})
		used = used.Or(e.Slots)
	}
	for _, e := range s.timelines.Entries(id, timeline.Committed) {
		add(model.EntryCommitted, e)
	}
	if withConditional {
		for _, e := range s.timelines.Entries(id, timeline.Conditional) {
			add(model.EntryConditional, e)
		}
	}
	if len(out) > model.MaxEntriesPerMap {
		out = out[:model.MaxEntriesPerMap]
	}
	bt, err := s.timelines.Timeline(id)
	if err != nil || len(out) == model.MaxEntriesPerMap {
		return out
	}
	bands := bt.Bands & s.cfg.BandMask()
	if rest := model.FullBitmap().AndNot(used); bands != 0 && !rest.IsZero() {
		out = append(out, model.AvailabilityEntry{
			Control:  model.EntryControl{Type: model.EntryPotential, Preference: 1, TimeBitmapPresent: true},
			Slots:    rest,
			Channels: []model.ChannelDescriptor{model.NewBandSelector(bands)},
		})
	}
	return out
}

// Proposal is the set of attributes a negotiation step answers with.
type Proposal struct {
	Availability []wire.Availability
	NDC          *wire.NDC
	Immutable    *wire.Schedule
	Ranging      *wire.Schedule
	QoS          *wire.NDLQoS
}

// MarshalBinary concatenates the framed attributes.
func (p Proposal) MarshalBinary() ([]byte, error) {
	var out []byte
	for _, a := range p.Availability {
		b, err := a.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	type marshaler interface{ MarshalBinary() ([]byte, error) }
	var rest []marshaler
	if p.NDC != nil {
		rest = append(rest, p.NDC)
	}
	if p.Immutable != nil {
		rest = append(rest, p.Immutable)
	}
	if p.Ranging != nil {
		rest = append(rest, p.Ranging)
	}
	if p.QoS != nil {
		rest = append(rest, p.QoS)
	}
	for _, m := range rest {
		b, err := m.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// buildProposal snapshots the current negotiation into attributes.
func (s *Scheduler) buildProposal() Proposal {
	var prop Proposal
	for _, id := range s.timelines.Timelines() {
		entries := s.localEntries(id, true)
		if len(entries) == 0 {
			continue
		}
		prop.Availability = append(prop.Availability, wire.Availability{
			SequenceID:       s.avail.seq,
			MapID:            uint8(id),
			CommittedChanged: s.avail.committed,
			PotentialChanged: s.avail.potential,
			NDCChanged:       s.avail.ndc,
			Entries:          entries,
		})
	}
	sc := s.nego.scratch
	if n, ok := s.peers.NDC(sc.ndc); ok && sc.ndc != kb.NoNDC {
		ndc := wire.NDC{ID: n.ID, Selected: true}
		for _, id := range s.timelines.Timelines() {
			if !n.Slots[id].IsZero() {
				ndc.Entries = append(ndc.Entries, model.ScheduleEntry{MapID: uint8(id), Slots: n.Slots[id]})
			}
		}
		prop.NDC = &ndc
	}
	if !sc.immutable.IsZero() {
		prop.Immutable = &wire.Schedule{Entries: s.splitByTimeline(sc.immutable)}
	}
	if s.nego.typ == NegoRanging && !sc.ranging.IsZero() {
		prop.Ranging = &wire.Schedule{Ranging: true, Entries: s.splitByTimeline(sc.ranging)}
	}
	if !sc.qos.Unbounded() {
		q := wire.NDLQoSFrom(sc.qos)
		prop.QoS = &q
	}
	return prop
}

// splitByTimeline assigns each slot of b to the band timeline (map) that
// holds it; slots no timeline holds go to the first one.
func (s *Scheduler) splitByTimeline(b model.Bitmap) []model.ScheduleEntry {
	var out []model.ScheduleEntry
	ids := s.timelines.Timelines()
	rest := b
	for _, id := range ids {
		held := s.timelines.Union(id, timeline.Committed).Or(s.timelines.Union(id, timeline.Conditional))
		part := rest.And(held)
		if part.IsZero() {
			continue
		}
		out = append(out, model.ScheduleEntry{MapID: uint8(id), Slots: part})
		rest = rest.AndNot(part)
	}
	if !rest.IsZero() {
		for i := range out {
			if out[i].MapID == uint8(ids[0]) {
				out[i].Slots = out[i].Slots.Or(rest)
				return out
			}
		}
		out = append(out, model.ScheduleEntry{MapID: uint8(ids[0]), Slots: rest})
	}
	return out
}
