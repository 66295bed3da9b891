package scheduler

import (
	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// bandChoice is one band a negotiation will use, with the timeline that
// carries it and the channel picked on it.
type bandChoice struct {
	Band     model.Band
	Timeline timeline.ID
	Channel  model.ChannelDescriptor
}

// bandPlan walks the preference list once and keeps, per band timeline, the
// first band both sides support and a usable channel for it.
func (s *Scheduler) bandPlan(p *kb.Peer) []bandChoice {
	peerBands := p.SupportedBands()
	var plan []bandChoice
	var used [timeline.MaxTimelines]bool
	for _, b := range s.pref {
		if !peerBands.Has(b) {
			continue
		}
		id := s.timelines.TimelineFor(b)
		if used[id] {
			continue
		}
		ch, ok := s.channelFor(b, p)
		if !ok {
			continue
		}
		used[id] = true
		plan = append(plan, bandChoice{Band: b, Timeline: id, Channel: ch})
	}
	return plan
}

// channelFor picks the channel for band b: the fixed channel, then what is
// already committed on b, then what the peer advertises, then the band
// default.
func (s *Scheduler) channelFor(b model.Band, p *kb.Peer) (model.ChannelDescriptor, bool) {
	if fixed, ok := s.cfg.Fixed(); ok && core.BandOf(fixed) == b {
		return fixed, true
	}
	id := s.timelines.TimelineFor(b)
	for _, e := range s.timelines.Entries(id, timeline.Committed) {
		if core.BandOf(e.Channel) == b && s.allowed(e.Channel) {
			return e.Channel, true
		}
	}
	if p != nil {
		for _, types := range []model.EntryType{
			model.EntryCommitted | model.EntryConditional,
			model.EntryPotential,
		} {
			if ch, ok := s.peerChannel(p, b, types); ok {
				return ch, true
			}
		}
	}
	ch := core.DefaultChannel(b, s.cfg.WidthFor(b))
	return ch, s.allowed(ch)
}

// peerChannel returns the first channel on b the peer advertised in an
// entry of the given types, narrowed to the local width limit if needed.
func (s *Scheduler) peerChannel(p *kb.Peer, b model.Band, types model.EntryType) (model.ChannelDescriptor, bool) {
	for _, m := range p.Maps {
		for _, e := range m.Entries {
			if e.Control.Type&types == 0 {
				continue
			}
			for _, ch := range e.Channels {
				if !ch.IsChannel() || core.BandOf(ch) != b {
					continue
				}
				if s.allowed(ch) {
					return ch, true
				}
				narrow, err := core.ChannelFor(b, ch.Primary, s.cfg.WidthFor(b))
				if err == nil && s.allowed(narrow) {
					return narrow, true
				}
			}
		}
	}
	return model.ChannelDescriptor{}, false
}

// ndcOffset is the slot inside every DW interval that carries the NDC base
// schedule on band b.
func ndcOffset(b model.Band) int {
	if b == model.Band2G4 {
		return model.NDCSlotOffset2G4
	}
	return model.NDCSlotOffset5G
}
