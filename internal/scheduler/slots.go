package scheduler

import (
	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// conflictsCommitted reports whether using ch in slot on timeline id
// collides with an operator override, the committed schedule or the
// infrastructure channel.
func (s *Scheduler) conflictsCommitted(id timeline.ID, slot int, ch model.ChannelDescriptor) bool {
	if cur, ok := s.timelines.CustomAt(id, slot); ok && !core.Compatible(cur, ch) {
		return true
	}
	for _, e := range s.timelines.Entries(id, timeline.Committed) {
		if e.Slots.Test(slot) && !core.Compatible(e.Channel, ch) {
			return true
		}
	}
	return s.aisBlocks(id, slot, ch)
}

func (s *Scheduler) aisBlocks(id timeline.ID, slot int, ch model.ChannelDescriptor) bool {
	if !s.ais.valid || !s.ais.slots.Test(slot) {
		return false
	}
	if s.timelines.TimelineFor(core.BandOf(s.ais.channel)) != id {
		return false
	}
	return !core.Compatible(s.ais.channel, ch)
}

// blocked reports whether slot can not be given to ch: discovery windows,
// committed conflicts and conditional proposals on another channel.
func (s *Scheduler) blocked(id timeline.ID, slot int, ch model.ChannelDescriptor) bool {
	if model.IsDWSlot(slot) || s.conflictsCommitted(id, slot, ch) {
		return true
	}
	for _, e := range s.timelines.Entries(id, timeline.Conditional) {
		if e.Slots.Test(slot) && !core.Compatible(e.Channel, ch) {
			return true
		}
	}
	return false
}

// usable returns every slot ch could be placed in on timeline id.
func (s *Scheduler) usable(id timeline.ID, ch model.ChannelDescriptor) model.Bitmap {
	var out model.Bitmap
	for slot := 0; slot < model.TotalSlots; slot++ {
		if !s.blocked(id, slot, ch) {
			out.Set(slot)
		}
	}
	return out
}

// linkSlots returns the slots already held on c's timeline, committed or
// conditional, by a channel compatible with c.Channel.
func (s *Scheduler) linkSlots(c bandChoice) model.Bitmap {
	var out model.Bitmap
	for _, k := range []timeline.Kind{timeline.Committed, timeline.Conditional} {
		for _, e := range s.timelines.Entries(c.Timeline, k) {
			if core.Compatible(e.Channel, c.Channel) {
				out = out.Or(e.Slots)
			}
		}
	}
	return out.AndNot(model.DWBitmap())
}

// defaultSlots picks up to quota slots per DW interval for c, counting
// what have already holds. Each interval is scanned cyclically from the
// band's NDC offset; slots inside hint are tried first.
func (s *Scheduler) defaultSlots(c bandChoice, quota int, hint, have model.Bitmap) model.Bitmap {
	var picked model.Bitmap
	base := ndcOffset(c.Band)
	for w := 0; w < model.DWIntervals; w++ {
		need := quota - have.WindowCount(w)
		passes := []bool{true, false}
		if hint.IsZero() {
			passes = passes[1:]
		}
		for _, restrict := range passes {
			for k := 0; need > 0 && k < model.SlotsPerDW; k++ {
				slot := w*model.SlotsPerDW + (base+k)%model.SlotsPerDW
				if have.Test(slot) || picked.Test(slot) {
					continue
				}
				if restrict && !hint.Test(slot) {
					continue
				}
				if s.blocked(c.Timeline, slot, c.Channel) {
					continue
				}
				picked.Set(slot)
				need--
			}
		}
	}
	return picked
}
