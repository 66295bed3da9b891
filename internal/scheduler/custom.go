package scheduler

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// customFAW is one staged operator override.
type customFAW struct {
	channel model.ChannelDescriptor
	band    model.Band
	slots   model.Bitmap
}

// CustomFAWConfig stages an operator override: ch is used in the slots set
// in interval, repeated in every DW interval. Discovery window slots are
// never overridden.
func (s *Scheduler) CustomFAWConfig(ch model.ChannelDescriptor, band model.Band, interval uint32) error {
	if !s.allowed(ch) || core.BandOf(ch) != band {
		return fmt.Errorf("%w: %s on %s", ErrInvalidChannel, ch, band)
	}
	if len(s.staged) >= s.cfg.Capacity.Custom*len(s.timelines.Timelines()) {
		return ErrCustomFull
	}
	var slots model.Bitmap
	for w := range slots {
		slots[w] = interval
	}
	slots = slots.AndNot(model.DWBitmap())
	if slots.IsZero() {
		return fmt.Errorf("%w: interval mask %#08x leaves no slot", ErrInvalidChannel, interval)
	}
	s.staged = append(s.staged, customFAW{channel: ch, band: band, slots: slots})
	return nil
}

// CustomFAWApply moves the staged overrides into the custom lists and
// recomputes every granted window. Committed slots are left alone.
func (s *Scheduler) CustomFAWApply(ctx context.Context) error {
	staged := s.staged
	s.staged = nil
	for _, c := range staged {
		id := s.timelines.TimelineFor(c.band)
		if _, err := s.timelines.AddSlots(id, timeline.Custom, c.channel, c.slots); err != nil {
			return err
		}
		s.log.Info(ctx, "custom FAW applied",
			logging.String("channel", c.channel.String()),
			logging.Slots("slots", c.slots),
		)
	}
	s.afterScheduleChange(ctx, true)
	return nil
}

// CustomFAWReset drops staged and applied overrides.
func (s *Scheduler) CustomFAWReset(ctx context.Context) {
	s.staged = nil
	for _, id := range s.timelines.Timelines() {
		s.timelines.Reset(id, timeline.Custom)
	}
	s.afterScheduleChange(ctx, true)
}

// SetGlobalOverride forces slots into or out of every granted window.
func (s *Scheduler) SetGlobalOverride(ctx context.Context, o Override) {
	s.global = o
	s.afterScheduleChange(ctx, false)
}

// SetPeerOverride forces slots into or out of one peer's granted window, on
// top of the global override.
func (s *Scheduler) SetPeerOverride(ctx context.Context, mac model.MACAddress, o Override) {
	s.overrides[mac] = o
	s.afterScheduleChange(ctx, false)
}

func (s *Scheduler) ClearPeerOverride(ctx context.Context, mac model.MACAddress) {
	delete(s.overrides, mac)
	s.afterScheduleChange(ctx, false)
}

// afterScheduleChange recomputes granted windows and syncs the records that
// carry a link.
func (s *Scheduler) afterScheduleChange(ctx context.Context, availability bool) {
	var established []int
	for _, idx := range s.refreshFAW() {
		if r, err := s.peers.Record(idx); err == nil && r.Usage != 0 {
			established = append(established, idx)
		}
	}
	s.requestSync(established)
	if availability {
		s.markAvailabilityChanged(true, true, false)
	}
	s.drain(ctx)
}
