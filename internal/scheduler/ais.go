package scheduler

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/sbi"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// infrastructure is the non-NAN channel sharing the radio and the slots it
// occupies.
type infrastructure struct {
	valid   bool
	channel model.ChannelDescriptor
	slots   model.Bitmap
}

// SetInfrastructure records the infrastructure channel. Its slots are kept
// out of default schedules and QoS borrowing unless compatible with the
// channel in question.
func (s *Scheduler) SetInfrastructure(ctx context.Context, ch model.ChannelDescriptor, slots model.Bitmap) error {
	if _, err := core.AllocationOf(ch); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChannel, err)
	}
	s.ais = infrastructure{valid: true, channel: ch, slots: slots}
	return s.infrastructureChanged(ctx)
}

func (s *Scheduler) ClearInfrastructure(ctx context.Context) error {
	s.ais = infrastructure{}
	return s.infrastructureChanged(ctx)
}

func (s *Scheduler) infrastructureChanged(ctx context.Context) error {
	err := s.CommitNonNANChannels(ctx)
	s.markAvailabilityChanged(false, true, false)
	s.drain(ctx)
	return err
}

// CommitNonNANChannels pushes, per band timeline, the channels the device
// may be found on: the preferred channel of every enabled band the timeline
// carries and the infrastructure channel.
func (s *Scheduler) CommitNonNANChannels(ctx context.Context) error {
	for _, id := range s.timelines.Timelines() {
		cmd := sbi.UpdatePotentialChannels{Timeline: uint8(id)}
		add := func(ch model.ChannelDescriptor) {
			for _, have := range cmd.Channels {
				if have == ch {
					return
				}
			}
			cmd.Channels = append(cmd.Channels, ch)
		}
		for _, b := range s.pref {
			if s.timelines.TimelineFor(b) != id {
				continue
			}
			if ch, ok := s.channelFor(b, nil); ok {
				add(ch)
			}
		}
		if s.ais.valid && s.timelines.TimelineFor(core.BandOf(s.ais.channel)) == id {
			add(s.ais.channel)
		}
		if err := s.cmd.Send(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
