package scheduler

import (
	"context"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// computeFAW recomputes the granted window of one record. A slot is granted
// on the first band timeline, 5/6 GHz first, whose local channel is
// compatible with a channel the peer committed for it. Overrides apply
// afterwards; Exclude wins.
func (s *Scheduler) computeFAW(idx int) error {
	r, err := s.peers.Record(idx)
	if err != nil {
		return err
	}
	p, err := s.peers.Peer(r.Peer)
	if err != nil {
		return err
	}
	const types = model.EntryCommitted | model.EntryConditional
	ids := s.timelines.Timelines()

	var faw [timeline.MaxTimelines]model.Bitmap
	for _, slot := range p.Timeline(types).AndNot(model.DWBitmap()).Slots() {
		peerChans := p.ChannelsAt(slot, types)
		for _, id := range ids {
			local, ok := s.localChannel(id, slot)
			if ok && compatibleAny(local, peerChans) {
				faw[id].Set(slot)
				break
			}
		}
	}

	ov := s.overrideFor(p.MAC)
	for _, id := range ids {
		faw[id] = faw[id].AndNot(ov.Exclude)
	}
	for _, slot := range ov.Include.AndNot(ov.Exclude).AndNot(model.DWBitmap()).Slots() {
		for _, id := range ids {
			if _, ok := s.localChannel(id, slot); ok {
				faw[id].Set(slot)
				break
			}
		}
	}

	r.FAW = faw
	best := -1
	for _, id := range ids {
		r.Granted[id] = faw[id].Count()
		if r.Granted[id] > 0 && (best < 0 || r.Granted[id] > r.Granted[best]) {
			best = int(id)
		}
	}
	r.Band = model.BandNone
	if best >= 0 {
		first := faw[best].Slots()[0]
		if ch, ok := s.localChannel(timeline.ID(best), first); ok {
			r.Band = core.BandOf(ch)
		}
	}
	return nil
}

// compatibleAny reports whether local can serve any of the peer channels. A
// band selector accepts every channel in its bands.
func compatibleAny(local model.ChannelDescriptor, peer []model.ChannelDescriptor) bool {
	band := core.BandOf(local)
	for _, ch := range peer {
		if ch.Kind == model.ChannelKindBand {
			if ch.Bands.Has(band) {
				return true
			}
			continue
		}
		if core.Compatible(local, ch) {
			return true
		}
	}
	return false
}

func (s *Scheduler) overrideFor(mac model.MACAddress) Override {
	o := s.global
	if po, ok := s.overrides[mac]; ok {
		o.Include = o.Include.Or(po.Include)
		o.Exclude = o.Exclude.Or(po.Exclude)
	}
	return o
}

// refreshFAW recomputes every active record and returns their indices.
func (s *Scheduler) refreshFAW() []int {
	active := s.peers.ActiveRecords()
	for _, idx := range active {
		if err := s.computeFAW(idx); err != nil {
			s.log.Warn(s.baseCtx, "granted window not computed",
				logging.Int("record", idx),
				logging.String("error", err.Error()),
			)
		}
	}
	return active
}

// collectGarbage releases committed slots no established link needs: slots
// outside every granted window, immutable and ranging schedule and NDC
// reservation. NDCs nothing references any more are freed too.
func (s *Scheduler) collectGarbage(ctx context.Context) int {
	var keep [timeline.MaxTimelines]model.Bitmap
	ids := s.timelines.Timelines()
	for _, idx := range s.peers.ActiveRecords() {
		r, err := s.peers.Record(idx)
		if err != nil || r.Usage == 0 {
			continue
		}
		fixed := r.Immutable.Or(r.Ranging)
		n, hasNDC := s.peers.NDC(r.NDC)
		for _, id := range ids {
			keep[id] = keep[id].Or(r.FAW[id]).Or(fixed)
			if hasNDC {
				keep[id] = keep[id].Or(n.Slots[id])
			}
		}
	}

	released := 0
	for _, id := range ids {
		released += s.timelines.Retain(id, keep[id])
	}
	freed := 0
	for _, h := range s.peers.NDCs() {
		if h != s.nego.scratch.ndc && !s.peers.NDCReferenced(h) {
			s.peers.ReleaseNDC(h)
			freed++
		}
	}
	s.metrics.AddGCReleased(released)
	if released > 0 || freed > 0 {
		s.log.Debug(ctx, "committed slots collected",
			logging.Int("slots", released),
			logging.Int("ndcs", freed),
		)
	}
	return released
}
