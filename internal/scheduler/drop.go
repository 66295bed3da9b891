package scheduler

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// DropResources ends the data link or ranging use of the record held for
// mac. A negotiation of that kind with mac is stopped first. When nothing
// else uses the record it is released; committed slots no other link needs
// are then collected.
func (s *Scheduler) DropResources(ctx context.Context, mac model.MACAddress, typ NegoType) error {
	if s.nego.state != StateIdle && s.nego.mac == mac && s.nego.typ == typ {
		s.NegoStop(ctx)
	}
	idx, ok := s.peers.RecordByMAC(mac)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRecord, mac)
	}
	r, err := s.peers.Record(idx)
	if err != nil {
		return err
	}
	r.Usage &^= typ.usage()
	if typ == NegoRanging {
		r.Ranging = model.Bitmap{}
	} else {
		r.Immutable = model.Bitmap{}
		r.QoS = model.QoS{}
		r.NDC = kb.NoNDC
		r.Stations = nil
	}
	released := false
	if r.Usage == 0 && !s.Negotiating(mac) {
		s.sync.remove(idx)
		s.peers.ReleaseRecord(idx)
		released = true
	}
	s.log.Info(ctx, "resources dropped",
		logging.MAC("peer", mac),
		logging.String("type", typ.String()),
		logging.Any("record_released", released),
	)

	active := s.refreshFAW()
	s.collectGarbage(ctx)
	s.requestSync(active)
	s.markAvailabilityChanged(true, false, typ == NegoDataLink)
	s.drain(ctx)
	return nil
}

// PeerLost forgets a peer that went away: its negotiation is stopped, its
// queued transactions are failed, both uses of its record are dropped and
// its descriptor is released.
func (s *Scheduler) PeerLost(ctx context.Context, mac model.MACAddress) {
	if s.nego.state != StateIdle && s.nego.mac == mac {
		s.NegoStop(ctx)
	}
	for _, txn := range s.ring.removePeer(mac) {
		if txn.Granted != nil {
			txn.Granted(ctx, Grant{
				Peer:   txn.Peer,
				Type:   txn.Type,
				Role:   txn.Role,
				Record: -1,
				Err:    reject(model.ReasonUnspecified, fmt.Errorf("peer %s lost", mac)),
			})
		}
	}
	s.metrics.SetQueuedTransactions(s.ring.len())
	if _, ok := s.peers.RecordByMAC(mac); ok {
		for _, typ := range []NegoType{NegoDataLink, NegoRanging} {
			if err := s.DropResources(ctx, mac, typ); err != nil {
				s.log.Warn(ctx, "drop on peer loss failed",
					logging.MAC("peer", mac),
					logging.String("type", typ.String()),
					logging.String("error", err.Error()),
				)
			}
		}
	}
	if h, ok := s.peers.LookupPeer(mac); ok {
		s.peers.ReleasePeer(h)
	}
	delete(s.overrides, mac)
	s.drain(ctx)
}
