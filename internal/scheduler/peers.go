package scheduler

import (
	"context"

	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// ApplyPeerAttributes decodes attributes received from mac into its
// descriptor and returns how many changed it. An established link has its
// granted window recomputed and pushed when anything changed.
func (s *Scheduler) ApplyPeerAttributes(ctx context.Context, mac model.MACAddress, data []byte) (int, error) {
	h, err := s.peers.AcquirePeer(mac)
	if err != nil {
		return 0, err
	}
	n, err := s.peers.ApplyAttributes(h, data)
	if err != nil {
		s.log.Warn(ctx, "peer attributes dropped",
			logging.MAC("peer", mac),
			logging.Int("applied", n),
			logging.String("error", err.Error()),
		)
	}
	if n > 0 {
		s.peerChanged(ctx, mac)
	}
	return n, err
}

// SetPeerAvailability replaces availability maps of mac from their decoded
// form.
func (s *Scheduler) SetPeerAvailability(ctx context.Context, mac model.MACAddress, maps ...model.AvailabilityMap) error {
	h, err := s.peers.AcquirePeer(mac)
	if err != nil {
		return err
	}
	for _, m := range maps {
		if err := s.peers.SetAvailability(h, m); err != nil {
			return err
		}
	}
	s.peerChanged(ctx, mac)
	return nil
}

// SetPeerStations records the NDP station indices served by the link with
// mac.
func (s *Scheduler) SetPeerStations(ctx context.Context, mac model.MACAddress, stations []uint8) error {
	idx, ok := s.peers.RecordByMAC(mac)
	if !ok {
		return ErrNoRecord
	}
	r, err := s.peers.Record(idx)
	if err != nil {
		return err
	}
	r.Stations = append([]uint8(nil), stations...)
	s.requestSync([]int{idx})
	s.drain(ctx)
	return nil
}

func (s *Scheduler) peerChanged(ctx context.Context, mac model.MACAddress) {
	idx, ok := s.peers.RecordByMAC(mac)
	if !ok {
		return
	}
	r, err := s.peers.Record(idx)
	if err != nil || r.Usage == 0 {
		return
	}
	if err := s.computeFAW(idx); err != nil {
		return
	}
	s.requestSync([]int{idx})
	s.drain(ctx)
}

// PeerRecordByMAC returns the schedule record held for mac.
func (s *Scheduler) PeerRecordByMAC(mac model.MACAddress) (ScheduleRecord, bool) {
	idx, ok := s.peers.RecordByMAC(mac)
	if !ok {
		return ScheduleRecord{}, false
	}
	return s.recordView(idx)
}

// ScheduleRecords returns every active schedule record by index.
func (s *Scheduler) ScheduleRecords() []ScheduleRecord {
	var out []ScheduleRecord
	for _, idx := range s.peers.ActiveRecords() {
		if v, ok := s.recordView(idx); ok {
			out = append(out, v)
		}
	}
	return out
}

func (s *Scheduler) recordView(idx int) (ScheduleRecord, bool) {
	r, err := s.peers.Record(idx)
	if err != nil {
		return ScheduleRecord{}, false
	}
	v := ScheduleRecord{
		Index:     idx,
		Band:      r.Band,
		Immutable: r.Immutable,
		Ranging:   r.Ranging,
		QoS:       r.QoS,
		Usage:     r.Usage,
		Stations:  append([]uint8(nil), r.Stations...),
	}
	if p, err := s.peers.Peer(r.Peer); err == nil {
		v.Peer = p.MAC
	}
	n := len(s.timelines.Timelines())
	v.FAW = append([]model.Bitmap(nil), r.FAW[:n]...)
	v.Granted = append([]int(nil), r.Granted[:n]...)
	if ndc, ok := s.peers.NDC(r.NDC); ok {
		v.NDC = ndc.ID
	}
	return v, true
}
