package kb

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/nan-scheduler/model"
)

// Usage flags what a schedule record is held for.
type Usage uint8

const (
	UsageDataLink Usage = 1 << iota
	UsageRanging
)

func (u Usage) Has(f Usage) bool { return u&f != 0 }

func (u Usage) String() string {
	var parts []string
	if u.Has(UsageDataLink) {
		parts = append(parts, "data_link")
	}
	if u.Has(UsageRanging) {
		parts = append(parts, "ranging")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// NDCHandle addresses an NDC control block.
type NDCHandle int

// NoNDC marks a record without a selected NDC.
const NoNDC NDCHandle = -1

// Record is one active link with a peer. Its index is the schedule index
// used towards the firmware.
type Record struct {
	Active    bool
	Peer      PeerHandle
	FAW       [timelineCount]model.Bitmap
	Granted   [timelineCount]int
	Band      model.Band
	NDC       NDCHandle
	Immutable model.Bitmap
	Ranging   model.Bitmap
	Stations  []uint8
	QoS       model.QoS
	Usage     Usage
}

func (r *Record) reset() {
	*r = Record{Peer: NoPeer, NDC: NoNDC}
}

// AcquireRecord returns the record already held for peer, or claims the
// first free one and marks the peer in use.
func (s *Store) AcquireRecord(h PeerHandle) (int, error) {
	p, err := s.Peer(h)
	if err != nil {
		return -1, err
	}
	if idx, ok := s.RecordOf(h); ok {
		return idx, nil
	}
	for i := range s.records {
		if s.records[i].Active {
			continue
		}
		s.records[i].reset()
		s.records[i].Active = true
		s.records[i].Peer = h
		p.InUse = true
		s.emit(Event{Type: EventRecordAcquired, MAC: p.MAC, Record: i})
		return i, nil
	}
	return -1, fmt.Errorf("%w: %s", ErrNoRecord, p.MAC)
}

// RecordOf returns the active record that references peer.
func (s *Store) RecordOf(h PeerHandle) (int, bool) {
	for i := range s.records {
		if s.records[i].Active && s.records[i].Peer == h {
			return i, true
		}
	}
	return -1, false
}

// RecordByMAC looks up the active record for a peer address.
func (s *Store) RecordByMAC(mac model.MACAddress) (int, bool) {
	h, ok := s.LookupPeer(mac)
	if !ok {
		return -1, false
	}
	return s.RecordOf(h)
}

// Record returns the record at idx. The pointer is owned by the store.
func (s *Store) Record(idx int) (*Record, error) {
	if idx < 0 || idx >= len(s.records) || !s.records[idx].Active {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRecord, idx)
	}
	return &s.records[idx], nil
}

// ActiveRecords lists the indices of active records in ascending order.
func (s *Store) ActiveRecords() []int {
	var out []int
	for i := range s.records {
		if s.records[i].Active {
			out = append(out, i)
		}
	}
	return out
}

// ReleaseRecord deactivates the record and clears the in-use flag of its
// peer. The peer descriptor itself stays cached for LRU reuse.
func (s *Store) ReleaseRecord(idx int) {
	r, err := s.Record(idx)
	if err != nil {
		return
	}
	var mac model.MACAddress
	if p, err := s.Peer(r.Peer); err == nil {
		p.InUse = false
		mac = p.MAC
	}
	r.reset()
	s.emit(Event{Type: EventRecordReleased, MAC: mac, Record: idx})
}

// NDC is an NDC control block: the cluster ID and the slots reserved for it
// on every band timeline.
type NDC struct {
	Valid bool
	ID    model.NDCID
	Slots [timelineCount]model.Bitmap
}

// AcquireNDC returns the block for id, allocating one if needed.
func (s *Store) AcquireNDC(id model.NDCID) (NDCHandle, error) {
	if h, ok := s.LookupNDC(id); ok {
		return h, nil
	}
	for i := range s.ndcs {
		if !s.ndcs[i].Valid {
			s.ndcs[i] = NDC{Valid: true, ID: id}
			return NDCHandle(i), nil
		}
	}
	return NoNDC, fmt.Errorf("%w: %s", ErrNDCPoolFull, id)
}

// LookupNDC finds the block for id.
func (s *Store) LookupNDC(id model.NDCID) (NDCHandle, bool) {
	for i := range s.ndcs {
		if s.ndcs[i].Valid && s.ndcs[i].ID == id {
			return NDCHandle(i), true
		}
	}
	return NoNDC, false
}

// NDC returns the block behind h.
func (s *Store) NDC(h NDCHandle) (*NDC, bool) {
	if int(h) < 0 || int(h) >= len(s.ndcs) || !s.ndcs[h].Valid {
		return nil, false
	}
	return &s.ndcs[h], true
}

// NDCs lists the valid blocks.
func (s *Store) NDCs() []NDCHandle {
	var out []NDCHandle
	for i := range s.ndcs {
		if s.ndcs[i].Valid {
			out = append(out, NDCHandle(i))
		}
	}
	return out
}

// NDCReferenced reports whether any active record points at h.
func (s *Store) NDCReferenced(h NDCHandle) bool {
	for i := range s.records {
		if s.records[i].Active && s.records[i].NDC == h {
			return true
		}
	}
	return false
}

// ReleaseUnreferencedNDCs frees every block no active record points at and
// returns how many were freed.
func (s *Store) ReleaseUnreferencedNDCs() int {
	n := 0
	for i := range s.ndcs {
		if s.ndcs[i].Valid && !s.NDCReferenced(NDCHandle(i)) {
			s.ndcs[i] = NDC{}
			n++
		}
	}
	return n
}

// ReleaseNDC frees one block unconditionally.
func (s *Store) ReleaseNDC(h NDCHandle) {
	if int(h) >= 0 && int(h) < len(s.ndcs) {
		s.ndcs[h] = NDC{}
	}
}
