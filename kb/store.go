// Package kb is the peer schedule store: a bounded pool of peer descriptors
// keyed by MAC address, the active schedule records that reference them and
// the NDC reservation pool.
//
// The store is not safe for concurrent use; the scheduler serializes access.
package kb

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/internal/wire"
	"github.com/signalsfoundry/nan-scheduler/model"
)

var (
	ErrPeerPoolFull    = errors.New("kb: peer descriptor pool exhausted")
	ErrNoRecord        = errors.New("kb: no free schedule record")
	ErrNDCPoolFull     = errors.New("kb: ndc pool exhausted")
	ErrUnknownPeer     = errors.New("kb: unknown peer handle")
	ErrUnknownRecord   = errors.New("kb: unknown schedule record")
	ErrTooManyMaps     = errors.New("kb: too many availability maps")
	ErrUnsupportedAttr = errors.New("kb: unsupported attribute")
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventPeerAcquired EventType = iota
	EventPeerReclaimed
	EventPeerReleased
	EventAttributeApplied
	EventRecordAcquired
	EventRecordReleased
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type   EventType
	MAC    model.MACAddress
	Record int
	Attr   wire.AttributeID
}

// Limits sizes the pools.
type Limits struct {
	Peers   int
	Records int
	NDCs    int
}

// DefaultLimits matches the firmware tables.
var DefaultLimits = Limits{Peers: 8, Records: 4, NDCs: 4}

// Store holds the pools.
type Store struct {
	peers []Peer
	free  []int
	byMAC map[model.MACAddress]int
	clock uint64

	records []Record
	ndcs    []NDC

	subs []func(Event)
}

// NewStore constructs empty pools.
func NewStore(l Limits) *Store {
	s := &Store{
		peers:   make([]Peer, l.Peers),
		free:    make([]int, 0, l.Peers),
		byMAC:   make(map[model.MACAddress]int),
		records: make([]Record, l.Records),
		ndcs:    make([]NDC, l.NDCs),
	}
	for i := l.Peers - 1; i >= 0; i-- {
		s.free = append(s.free, i)
	}
	for i := range s.records {
		s.records[i].reset()
	}
	return s
}

// Subscribe registers a callback for store events. It returns an
// unsubscribe function.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subs = append(s.subs, fn)
	idx := len(s.subs) - 1
	return func() {
		if idx < 0 || idx >= len(s.subs) {
			return
		}
		s.subs[idx] = nil
		idx = -1
	}
}

func (s *Store) emit(e Event) {
	for _, sub := range s.subs {
		if sub != nil {
			sub(e)
		}
	}
}

func (s *Store) touch(i int) {
	s.clock++
	s.peers[i].lastUsed = s.clock
}

// AcquirePeer returns the descriptor for mac, allocating one on first
// reference. When the pool is exhausted the least recently used descriptor
// that is not in use is reclaimed.
func (s *Store) AcquirePeer(mac model.MACAddress) (PeerHandle, error) {
	if i, ok := s.byMAC[mac]; ok {
		s.touch(i)
		return PeerHandle(i), nil
	}
	i := -1
	if n := len(s.free); n > 0 {
		i = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		for j := range s.peers {
			if s.peers[j].InUse {
				continue
			}
			if i < 0 || s.peers[j].lastUsed < s.peers[i].lastUsed {
				i = j
			}
		}
		if i < 0 {
			return NoPeer, fmt.Errorf("%w: %s", ErrPeerPoolFull, mac)
		}
		delete(s.byMAC, s.peers[i].MAC)
		s.emit(Event{Type: EventPeerReclaimed, MAC: s.peers[i].MAC, Record: -1})
	}
	s.peers[i].reset(mac)
	s.byMAC[mac] = i
	s.touch(i)
	s.emit(Event{Type: EventPeerAcquired, MAC: mac, Record: -1})
	return PeerHandle(i), nil
}

// LookupPeer finds the descriptor for mac without allocating.
func (s *Store) LookupPeer(mac model.MACAddress) (PeerHandle, bool) {
	i, ok := s.byMAC[mac]
	return PeerHandle(i), ok
}

// Peer returns the descriptor behind h. The pointer stays valid until the
// descriptor is released or reclaimed.
func (s *Store) Peer(h PeerHandle) (*Peer, error) {
	if int(h) < 0 || int(h) >= len(s.peers) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, h)
	}
	p := &s.peers[h]
	if i, ok := s.byMAC[p.MAC]; !ok || i != int(h) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, h)
	}
	return p, nil
}

// ReleasePeer zeroes the descriptor and returns it to the free list.
func (s *Store) ReleasePeer(h PeerHandle) {
	p, err := s.Peer(h)
	if err != nil {
		return
	}
	mac := p.MAC
	delete(s.byMAC, mac)
	s.peers[h] = Peer{}
	s.free = append(s.free, int(h))
	s.emit(Event{Type: EventPeerReleased, MAC: mac, Record: -1})
}

// PeerCount returns the number of descriptors currently allocated.
func (s *Store) PeerCount() int { return len(s.byMAC) }

// ApplyAttribute decodes one raw attribute into the peer descriptor. An
// attribute identical to the last one applied under the same ID (and map ID
// for availability) is ignored and reported as not applied. A malformed
// attribute leaves the descriptor untouched.
func (s *Store) ApplyAttribute(h PeerHandle, raw []byte) (bool, error) {
	p, err := s.Peer(h)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, fmt.Errorf("%w: empty attribute", wire.ErrTruncated)
	}
	id := wire.AttributeID(raw[0])
	key := uint16(id) << 8
	if id == wire.AttrAvailability && len(raw) >= wire.HeaderLen+3 {
		key |= uint16(raw[wire.HeaderLen+1] & 0xf)
	}
	token := xxhash.Sum64(raw)
	if prev, ok := p.tokens[key]; ok && prev == token {
		return false, nil
	}

	switch id {
	case wire.AttrAvailability:
		var a wire.Availability
		if err := a.UnmarshalBinary(raw); err != nil {
			return false, err
		}
		if err := p.setMap(a.Map()); err != nil {
			return false, err
		}
	case wire.AttrDeviceCapability:
		var c wire.DeviceCapability
		if err := c.UnmarshalBinary(raw); err != nil {
			return false, err
		}
		p.setCapability(c)
	case wire.AttrNDL, wire.AttrRangingSchedule:
		var sc wire.Schedule
		if err := sc.UnmarshalBinary(raw); err != nil {
			return false, err
		}
		if sc.Ranging {
			p.Ranging = sc.Entries
		} else {
			p.Immutable = sc.Entries
		}
	case wire.AttrNDC:
		var n wire.NDC
		if err := n.UnmarshalBinary(raw); err != nil {
			return false, err
		}
		p.NDC = NDCSelection{ID: n.ID, Selected: n.Selected, Slots: n.Timeline()}
	case wire.AttrNDLQoS:
		var q wire.NDLQoS
		if err := q.UnmarshalBinary(raw); err != nil {
			return false, err
		}
		p.QoS = q.QoS()
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedAttr, id)
	}
	p.tokens[key] = token
	s.touch(int(h))
	s.emit(Event{Type: EventAttributeApplied, MAC: p.MAC, Record: -1, Attr: id})
	return true, nil
}

// ApplyAttributes applies a concatenation of attributes, stopping at the
// first error. It returns how many attributes changed the descriptor.
func (s *Store) ApplyAttributes(h PeerHandle, data []byte) (int, error) {
	attrs, err := wire.ParseAttributes(data)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, a := range attrs {
		ok, err := s.ApplyAttribute(h, wire.AppendAttribute(nil, a.ID, a.Body))
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

// timelineCount is the fixed fan-out of per-timeline arrays.
const timelineCount = timeline.MaxTimelines

// SetAvailability replaces one availability map from its decoded form. The
// cached token for that map is dropped so the next wire attribute applies.
func (s *Store) SetAvailability(h PeerHandle, am model.AvailabilityMap) error {
	p, err := s.Peer(h)
	if err != nil {
		return err
	}
	if err := p.setMap(am); err != nil {
		return err
	}
	delete(p.tokens, uint16(wire.AttrAvailability)<<8|uint16(am.MapID&0xf))
	s.touch(int(h))
	s.emit(Event{Type: EventAttributeApplied, MAC: p.MAC, Record: -1, Attr: wire.AttrAvailability})
	return nil
}
