package kb

import (
	"github.com/signalsfoundry/nan-scheduler/internal/wire"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// PeerHandle addresses a peer descriptor in the pool.
type PeerHandle int

// NoPeer is the zero-value-safe invalid handle.
const NoPeer PeerHandle = -1

// NDCSelection is the NDC a peer advertised.
type NDCSelection struct {
	ID       model.NDCID
	Selected bool
	Slots    model.Bitmap
}

// Peer is everything learned about one remote device.
type Peer struct {
	MAC          model.MACAddress
	Maps         []model.AvailabilityMap
	Capabilities []wire.DeviceCapability
	Immutable    []model.ScheduleEntry
	Ranging      []model.ScheduleEntry
	NDC          NDCSelection
	QoS          model.QoS
	InUse        bool

	tokens   map[uint16]uint64
	lastUsed uint64
}

func (p *Peer) reset(mac model.MACAddress) {
	*p = Peer{MAC: mac, tokens: make(map[uint16]uint64)}
}

// ImmutableTimeline unions the immutable NDL schedule.
func (p *Peer) ImmutableTimeline() model.Bitmap {
	return wire.Schedule{Entries: p.Immutable}.Timeline()
}

// RangingTimeline unions the ranging schedule.
func (p *Peer) RangingTimeline() model.Bitmap {
	return wire.Schedule{Entries: p.Ranging}.Timeline()
}

// Timeline unions the slots of every entry of the given types.
func (p *Peer) Timeline(types model.EntryType) model.Bitmap {
	var out model.Bitmap
	for _, m := range p.Maps {
		for _, e := range m.Entries {
			if e.Control.Type&types != 0 {
				out = out.Or(e.Slots)
			}
		}
	}
	return out
}

// ChannelAt returns the first specific channel the peer advertised for slot
// in an entry of the given types.
func (p *Peer) ChannelAt(slot int, types model.EntryType) (model.ChannelDescriptor, bool) {
	for _, m := range p.Maps {
		for _, e := range m.Entries {
			if e.Control.Type&types == 0 || !e.Slots.Test(slot) {
				continue
			}
			for _, ch := range e.Channels {
				if ch.IsChannel() {
					return ch, true
				}
			}
		}
	}
	return model.ChannelDescriptor{}, false
}

// ChannelsAt returns every channel the peer advertised for slot in entries
// of the given types.
func (p *Peer) ChannelsAt(slot int, types model.EntryType) []model.ChannelDescriptor {
	var out []model.ChannelDescriptor
	for _, m := range p.Maps {
		for _, e := range m.Entries {
			if e.Control.Type&types == 0 || !e.Slots.Test(slot) {
				continue
			}
			out = append(out, e.Channels...)
		}
	}
	return out
}

// SupportedBands unions the bands from every capability attribute. A peer
// that sent none is assumed to support every band.
func (p *Peer) SupportedBands() model.BandMask {
	var m model.BandMask
	for _, c := range p.Capabilities {
		m |= c.SupportedBands
	}
	if m == 0 {
		return model.BandMask2G4 | model.BandMask5G | model.BandMask6G
	}
	return m
}

func (p *Peer) setMap(am model.AvailabilityMap) error {
	for i := range p.Maps {
		if p.Maps[i].MapID == am.MapID {
			p.Maps[i] = am
			return nil
		}
	}
	if len(p.Maps) == model.MaxMaps {
		return ErrTooManyMaps
	}
	p.Maps = append(p.Maps, am)
	return nil
}

func (p *Peer) setCapability(c wire.DeviceCapability) {
	for i := range p.Capabilities {
		if p.Capabilities[i].MapID == c.MapID {
			p.Capabilities[i] = c
			return
		}
	}
	if len(p.Capabilities) < model.MaxMaps {
		p.Capabilities = append(p.Capabilities, c)
	}
}
