package model

import (
	"fmt"
	"net"
)

// Per-peer availability bounds.
const (
	MaxMaps             = 4
	MaxEntriesPerMap    = 8
	MaxChannelsPerEntry = 4
)

// EntryType flags the kind of an availability entry. An entry may carry more
// than one flag.
type EntryType uint8

const (
	EntryCommitted   EntryType = 1 << 0
	EntryPotential   EntryType = 1 << 1
	EntryConditional EntryType = 1 << 2
)

func (t EntryType) Has(f EntryType) bool { return t&f != 0 }

// EntryControl is the decoded Entry Control field of an availability entry.
type EntryControl struct {
	Type              EntryType
	Preference        uint8 // 2 bits
	Utilization       uint8 // 3 bits
	RxNSS             uint8 // 4 bits
	TimeBitmapPresent bool
}

// Raw packs the control field: bits 0..2 type, 3..4 preference,
// 5..7 utilization, 8..11 Rx NSS, bit 12 time bitmap present.
func (c EntryControl) Raw() uint16 {
	v := uint16(c.Type&0x7) |
		uint16(c.Preference&0x3)<<3 |
		uint16(c.Utilization&0x7)<<5 |
		uint16(c.RxNSS&0xf)<<8
	if c.TimeBitmapPresent {
		v |= 1 << 12
	}
	return v
}

func EntryControlFromRaw(v uint16) EntryControl {
	return EntryControl{
		Type:              EntryType(v & 0x7),
		Preference:        uint8(v>>3) & 0x3,
		Utilization:       uint8(v>>5) & 0x7,
		RxNSS:             uint8(v>>8) & 0xf,
		TimeBitmapPresent: v&(1<<12) != 0,
	}
}

// AvailabilityEntry is one entry of a peer's availability map.
type AvailabilityEntry struct {
	Control  EntryControl
	Slots    Bitmap
	Channels []ChannelDescriptor
}

// AvailabilityMap is the set of entries advertised under one map ID.
type AvailabilityMap struct {
	MapID   uint8
	Entries []AvailabilityEntry
}

// ScheduleEntry is one (map ID, time bitmap) pair as used by immutable NDL,
// ranging and NDC schedules.
type ScheduleEntry struct {
	MapID uint8
	Slots Bitmap
}

// NDCID is a NAN Data Cluster identifier (50-6F-9A-01-xx-xx).
type NDCID [6]byte

func (id NDCID) IsZero() bool { return id == NDCID{} }

func (id NDCID) String() string { return MACAddress(id).String() }

// MACAddress is an IEEE 802 address.
type MACAddress [6]byte

func (m MACAddress) IsZero() bool { return m == MACAddress{} }

func (m MACAddress) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 17)
	for i, b := range m {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, hex[b>>4], hex[b&0xf])
	}
	return string(buf)
}

// ParseMAC accepts the forms understood by net.ParseMAC, limited to 48 bits.
func ParseMAC(s string) (MACAddress, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MACAddress{}, err
	}
	if len(hw) != 6 {
		return MACAddress{}, fmt.Errorf("mac %q: want 6 bytes, got %d", s, len(hw))
	}
	var m MACAddress
	copy(m[:], hw)
	return m, nil
}
