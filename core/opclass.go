package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/nan-scheduler/model"
)

// Width is a channel bandwidth in MHz.
type Width uint16

const (
	Width20  Width = 20
	Width40  Width = 40
	Width80  Width = 80
	Width160 Width = 160
	Width320 Width = 320
)

var (
	ErrUnknownOperatingClass = errors.New("core: unknown operating class")
	ErrChannelNotInClass     = errors.New("core: channel not valid for operating class")
	ErrNotAChannel           = errors.New("core: descriptor does not name a channel")
)

// OperatingClass is one row of the IEEE 802.11 global operating class table.
// For 20/40 MHz classes Channels lists primaries; for CenterList classes it
// lists segment centre channels.
type OperatingClass struct {
	ID         uint8
	Band       model.Band
	Width      Width
	Secondary  int // +1 secondary above, -1 below (2.4/5 GHz 40 MHz only)
	Split      bool
	CenterList bool
	Channels   []uint8
}

func seq(from, to, step int) []uint8 {
	out := make([]uint8, 0, (to-from)/step+1)
	for c := from; c <= to; c += step {
		out = append(out, uint8(c))
	}
	return out
}

var operatingClasses = map[uint8]OperatingClass{
	81: {ID: 81, Band: model.Band2G4, Width: Width20, Channels: seq(1, 13, 1)},
	83: {ID: 83, Band: model.Band2G4, Width: Width40, Secondary: +1, Channels: seq(1, 9, 1)},
	84: {ID: 84, Band: model.Band2G4, Width: Width40, Secondary: -1, Channels: seq(5, 13, 1)},

	115: {ID: 115, Band: model.Band5G, Width: Width20, Channels: seq(36, 48, 4)},
	116: {ID: 116, Band: model.Band5G, Width: Width40, Secondary: +1, Channels: []uint8{36, 44}},
	117: {ID: 117, Band: model.Band5G, Width: Width40, Secondary: -1, Channels: []uint8{40, 48}},
	118: {ID: 118, Band: model.Band5G, Width: Width20, Channels: seq(52, 64, 4)},
	119: {ID: 119, Band: model.Band5G, Width: Width40, Secondary: +1, Channels: []uint8{52, 60}},
	120: {ID: 120, Band: model.Band5G, Width: Width40, Secondary: -1, Channels: []uint8{56, 64}},
	121: {ID: 121, Band: model.Band5G, Width: Width20, Channels: seq(100, 144, 4)},
	122: {ID: 122, Band: model.Band5G, Width: Width40, Secondary: +1, Channels: seq(100, 140, 8)},
	123: {ID: 123, Band: model.Band5G, Width: Width40, Secondary: -1, Channels: seq(104, 144, 8)},
	124: {ID: 124, Band: model.Band5G, Width: Width20, Channels: seq(149, 161, 4)},
	125: {ID: 125, Band: model.Band5G, Width: Width20, Channels: seq(149, 177, 4)},
	126: {ID: 126, Band: model.Band5G, Width: Width40, Secondary: +1, Channels: seq(149, 173, 8)},
	127: {ID: 127, Band: model.Band5G, Width: Width40, Secondary: -1, Channels: seq(153, 177, 8)},
	128: {ID: 128, Band: model.Band5G, Width: Width80, CenterList: true, Channels: []uint8{42, 58, 106, 122, 138, 155, 171}},
	129: {ID: 129, Band: model.Band5G, Width: Width160, CenterList: true, Channels: []uint8{50, 114, 163}},
	130: {ID: 130, Band: model.Band5G, Width: Width80, Split: true, CenterList: true, Channels: []uint8{42, 58, 106, 122, 138, 155, 171}},

	131: {ID: 131, Band: model.Band6G, Width: Width20, Channels: seq(1, 233, 4)},
	132: {ID: 132, Band: model.Band6G, Width: Width40, CenterList: true, Channels: seq(3, 227, 8)},
	133: {ID: 133, Band: model.Band6G, Width: Width80, CenterList: true, Channels: seq(7, 215, 16)},
	134: {ID: 134, Band: model.Band6G, Width: Width160, CenterList: true, Channels: seq(15, 207, 32)},
	135: {ID: 135, Band: model.Band6G, Width: Width80, Split: true, CenterList: true, Channels: seq(7, 215, 16)},
	137: {ID: 137, Band: model.Band6G, Width: Width320, CenterList: true, Channels: seq(31, 191, 32)},
}

// LookupOperatingClass returns the table row for id.
func LookupOperatingClass(id uint8) (OperatingClass, bool) {
	oc, ok := operatingClasses[id]
	return oc, ok
}

// Index returns the position of ch in the class channel list, or -1.
func (oc OperatingClass) Index(ch uint8) int {
	for i, c := range oc.Channels {
		if c == ch {
			return i
		}
	}
	return -1
}

// halfSpan is the distance, in channel numbers, from a segment centre to the
// outermost 20 MHz primary inside it.
func (w Width) halfSpan() int {
	return int(w)/10 - 2
}

// CenterFor derives the centre channel of the (first) segment that holds
// primary.
func (oc OperatingClass) CenterFor(primary uint8) (uint8, error) {
	switch {
	case oc.Width == Width20:
		if oc.Index(primary) < 0 {
			return 0, fmt.Errorf("%w: ch%d op%d", ErrChannelNotInClass, primary, oc.ID)
		}
		return primary, nil
	case !oc.CenterList:
		if oc.Index(primary) < 0 {
			return 0, fmt.Errorf("%w: ch%d op%d", ErrChannelNotInClass, primary, oc.ID)
		}
		return uint8(int(primary) + 2*oc.Secondary), nil
	}
	hs := oc.Width.halfSpan()
	for _, c := range oc.Channels {
		d := int(primary) - int(c)
		if d >= -hs && d <= hs && (d+hs)%4 == 0 {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: ch%d op%d", ErrChannelNotInClass, primary, oc.ID)
}

// BandOf returns the band a descriptor lives in. Band selectors report their
// lowest band.
func BandOf(ch model.ChannelDescriptor) model.Band {
	switch ch.Kind {
	case model.ChannelKindChannel:
		if oc, ok := operatingClasses[ch.OperatingClass]; ok {
			return oc.Band
		}
	case model.ChannelKindBand:
		if bands := ch.Bands.Bands(); len(bands) > 0 {
			return bands[0]
		}
	}
	return model.BandNone
}

// WidthOf returns the total bandwidth of a channel descriptor; 80+80 reports 160.
func WidthOf(ch model.ChannelDescriptor) Width {
	oc, ok := operatingClasses[ch.OperatingClass]
	if !ok || ch.Kind != model.ChannelKindChannel {
		return 0
	}
	if oc.Split {
		return 2 * oc.Width
	}
	return oc.Width
}

// ChannelFor finds an operating class of the given band and width that can
// carry primary and returns the descriptor.
func ChannelFor(band model.Band, primary uint8, width Width) (model.ChannelDescriptor, error) {
	ids := make([]int, 0, len(operatingClasses))
	for id := range operatingClasses {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		oc := operatingClasses[uint8(id)]
		if oc.Band != band || oc.Width != width || oc.Split {
			continue
		}
		if _, err := oc.CenterFor(primary); err == nil {
			return model.NewChannel(oc.ID, primary), nil
		}
	}
	return model.ChannelDescriptor{}, fmt.Errorf("%w: ch%d %s/%dMHz", ErrChannelNotInClass, primary, band, width)
}

// DefaultChannel is the channel used for a band when nothing is committed
// and no fixed channel is configured: 6 on 2.4 GHz, 149 on 5 GHz and the
// preferred scanning channel 37 on 6 GHz.
func DefaultChannel(band model.Band, width Width) model.ChannelDescriptor {
	var primary uint8
	if width == 0 {
		width = Width20
	}
	switch band {
	case model.Band2G4:
		primary, width = 6, Width20
	case model.Band5G:
		primary = 149
		if width >= Width160 {
			primary = 36
		}
	case model.Band6G:
		primary = 37
	default:
		return model.ChannelDescriptor{}
	}
	for w := width; w >= Width20; w /= 2 {
		if ch, err := ChannelFor(band, primary, w); err == nil {
			return ch
		}
	}
	return model.ChannelDescriptor{}
}

// ChannelPosition locates a channel inside its operating class list, the
// form carried by a channel entry on the wire.
type ChannelPosition struct {
	OperatingClass uint8
	Index          int
	PrimaryBit     int
	AuxIndex       int
}

// PositionOf returns the list position of a specific-channel descriptor.
func PositionOf(ch model.ChannelDescriptor) (ChannelPosition, error) {
	a, err := AllocationOf(ch)
	if err != nil {
		return ChannelPosition{}, err
	}
	oc := operatingClasses[ch.OperatingClass]
	pos := ChannelPosition{OperatingClass: oc.ID, AuxIndex: -1}
	if oc.CenterList {
		pos.Index = oc.Index(a.Center0)
		pos.PrimaryBit = (int(ch.Primary) - int(a.Center0) + oc.Width.halfSpan()) / 4
	} else {
		pos.Index = oc.Index(ch.Primary)
	}
	if oc.Split {
		pos.AuxIndex = oc.Index(ch.AuxCenter)
	}
	return pos, nil
}

// ChannelAtPosition is the inverse of PositionOf.
func ChannelAtPosition(pos ChannelPosition) (model.ChannelDescriptor, error) {
	oc, ok := operatingClasses[pos.OperatingClass]
	if !ok {
		return model.ChannelDescriptor{}, fmt.Errorf("%w: %d", ErrUnknownOperatingClass, pos.OperatingClass)
	}
	if pos.Index < 0 || pos.Index >= len(oc.Channels) {
		return model.ChannelDescriptor{}, fmt.Errorf("%w: index %d op%d", ErrChannelNotInClass, pos.Index, oc.ID)
	}
	primary := oc.Channels[pos.Index]
	if oc.CenterList {
		primary = uint8(int(primary) - oc.Width.halfSpan() + 4*pos.PrimaryBit)
	}
	ch := model.NewChannel(oc.ID, primary)
	if oc.Split {
		if pos.AuxIndex < 0 || pos.AuxIndex >= len(oc.Channels) {
			return model.ChannelDescriptor{}, fmt.Errorf("%w: aux index %d op%d", ErrChannelNotInClass, pos.AuxIndex, oc.ID)
		}
		ch.AuxCenter = oc.Channels[pos.AuxIndex]
	}
	if _, err := AllocationOf(ch); err != nil {
		return model.ChannelDescriptor{}, err
	}
	return ch, nil
}
