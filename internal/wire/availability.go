package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// Availability is one NAN Availability attribute, i.e. one map.
type Availability struct {
	SequenceID       uint8
	MapID            uint8
	CommittedChanged bool
	PotentialChanged bool
	PublicChanged    bool
	NDCChanged       bool
	Entries          []model.AvailabilityEntry
}

// Map returns the availability map carried by the attribute.
func (a Availability) Map() model.AvailabilityMap {
	return model.AvailabilityMap{MapID: a.MapID, Entries: a.Entries}
}

func (a Availability) control() uint16 {
	v := uint16(a.MapID & 0xf)
	for bit, set := range []bool{a.CommittedChanged, a.PotentialChanged, a.PublicChanged, a.NDCChanged} {
		if set {
			v |= 1 << uint(4+bit)
		}
	}
	return v
}

const (
	channelListTypeChannel = 1 << 0
	channelListNonContig   = 1 << 1
)

func (a Availability) MarshalBinary() ([]byte, error) {
	if len(a.Entries) > model.MaxEntriesPerMap {
		return nil, fmt.Errorf("%w: %d availability entries", ErrTooManyEntries, len(a.Entries))
	}
	b := []byte{a.SequenceID}
	b = binary.LittleEndian.AppendUint16(b, a.control())
	for _, e := range a.Entries {
		eb, err := appendEntry(nil, e)
		if err != nil {
			return nil, err
		}
		b = binary.LittleEndian.AppendUint16(b, uint16(len(eb)))
		b = append(b, eb...)
	}
	return AppendAttribute(nil, AttrAvailability, b), nil
}

func appendEntry(buf []byte, e model.AvailabilityEntry) ([]byte, error) {
	if len(e.Channels) > model.MaxChannelsPerEntry {
		return nil, fmt.Errorf("%w: %d channels in entry", ErrTooManyEntries, len(e.Channels))
	}
	ctrl := e.Control
	ctrl.TimeBitmapPresent = e.Slots != model.FullBitmap()
	buf = binary.LittleEndian.AppendUint16(buf, ctrl.Raw())
	if ctrl.TimeBitmapPresent {
		buf = EncodeTimeBitmap(e.Slots).AppendBinary(buf)
	}
	if len(e.Channels) == 0 {
		return buf, nil
	}
	return appendChannelList(buf, e.Channels)
}

func appendChannelList(buf []byte, chans []model.ChannelDescriptor) ([]byte, error) {
	kind := chans[0].Kind
	var ctrl byte
	positions := make([]core.ChannelPosition, 0, len(chans))
	for _, ch := range chans {
		if ch.Kind != kind {
			return nil, fmt.Errorf("%w: mixed band and channel entries", ErrChannelNotEncodable)
		}
		if kind != model.ChannelKindChannel {
			continue
		}
		pos, err := channelPosition(ch)
		if err != nil {
			return nil, err
		}
		if pos.AuxIndex >= 0 {
			ctrl |= channelListNonContig
		}
		positions = append(positions, pos)
	}
	ctrl |= byte(len(chans)) << 4
	if kind != model.ChannelKindChannel {
		buf = append(buf, ctrl)
		for _, ch := range chans {
			buf = append(buf, byte(ch.Bands))
		}
		return buf, nil
	}
	ctrl |= channelListTypeChannel
	buf = append(buf, ctrl)
	for _, pos := range positions {
		buf = append(buf, pos.OperatingClass)
		buf = binary.LittleEndian.AppendUint16(buf, 1<<uint(pos.Index))
		buf = append(buf, 1<<uint(pos.PrimaryBit))
		if ctrl&channelListNonContig != 0 {
			var aux uint16
			if pos.AuxIndex >= 0 {
				aux = 1 << uint(pos.AuxIndex)
			}
			buf = binary.LittleEndian.AppendUint16(buf, aux)
		}
	}
	return buf, nil
}

// channelPosition locates ch in the 16-bit channel bitmap of its operating
// class. Channels past the sixteenth of a class (most of 6 GHz class 131)
// have no bit and can not be carried in an entry.
func channelPosition(ch model.ChannelDescriptor) (core.ChannelPosition, error) {
	pos, err := core.PositionOf(ch)
	if err != nil {
		return core.ChannelPosition{}, fmt.Errorf("%w: %v", ErrChannelNotEncodable, err)
	}
	if pos.Index >= 16 || pos.AuxIndex >= 16 || pos.PrimaryBit >= 8 {
		return core.ChannelPosition{}, fmt.Errorf("%w: %s outside channel bitmap", ErrChannelNotEncodable, ch)
	}
	return pos, nil
}

// Encodable reports whether ch fits a channel entry. Band selectors always
// do.
func Encodable(ch model.ChannelDescriptor) bool {
	if !ch.IsChannel() {
		return true
	}
	_, err := channelPosition(ch)
	return err == nil
}

func (a *Availability) UnmarshalBinary(data []byte) error {
	_, b, err := body(data, AttrAvailability)
	if err != nil {
		return err
	}
	if len(b) < 3 {
		return fmt.Errorf("%w: availability header", ErrTruncated)
	}
	ctrl := binary.LittleEndian.Uint16(b[1:3])
	out := Availability{
		SequenceID:       b[0],
		MapID:            uint8(ctrl & 0xf),
		CommittedChanged: ctrl&(1<<4) != 0,
		PotentialChanged: ctrl&(1<<5) != 0,
		PublicChanged:    ctrl&(1<<6) != 0,
		NDCChanged:       ctrl&(1<<7) != 0,
	}
	for i := 3; i < len(b); {
		if len(out.Entries) == model.MaxEntriesPerMap {
			return fmt.Errorf("%w: more than %d availability entries", ErrTooManyEntries, model.MaxEntriesPerMap)
		}
		if len(b)-i < 2 {
			return fmt.Errorf("%w: entry length", ErrTruncated)
		}
		n := int(binary.LittleEndian.Uint16(b[i : i+2]))
		i += 2
		if len(b)-i < n {
			return fmt.Errorf("%w: entry body wants %d bytes", ErrTruncated, n)
		}
		e, err := parseEntry(b[i : i+n])
		if err != nil {
			return err
		}
		out.Entries = append(out.Entries, e)
		i += n
	}
	*a = out
	return nil
}

func parseEntry(b []byte) (model.AvailabilityEntry, error) {
	if len(b) < 2 {
		return model.AvailabilityEntry{}, fmt.Errorf("%w: entry control", ErrTruncated)
	}
	e := model.AvailabilityEntry{
		Control: model.EntryControlFromRaw(binary.LittleEndian.Uint16(b)),
		Slots:   model.FullBitmap(),
	}
	i := 2
	if e.Control.TimeBitmapPresent {
		tb, n, err := ParseTimeBitmap(b[i:])
		if err != nil {
			return model.AvailabilityEntry{}, err
		}
		e.Slots = tb.Decode()
		i += n
	}
	if i == len(b) {
		return e, nil
	}
	chans, err := parseChannelList(b[i:])
	if err != nil {
		return model.AvailabilityEntry{}, err
	}
	e.Channels = chans
	return e, nil
}

func parseChannelList(b []byte) ([]model.ChannelDescriptor, error) {
	ctrl := b[0]
	count := int(ctrl >> 4)
	b = b[1:]
	var out []model.ChannelDescriptor
	add := func(ch model.ChannelDescriptor) error {
		if len(out) == model.MaxChannelsPerEntry {
			return fmt.Errorf("%w: more than %d channels in entry", ErrTooManyEntries, model.MaxChannelsPerEntry)
		}
		out = append(out, ch)
		return nil
	}
	if ctrl&channelListTypeChannel == 0 {
		if len(b) != count {
			return nil, fmt.Errorf("%w: band entry list length %d, count %d", ErrMalformed, len(b), count)
		}
		for _, m := range b {
			if err := add(model.NewBandSelector(model.BandMask(m))); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	size := 4
	if ctrl&channelListNonContig != 0 {
		size = 6
	}
	if len(b) != count*size {
		return nil, fmt.Errorf("%w: channel entry list length %d, count %d", ErrMalformed, len(b), count)
	}
	for k := 0; k < count; k++ {
		rec := b[k*size : (k+1)*size]
		chanBits := binary.LittleEndian.Uint16(rec[1:3])
		pos := core.ChannelPosition{OperatingClass: rec[0], PrimaryBit: lowestBit(uint16(rec[3])), AuxIndex: -1}
		if size == 6 {
			if aux := binary.LittleEndian.Uint16(rec[4:6]); aux != 0 {
				pos.AuxIndex = lowestBit(aux)
			}
		}
		for idx := 0; idx < 16; idx++ {
			if chanBits&(1<<uint(idx)) == 0 {
				continue
			}
			pos.Index = idx
			ch, err := core.ChannelAtPosition(pos)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if err := add(ch); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func lowestBit(v uint16) int {
	for i := 0; i < 16; i++ {
		if v&(1<<uint(i)) != 0 {
			return i
		}
	}
	return 0
}
