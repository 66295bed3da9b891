package model

import "fmt"

// Band identifies a radio band.
type Band uint8

const (
	BandNone Band = iota
	Band2G4
	Band5G
	Band6G
)

func (b Band) String() string {
	switch b {
	case Band2G4:
		return "2.4G"
	case Band5G:
		return "5G"
	case Band6G:
		return "6G"
	default:
		return "none"
	}
}

// ParseBand accepts the names produced by Band.String.
func ParseBand(s string) (Band, error) {
	switch s {
	case "2.4G", "2g4", "2.4", "2G":
		return Band2G4, nil
	case "5G", "5g", "5":
		return Band5G, nil
	case "6G", "6g", "6":
		return Band6G, nil
	}
	return BandNone, fmt.Errorf("unknown band %q", s)
}

// BandMask is a set of bands, as carried by a band-selector descriptor.
type BandMask uint8

const (
	BandMask2G4 BandMask = 1 << 0
	BandMask5G  BandMask = 1 << 1
	BandMask6G  BandMask = 1 << 2
)

// MaskOf returns the single-band mask for b.
func MaskOf(b Band) BandMask {
	switch b {
	case Band2G4:
		return BandMask2G4
	case Band5G:
		return BandMask5G
	case Band6G:
		return BandMask6G
	}
	return 0
}

func (m BandMask) Has(b Band) bool {
	bit := MaskOf(b)
	return bit != 0 && m&bit != 0
}

// Bands lists the bands in the mask, 2.4 GHz first.
func (m BandMask) Bands() []Band {
	var out []Band
	for _, b := range []Band{Band2G4, Band5G, Band6G} {
		if m.Has(b) {
			out = append(out, b)
		}
	}
	return out
}

// ChannelKind distinguishes the two arms of a channel descriptor.
type ChannelKind uint8

const (
	ChannelKindNone ChannelKind = iota
	ChannelKindBand
	ChannelKindChannel
)

const rawBandFlag = uint32(1) << 31

// ChannelDescriptor is either a band selector or a specific channel
// (operating class, primary channel and, for 80+80, the centre of the second
// 80 MHz segment).
type ChannelDescriptor struct {
	Kind           ChannelKind
	Bands          BandMask
	OperatingClass uint8
	Primary        uint8
	AuxCenter      uint8
}

// NewChannel builds a specific-channel descriptor.
func NewChannel(opClass, primary uint8) ChannelDescriptor {
	return ChannelDescriptor{Kind: ChannelKindChannel, OperatingClass: opClass, Primary: primary}
}

// NewChannel8080 builds an 80+80 descriptor; auxCenter is the centre channel
// of the second segment.
func NewChannel8080(opClass, primary, auxCenter uint8) ChannelDescriptor {
	return ChannelDescriptor{Kind: ChannelKindChannel, OperatingClass: opClass, Primary: primary, AuxCenter: auxCenter}
}

// NewBandSelector builds a band-selector descriptor.
func NewBandSelector(mask BandMask) ChannelDescriptor {
	return ChannelDescriptor{Kind: ChannelKindBand, Bands: mask}
}

// IsZero reports "no channel".
func (c ChannelDescriptor) IsZero() bool {
	return c.Raw() == 0
}

// IsChannel reports whether c names a specific channel.
func (c ChannelDescriptor) IsChannel() bool {
	return c.Kind == ChannelKindChannel && c.Primary != 0
}

// Raw packs the descriptor into its 32-bit form: bit 31 selects the band
// arm; otherwise bits 0..7 carry the operating class, 8..15 the primary
// channel and 16..23 the auxiliary centre.
func (c ChannelDescriptor) Raw() uint32 {
	switch c.Kind {
	case ChannelKindBand:
		if c.Bands == 0 {
			return 0
		}
		return rawBandFlag | uint32(c.Bands)
	case ChannelKindChannel:
		return uint32(c.OperatingClass) | uint32(c.Primary)<<8 | uint32(c.AuxCenter)<<16
	}
	return 0
}

// ChannelFromRaw is the inverse of Raw.
func ChannelFromRaw(raw uint32) ChannelDescriptor {
	if raw == 0 {
		return ChannelDescriptor{}
	}
	if raw&rawBandFlag != 0 {
		return NewBandSelector(BandMask(raw & 0xff))
	}
	return ChannelDescriptor{
		Kind:           ChannelKindChannel,
		OperatingClass: uint8(raw),
		Primary:        uint8(raw >> 8),
		AuxCenter:      uint8(raw >> 16),
	}
}

func (c ChannelDescriptor) String() string {
	switch c.Kind {
	case ChannelKindBand:
		return fmt.Sprintf("bands(%#x)", uint8(c.Bands))
	case ChannelKindChannel:
		if c.AuxCenter != 0 {
			return fmt.Sprintf("ch%d/op%d+%d", c.Primary, c.OperatingClass, c.AuxCenter)
		}
		return fmt.Sprintf("ch%d/op%d", c.Primary, c.OperatingClass)
	}
	return "none"
}
