package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/model"
)

// Time bitmap limits.
const (
	ShortBitmapLen = 4
	MaxBitmapLen   = model.TotalSlots / 8
	timeBitmapHdr  = 3
)

// TimeBitmapControl is the decoded Time Bitmap Control field. Duration and
// Period are in slots; a zero Period means the bitmap is not repeated.
type TimeBitmapControl struct {
	Duration int
	Period   int
	Start    int
}

// Raw packs the control field: bits 0..2 bit duration (16 << n TU), bits 3..5
// period (0 none, n>0 means 64 << n TU), bits 6..14 start offset in slots.
func (c TimeBitmapControl) Raw() uint16 {
	var d, p uint16
	for (1 << d) < c.Duration {
		d++
	}
	if c.Period > 0 {
		p = 1
		for (8 << (p - 1)) < c.Period {
			p++
		}
	}
	return d&0x7 | (p&0x7)<<3 | uint16(c.Start&0x1ff)<<6
}

// ParseTimeBitmapControl validates and decodes a raw control field.
func ParseTimeBitmapControl(v uint16) (TimeBitmapControl, error) {
	d := v & 0x7
	if d > 3 {
		return TimeBitmapControl{}, fmt.Errorf("%w: bit duration code %d", ErrMalformed, d)
	}
	c := TimeBitmapControl{Duration: 1 << d, Start: int(v>>6) & 0x1ff}
	if p := (v >> 3) & 0x7; p > 0 {
		c.Period = 8 << (p - 1)
	}
	return c, nil
}

// TimeBitmap is the compact wire form of a timeline.
type TimeBitmap struct {
	Control TimeBitmapControl
	Bitmap  []byte
}

// Decode expands the compact form over the full timeline. Bits past the end
// of a period wrap into it; a non-repeating bitmap is placed once.
func (tb TimeBitmap) Decode() model.Bitmap {
	var out model.Bitmap
	c := tb.Control
	if c.Duration <= 0 {
		return out
	}
	period := c.Period
	if period <= 0 || period > model.TotalSlots {
		period = 0
	}
	for k := 0; k < len(tb.Bitmap)*8; k++ {
		if tb.Bitmap[k/8]&(1<<uint(k%8)) == 0 {
			continue
		}
		for d := 0; d < c.Duration; d++ {
			s := c.Start + k*c.Duration + d
			if period == 0 {
				out.Set(s)
				continue
			}
			for rep := s % period; rep < model.TotalSlots; rep += period {
				out.Set(rep)
			}
		}
	}
	return out
}

// AppendBinary appends control, length and bitmap to buf.
func (tb TimeBitmap) AppendBinary(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, tb.Control.Raw())
	buf = append(buf, byte(len(tb.Bitmap)))
	return append(buf, tb.Bitmap...)
}

// ParseTimeBitmap reads one time bitmap from the front of data and returns
// the number of bytes consumed.
func ParseTimeBitmap(data []byte) (TimeBitmap, int, error) {
	if len(data) < timeBitmapHdr {
		return TimeBitmap{}, 0, fmt.Errorf("%w: time bitmap header", ErrTruncated)
	}
	ctrl, err := ParseTimeBitmapControl(binary.LittleEndian.Uint16(data))
	if err != nil {
		return TimeBitmap{}, 0, err
	}
	n := int(data[2])
	if n > MaxBitmapLen {
		return TimeBitmap{}, 0, fmt.Errorf("%w: time bitmap length %d", ErrMalformed, n)
	}
	if len(data) < timeBitmapHdr+n {
		return TimeBitmap{}, 0, fmt.Errorf("%w: time bitmap body", ErrTruncated)
	}
	bm := make([]byte, n)
	copy(bm, data[timeBitmapHdr:timeBitmapHdr+n])
	return TimeBitmap{Control: ctrl, Bitmap: bm}, timeBitmapHdr + n, nil
}

// EncodeTimeBitmap compresses a timeline. It picks the shortest period at
// which the timeline repeats and the coarsest bit duration that keeps the
// runs of one period exact. If that does not fit ShortBitmapLen bytes the
// duration is coarsened further, OR-ing slot groups, so the decoded result
// is a superset of b. When even 128 TU does not fit, the exact long form is
// emitted instead.
func EncodeTimeBitmap(b model.Bitmap) TimeBitmap {
	if b.IsZero() {
		return TimeBitmap{Control: TimeBitmapControl{Duration: 1}}
	}
	period := repeatPeriod(b)
	first, last := -1, -1
	for s := 0; s < period; s++ {
		if b.Test(s) {
			if first < 0 {
				first = s
			}
			last = s
		}
	}

	exact := 1
	for d := 8; d > 1; d /= 2 {
		if alignedAt(b, period, first, last, d) {
			exact = d
			break
		}
	}
	for d := exact; d <= 8; d *= 2 {
		tb := packBits(b, period, first, last, d)
		if len(tb.Bitmap) <= ShortBitmapLen {
			return tb
		}
	}
	return packBits(b, period, first, last, exact)
}

// repeatPeriod halves the period while both halves of the current period
// are identical. The result is never below 8 slots (128 TU).
func repeatPeriod(b model.Bitmap) int {
	p := model.TotalSlots
	for p > 8 {
		half := p / 2
		same := true
		for s := 0; s < half && same; s++ {
			same = b.Test(s) == b.Test(s+half)
		}
		if !same {
			break
		}
		p = half
	}
	return p
}

// alignedAt reports whether every d-slot group, counted from the group
// holding first, is either fully set or fully clear.
func alignedAt(b model.Bitmap, period, first, last, d int) bool {
	start := first / d * d
	for g := start; g <= last; g += d {
		v := b.Test(g)
		for s := g + 1; s < g+d; s++ {
			if s < period && b.Test(s) != v {
				return false
			}
			if s >= period && v {
				return false
			}
		}
	}
	return true
}

func packBits(b model.Bitmap, period, first, last, d int) TimeBitmap {
	start := first / d * d
	n := (last-start)/d + 1
	bm := make([]byte, (n+7)/8)
	for k := 0; k < n; k++ {
		for s := start + k*d; s < start+(k+1)*d && s < period; s++ {
			if b.Test(s) {
				bm[k/8] |= 1 << uint(k%8)
				break
			}
		}
	}
	return TimeBitmap{
		Control: TimeBitmapControl{Duration: d, Period: period, Start: start},
		Bitmap:  bm,
	}
}
