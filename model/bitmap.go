package model

import (
	"fmt"
	"math/bits"
	"strings"
)

// Timeline geometry. A NAN super-frame (8192 TU) is split into 16 DW intervals
// of 512 TU, each carrying 32 slots of 16 TU.
const (
	SlotDurationTU = 16
	SlotsPerDW     = 32
	DWIntervals    = 16
	TotalSlots     = SlotsPerDW * DWIntervals

	// DW2G4Offset and DW5GOffset are the discovery-window slots inside every
	// DW interval. The 5 GHz DW starts 128 TU after the 2.4 GHz one.
	DW2G4Offset = 0
	DW5GOffset  = 8

	// NDC base-schedule slots: the first slot after the band's DW.
	NDCSlotOffset2G4 = DW2G4Offset + 1
	NDCSlotOffset5G  = DW5GOffset + 1
)

// Bitmap is a 512-slot timeline. Word k holds DW interval k; slot i lives in
// bit i%32 of word i/32.
type Bitmap [DWIntervals]uint32

// BitmapFromSlots returns a bitmap with the given slots set. Out-of-range
// slots are ignored.
func BitmapFromSlots(slots ...int) Bitmap {
	var b Bitmap
	for _, s := range slots {
		b.Set(s)
	}
	return b
}

// FullBitmap returns a bitmap with every slot set.
func FullBitmap() Bitmap {
	var b Bitmap
	for i := range b {
		b[i] = ^uint32(0)
	}
	return b
}

// DWBitmap returns the slots occupied by 2.4 GHz and 5 GHz discovery windows.
func DWBitmap() Bitmap {
	var b Bitmap
	for i := range b {
		b[i] = 1<<DW2G4Offset | 1<<DW5GOffset
	}
	return b
}

// IsDWSlot reports whether slot falls on a discovery window.
func IsDWSlot(slot int) bool {
	off := slot % SlotsPerDW
	return off == DW2G4Offset || off == DW5GOffset
}

func (b *Bitmap) Set(slot int) {
	if slot < 0 || slot >= TotalSlots {
		return
	}
	b[slot/SlotsPerDW] |= 1 << uint(slot%SlotsPerDW)
}

func (b *Bitmap) Clear(slot int) {
	if slot < 0 || slot >= TotalSlots {
		return
	}
	b[slot/SlotsPerDW] &^= 1 << uint(slot%SlotsPerDW)
}

func (b Bitmap) Test(slot int) bool {
	if slot < 0 || slot >= TotalSlots {
		return false
	}
	return b[slot/SlotsPerDW]&(1<<uint(slot%SlotsPerDW)) != 0
}

// SetRange sets n consecutive slots starting at start, clipped to the timeline.
func (b *Bitmap) SetRange(start, n int) {
	for i := 0; i < n; i++ {
		b.Set(start + i)
	}
}

// ClearRange clears n consecutive slots starting at start.
func (b *Bitmap) ClearRange(start, n int) {
	for i := 0; i < n; i++ {
		b.Clear(start + i)
	}
}

// Count returns the population count over all 16 words.
func (b Bitmap) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount32(w)
	}
	return n
}

// WindowCount returns the number of set slots in DW interval w.
func (b Bitmap) WindowCount(w int) int {
	if w < 0 || w >= DWIntervals {
		return 0
	}
	return bits.OnesCount32(b[w])
}

func (b Bitmap) IsZero() bool {
	return b == Bitmap{}
}

func (b Bitmap) Or(o Bitmap) Bitmap {
	for i := range b {
		b[i] |= o[i]
	}
	return b
}

func (b Bitmap) And(o Bitmap) Bitmap {
	for i := range b {
		b[i] &= o[i]
	}
	return b
}

func (b Bitmap) AndNot(o Bitmap) Bitmap {
	for i := range b {
		b[i] &^= o[i]
	}
	return b
}

// Intersects reports whether any slot is set in both bitmaps.
func (b Bitmap) Intersects(o Bitmap) bool {
	for i := range b {
		if b[i]&o[i] != 0 {
			return true
		}
	}
	return false
}

// Slots lists the set slot indices in ascending order.
func (b Bitmap) Slots() []int {
	out := make([]int, 0, b.Count())
	for w, word := range b {
		for word != 0 {
			bit := bits.TrailingZeros32(word)
			out = append(out, w*SlotsPerDW+bit)
			word &^= 1 << uint(bit)
		}
	}
	return out
}

// String renders the bitmap as 16 hex words, DW interval 0 first.
func (b Bitmap) String() string {
	var sb strings.Builder
	for i, w := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%08x", w)
	}
	return sb.String()
}
