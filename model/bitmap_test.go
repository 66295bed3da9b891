package model

import "testing"

func TestBitmapSetClearEverySlot(t *testing.T) {
	for i := 0; i < TotalSlots; i++ {
		var b Bitmap
		b.Set(i)
		if !b.Test(i) || b.Count() != 1 {
			t.Fatalf("slot %d: set then test failed", i)
		}
		if b[i/32]&(1<<uint(i%32)) == 0 {
			t.Fatalf("slot %d stored in wrong word/bit", i)
		}
		b.Clear(i)
		if b.Test(i) || !b.IsZero() {
			t.Fatalf("slot %d: clear left bits behind", i)
		}
	}
}

func TestBitmapOutOfRangeIgnored(t *testing.T) {
	var b Bitmap
	b.Set(-1)
	b.Set(TotalSlots)
	if !b.IsZero() {
		t.Fatalf("out of range set changed bitmap: %s", b)
	}
	if b.Test(TotalSlots) {
		t.Fatalf("out of range test returned true")
	}
}

func TestBitmapCountsAndOps(t *testing.T) {
	b := BitmapFromSlots(1, 2, 33, 511)
	if b.Count() != 4 {
		t.Fatalf("Count = %d, want 4", b.Count())
	}
	if b.WindowCount(0) != 2 || b.WindowCount(1) != 1 || b.WindowCount(15) != 1 {
		t.Fatalf("window counts wrong: %s", b)
	}
	o := BitmapFromSlots(2, 100)
	if got := b.And(o).Slots(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("And = %v", got)
	}
	if got := b.Or(o).Count(); got != 5 {
		t.Fatalf("Or count = %d", got)
	}
	if got := b.AndNot(o).Slots(); len(got) != 3 || got[0] != 1 {
		t.Fatalf("AndNot = %v", got)
	}
	if !b.Intersects(o) || b.Intersects(BitmapFromSlots(3)) {
		t.Fatalf("Intersects wrong")
	}
}

func TestBitmapRanges(t *testing.T) {
	var b Bitmap
	b.SetRange(30, 4)
	if got := b.Slots(); len(got) != 4 || got[0] != 30 || got[3] != 33 {
		t.Fatalf("SetRange = %v", got)
	}
	b.ClearRange(31, 2)
	if got := b.Slots(); len(got) != 2 || got[1] != 33 {
		t.Fatalf("ClearRange = %v", got)
	}
	b.SetRange(510, 10)
	if b.Count() != 4 {
		t.Fatalf("SetRange past end not clipped: %d", b.Count())
	}
}

func TestDWBitmap(t *testing.T) {
	dw := DWBitmap()
	if dw.Count() != 2*DWIntervals {
		t.Fatalf("DW count = %d", dw.Count())
	}
	for _, s := range dw.Slots() {
		if !IsDWSlot(s) {
			t.Fatalf("slot %d not reported as DW", s)
		}
	}
	if IsDWSlot(NDCSlotOffset5G) || IsDWSlot(NDCSlotOffset2G4) {
		t.Fatalf("NDC base slots must not be DW slots")
	}
}

func TestChannelRawRoundTrip(t *testing.T) {
	cases := []ChannelDescriptor{
		NewChannel(115, 36),
		NewChannel8080(130, 36, 155),
		NewBandSelector(BandMask5G | BandMask6G),
	}
	for _, c := range cases {
		if got := ChannelFromRaw(c.Raw()); got != c {
			t.Fatalf("round trip %s -> %#x -> %s", c, c.Raw(), got)
		}
	}
	if !ChannelFromRaw(0).IsZero() {
		t.Fatalf("raw 0 must decode to no channel")
	}
	if c := ChannelFromRaw(0x80000002); c.Kind != ChannelKindBand || !c.Bands.Has(Band5G) {
		t.Fatalf("band arm decoded as %s", c)
	}
}

func TestQoSMerge(t *testing.T) {
	got := QoS{MinSlots: 4, MaxLatency: 16}.Merge(QoS{MinSlots: 8, MaxLatency: NoLatencyLimit})
	if got.MinSlots != 8 || got.MaxLatency != 16 {
		t.Fatalf("Merge = %+v", got)
	}
	got = QoS{MaxLatency: 0}.Merge(QoS{MaxLatency: 12})
	if got.MaxLatency != 12 {
		t.Fatalf("unspecified latency should take peer value, got %d", got.MaxLatency)
	}
	if !(QoS{MaxLatency: NoLatencyLimit}).Unbounded() {
		t.Fatalf("no-limit QoS should be unbounded")
	}
}
