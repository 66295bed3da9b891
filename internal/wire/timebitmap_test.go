package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/nan-scheduler/model"
)

func slotsWhere(pred func(int) bool) model.Bitmap {
	var b model.Bitmap
	for i := 0; i < model.TotalSlots; i++ {
		if pred(i) {
			b.Set(i)
		}
	}
	return b
}

func TestEncodeSlotFivePerInterval(t *testing.T) {
	b := slotsWhere(func(i int) bool { return i%32 == 5 })

	tb := EncodeTimeBitmap(b)
	assert.Equal(t, 1, tb.Control.Duration)
	assert.Equal(t, 32, tb.Control.Period)
	assert.Equal(t, 5, tb.Control.Start)
	assert.Equal(t, []byte{0x01}, tb.Bitmap)
	assert.Equal(t, b, tb.Decode())
}

func TestEncodeAlignedIsExact(t *testing.T) {
	cases := map[string]model.Bitmap{
		"every slot":          model.FullBitmap(),
		"dw":                  model.DWBitmap(),
		"128tu blocks":        slotsWhere(func(i int) bool { return i%64 >= 16 && i%64 < 24 }),
		"32tu pairs":          slotsWhere(func(i int) bool { return i%16 == 10 || i%16 == 11 }),
		"single slot":         model.BitmapFromSlots(300),
		"first half of frame": slotsWhere(func(i int) bool { return i < 256 }),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			tb := EncodeTimeBitmap(b)
			require.LessOrEqual(t, len(tb.Bitmap), ShortBitmapLen)
			assert.Equal(t, b, tb.Decode())
		})
	}
}

func TestEncodeIsSuperset(t *testing.T) {
	cases := []model.Bitmap{
		model.BitmapFromSlots(9, 137),
		model.BitmapFromSlots(1, 2, 3, 100, 200, 333, 511),
		slotsWhere(func(i int) bool { return i%7 == 0 }),
		slotsWhere(func(i int) bool { return i%32 == 9 || i%32 == 20 }),
	}
	for _, b := range cases {
		got := EncodeTimeBitmap(b).Decode()
		assert.Equal(t, b, got.And(b), "decode must cover every original slot")
	}
}

func TestEncodeLongFormWhenCoarsestDoesNotFit(t *testing.T) {
	b := slotsWhere(func(i int) bool { return i%7 == 0 })
	tb := EncodeTimeBitmap(b)
	assert.Greater(t, len(tb.Bitmap), ShortBitmapLen)
	assert.LessOrEqual(t, len(tb.Bitmap), MaxBitmapLen)
	assert.Equal(t, b, tb.Decode())
}

func TestEncodeZero(t *testing.T) {
	tb := EncodeTimeBitmap(model.Bitmap{})
	assert.Empty(t, tb.Bitmap)
	assert.True(t, tb.Decode().IsZero())
}

func TestTimeBitmapWireRoundTrip(t *testing.T) {
	in := EncodeTimeBitmap(slotsWhere(func(i int) bool { return i%32 == 5 }))
	raw := in.AppendBinary(nil)
	require.Len(t, raw, 4)
	out, n, err := ParseTimeBitmap(raw)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, in, out)
}

func TestControlRaw(t *testing.T) {
	c := TimeBitmapControl{Duration: 8, Period: 512, Start: 9}
	assert.Equal(t, uint16(3|7<<3|9<<6), c.Raw())
	back, err := ParseTimeBitmapControl(c.Raw())
	require.NoError(t, err)
	assert.Equal(t, c, back)

	_, err = ParseTimeBitmapControl(0x4)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeNonRepeating(t *testing.T) {
	tb := TimeBitmap{Control: TimeBitmapControl{Duration: 2, Start: 500}, Bitmap: []byte{0x3f}}
	got := tb.Decode()
	assert.Equal(t, []int{500, 501, 502, 503, 504, 505, 506, 507, 508, 509, 510, 511}, got.Slots())
}

func TestParseTimeBitmapErrors(t *testing.T) {
	_, _, err := ParseTimeBitmap([]byte{0x00})
	assert.ErrorIs(t, err, ErrTruncated)
	_, _, err = ParseTimeBitmap([]byte{0x00, 0x00, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrTruncated)
	_, _, err = ParseTimeBitmap([]byte{0x00, 0x00, 65})
	assert.ErrorIs(t, err, ErrMalformed)
}
