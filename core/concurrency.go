package core

import (
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/model"
)

// Span is an occupied frequency range in MHz, inclusive of both edges.
type Span struct {
	Lo, Hi int
}

// Width returns the span width in MHz.
func (s Span) Width() int { return s.Hi - s.Lo }

// Contains reports whether other lies entirely inside s.
func (s Span) Contains(other Span) bool {
	return other.Lo >= s.Lo && other.Hi <= s.Hi
}

// ChannelFrequency returns the centre frequency in MHz of channel number ch.
func ChannelFrequency(band model.Band, ch uint8) int {
	switch band {
	case model.Band2G4:
		if ch == 14 {
			return 2484
		}
		return 2407 + 5*int(ch)
	case model.Band5G:
		return 5000 + 5*int(ch)
	case model.Band6G:
		return 5950 + 5*int(ch)
	}
	return 0
}

// Allocation is a resolved channel: its primary, total width and the centres
// of its one or two segments.
type Allocation struct {
	Band      model.Band
	Primary   uint8
	Width     Width
	Secondary int
	Center0   uint8
	Center1   uint8
}

// AllocationOf resolves a specific-channel descriptor through the operating
// class table.
func AllocationOf(ch model.ChannelDescriptor) (Allocation, error) {
	if !ch.IsChannel() {
		return Allocation{}, ErrNotAChannel
	}
	oc, ok := operatingClasses[ch.OperatingClass]
	if !ok {
		return Allocation{}, fmt.Errorf("%w: %d", ErrUnknownOperatingClass, ch.OperatingClass)
	}
	c0, err := oc.CenterFor(ch.Primary)
	if err != nil {
		return Allocation{}, err
	}
	a := Allocation{
		Band:      oc.Band,
		Primary:   ch.Primary,
		Width:     oc.Width,
		Secondary: oc.Secondary,
		Center0:   c0,
	}
	if oc.Split {
		if oc.Index(ch.AuxCenter) < 0 {
			return Allocation{}, fmt.Errorf("%w: aux centre %d op%d", ErrChannelNotInClass, ch.AuxCenter, oc.ID)
		}
		a.Center1 = ch.AuxCenter
	}
	return a, nil
}

// PrimaryFrequency returns the primary 20 MHz centre frequency.
func (a Allocation) PrimaryFrequency() int {
	return ChannelFrequency(a.Band, a.Primary)
}

// Segments returns the occupied frequency bounds, one span per segment.
func (a Allocation) Segments() []Span {
	half := int(a.Width) / 2
	f0 := ChannelFrequency(a.Band, a.Center0)
	out := []Span{{Lo: f0 - half, Hi: f0 + half}}
	if a.Center1 != 0 {
		f1 := ChannelFrequency(a.Band, a.Center1)
		out = append(out, Span{Lo: f1 - half, Hi: f1 + half})
	}
	return out
}

func totalWidth(spans []Span) int {
	w := 0
	for _, s := range spans {
		w += s.Width()
	}
	return w
}

// covers reports whether every span of inner lies inside some span of outer.
func covers(outer, inner []Span) bool {
	for _, in := range inner {
		found := false
		for _, out := range outer {
			if out.Contains(in) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Concurrency is the verdict of comparing two allocations.
type Concurrency uint8

const (
	// MCC means the two allocations need channel switching to coexist.
	MCC Concurrency = iota
	// SCCKeepFirst means one radio setting serves both and the first
	// allocation is the one to tune to.
	SCCKeepFirst
	// SCCKeepSecond is SCCKeepFirst with the second allocation favoured.
	SCCKeepSecond
)

func (c Concurrency) Compatible() bool { return c != MCC }

func (c Concurrency) String() string {
	switch c {
	case SCCKeepFirst:
		return "scc-first"
	case SCCKeepSecond:
		return "scc-second"
	}
	return "mcc"
}

// Evaluate compares two allocations. They are compatible when they share the
// primary channel and the segments of one lie inside the segments of the
// other; the wider allocation is favoured and ties keep the first.
func Evaluate(a, b Allocation) Concurrency {
	if a.PrimaryFrequency() != b.PrimaryFrequency() {
		return MCC
	}
	sa, sb := a.Segments(), b.Segments()
	aCoversB := covers(sa, sb)
	bCoversA := covers(sb, sa)
	switch {
	case aCoversB && (!bCoversA || totalWidth(sa) >= totalWidth(sb)):
		return SCCKeepFirst
	case bCoversA:
		return SCCKeepSecond
	}
	return MCC
}

// EvaluateChannels resolves both descriptors and evaluates them. Anything
// that is not a resolvable channel is reported as MCC.
func EvaluateChannels(a, b model.ChannelDescriptor) Concurrency {
	aa, err := AllocationOf(a)
	if err != nil {
		return MCC
	}
	bb, err := AllocationOf(b)
	if err != nil {
		return MCC
	}
	return Evaluate(aa, bb)
}

// Compatible is shorthand for EvaluateChannels(a, b).Compatible().
func Compatible(a, b model.ChannelDescriptor) bool {
	return EvaluateChannels(a, b).Compatible()
}

// Wider returns whichever descriptor should be tuned to when both are
// compatible, and false when they are not.
func Wider(a, b model.ChannelDescriptor) (model.ChannelDescriptor, bool) {
	switch EvaluateChannels(a, b) {
	case SCCKeepFirst:
		return a, true
	case SCCKeepSecond:
		return b, true
	}
	return model.ChannelDescriptor{}, false
}
