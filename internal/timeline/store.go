// Package timeline keeps the per-band channel timelines: which channel each
// slot of the 512-slot window is committed to, what is conditionally
// proposed during a negotiation and which operator overrides apply.
//
// Entries live in small fixed-capacity arenas addressed by Handle. The store
// does no locking; callers serialize access.
package timeline

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// Kind selects one of the three entry lists of a band timeline.
type Kind uint8

const (
	Committed Kind = iota
	Conditional
	Custom
	numKinds
)

func (k Kind) String() string {
	switch k {
	case Committed:
		return "committed"
	case Conditional:
		return "conditional"
	case Custom:
		return "custom"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ID identifies a band timeline.
type ID int

const (
	// Timeline2G4 carries 2.4 GHz and, on single-radio devices, every band.
	Timeline2G4 ID = 0
	// Timeline5G carries 5 GHz and 6 GHz on dual-radio devices.
	Timeline5G ID = 1

	// MaxTimelines bounds per-timeline arrays held by callers.
	MaxTimelines = 2
)

func (id ID) String() string {
	if id == Timeline5G {
		return "5g6g"
	}
	return "2g4"
}

var (
	ErrListFull        = errors.New("timeline: entry list exhausted")
	ErrUnknownTimeline = errors.New("timeline: unknown band timeline")
	ErrNoChannel       = errors.New("timeline: descriptor names no channel")
)

// Capacity bounds the three entry lists of every band timeline.
type Capacity struct {
	Committed   int
	Conditional int
	Custom      int
}

// DefaultCapacity matches the firmware tables.
var DefaultCapacity = Capacity{Committed: 4, Conditional: 4, Custom: 2}

func (c Capacity) of(k Kind) int {
	switch k {
	case Committed:
		return c.Committed
	case Conditional:
		return c.Conditional
	}
	return c.Custom
}

// Handle addresses an entry inside one list. It is only meaningful together
// with the timeline and kind it was returned for.
type Handle int

// NoHandle is returned alongside errors.
const NoHandle Handle = -1

// Entry is a channel together with the slots assigned to it.
type Entry struct {
	Handle  Handle
	Channel model.ChannelDescriptor
	Slots   model.Bitmap
	Count   int
}

type slot struct {
	valid   bool
	channel model.ChannelDescriptor
	bits    model.Bitmap
	count   int
}

type list struct {
	arena []slot
	free  []int
}

func newList(n int) *list {
	l := &list{arena: make([]slot, n), free: make([]int, 0, n)}
	for i := n - 1; i >= 0; i-- {
		l.free = append(l.free, i)
	}
	return l
}

func (l *list) alloc(ch model.ChannelDescriptor) (Handle, bool) {
	if len(l.free) == 0 {
		return NoHandle, false
	}
	i := l.free[len(l.free)-1]
	l.free = l.free[:len(l.free)-1]
	l.arena[i] = slot{valid: true, channel: ch}
	return Handle(i), true
}

func (l *list) release(i int) {
	if !l.arena[i].valid {
		return
	}
	l.arena[i] = slot{}
	l.free = append(l.free, i)
}

// BandTimeline owns the three lists for one band group.
type BandTimeline struct {
	ID    ID
	Bands model.BandMask
	lists [numKinds]*list

	// ValidatingConditional is raised while a peer's conditional proposal is
	// being checked against this timeline.
	ValidatingConditional bool
}

// Store is the set of band timelines of one device.
type Store struct {
	timelines []*BandTimeline
	dualBand  bool
	dirty     bool
}

// NewStore builds one band timeline, or two when dualBand is set (2.4 GHz
// and a combined 5/6 GHz timeline).
func NewStore(dualBand bool, capacity Capacity) *Store {
	s := &Store{dualBand: dualBand}
	mk := func(id ID, bands model.BandMask) *BandTimeline {
		bt := &BandTimeline{ID: id, Bands: bands}
		for k := Kind(0); k < numKinds; k++ {
			bt.lists[k] = newList(capacity.of(k))
		}
		return bt
	}
	if dualBand {
		s.timelines = []*BandTimeline{
			mk(Timeline2G4, model.BandMask2G4),
			mk(Timeline5G, model.BandMask5G|model.BandMask6G),
		}
	} else {
		s.timelines = []*BandTimeline{mk(Timeline2G4, model.BandMask2G4|model.BandMask5G|model.BandMask6G)}
	}
	return s
}

// Timelines returns the band timeline IDs, 5/6 GHz first when present.
func (s *Store) Timelines() []ID {
	if s.dualBand {
		return []ID{Timeline5G, Timeline2G4}
	}
	return []ID{Timeline2G4}
}

// TimelineFor maps a band to the timeline that carries it.
func (s *Store) TimelineFor(b model.Band) ID {
	if s.dualBand && (b == model.Band5G || b == model.Band6G) {
		return Timeline5G
	}
	return Timeline2G4
}

// Timeline returns the band timeline with the given ID.
func (s *Store) Timeline(id ID) (*BandTimeline, error) {
	if int(id) < 0 || int(id) >= len(s.timelines) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTimeline, id)
	}
	return s.timelines[id], nil
}

func (s *Store) list(id ID, k Kind) (*list, error) {
	bt, err := s.Timeline(id)
	if err != nil {
		return nil, err
	}
	return bt.lists[k], nil
}

// Dirty reports whether committed state changed since the last ClearDirty.
func (s *Store) Dirty() bool { return s.dirty }

func (s *Store) ClearDirty() { s.dirty = false }

func (s *Store) markChanged(k Kind) {
	if k != Conditional {
		s.dirty = true
	}
}

// AcquireEntry returns the entry for ch in the given list. A compatible
// entry is reused, and widened when ch contains it; otherwise a new entry is
// allocated.
func (s *Store) AcquireEntry(id ID, k Kind, ch model.ChannelDescriptor) (Handle, error) {
	if !ch.IsChannel() {
		return NoHandle, ErrNoChannel
	}
	l, err := s.list(id, k)
	if err != nil {
		return NoHandle, err
	}
	for i := range l.arena {
		e := &l.arena[i]
		if !e.valid {
			continue
		}
		switch core.EvaluateChannels(e.channel, ch) {
		case core.SCCKeepFirst:
			return Handle(i), nil
		case core.SCCKeepSecond:
			e.channel = ch
			s.markChanged(k)
			return Handle(i), nil
		}
	}
	h, ok := l.alloc(ch)
	if !ok {
		return NoHandle, fmt.Errorf("%w: %s %s", ErrListFull, id, k)
	}
	return h, nil
}

// AddSlots assigns slots to ch in the given list. In the committed and
// custom lists a slot belongs to at most one entry, so the slots are first
// removed from every other entry. It reports whether any bit changed.
func (s *Store) AddSlots(id ID, k Kind, ch model.ChannelDescriptor, slots model.Bitmap) (bool, error) {
	if slots.IsZero() {
		return false, nil
	}
	h, err := s.AcquireEntry(id, k, ch)
	if err != nil {
		return false, err
	}
	l, _ := s.list(id, k)
	changed := false
	if k != Conditional {
		for i := range l.arena {
			if i != int(h) && l.arena[i].valid && l.arena[i].bits.Intersects(slots) {
				s.clearBits(l, i, slots)
				changed = true
			}
		}
	}
	e := &l.arena[h]
	merged := e.bits.Or(slots)
	if merged != e.bits {
		e.bits = merged
		e.count = merged.Count()
		changed = true
	}
	if changed {
		s.markChanged(k)
	}
	return changed, nil
}

// CRB describes a committed resource block request: runs of Length slots
// starting at Offset, repeated every Period slots (0 for once).
type CRB struct {
	Channel model.ChannelDescriptor
	Offset  int
	Length  int
	Period  int
}

// Bitmap expands the request over the timeline.
func (c CRB) Bitmap() model.Bitmap {
	var b model.Bitmap
	if c.Length <= 0 {
		return b
	}
	if c.Period <= 0 {
		b.SetRange(c.Offset, c.Length)
		return b
	}
	for off := c.Offset % c.Period; off < model.TotalSlots; off += c.Period {
		b.SetRange(off, c.Length)
	}
	return b
}

// AddCRB is AddSlots over the slots of a CRB.
func (s *Store) AddCRB(id ID, k Kind, crb CRB) (bool, error) {
	return s.AddSlots(id, k, crb.Channel, crb.Bitmap())
}

// DeleteCRB clears the CRB slots from every entry of the list.
func (s *Store) DeleteCRB(id ID, k Kind, crb CRB) (bool, error) {
	return s.DeleteSlots(id, k, crb.Bitmap())
}

// DeleteSlots clears slots across the list. Entries left empty are freed.
func (s *Store) DeleteSlots(id ID, k Kind, slots model.Bitmap) (bool, error) {
	l, err := s.list(id, k)
	if err != nil {
		return false, err
	}
	changed := false
	for i := range l.arena {
		if l.arena[i].valid && l.arena[i].bits.Intersects(slots) {
			s.clearBits(l, i, slots)
			changed = true
		}
	}
	if changed {
		s.markChanged(k)
	}
	return changed, nil
}

func (s *Store) clearBits(l *list, i int, slots model.Bitmap) {
	e := &l.arena[i]
	e.bits = e.bits.AndNot(slots)
	e.count = e.bits.Count()
	if e.count == 0 {
		l.release(i)
	}
}

// DeleteChannel clears slots only from the entry compatible with ch.
func (s *Store) DeleteChannel(id ID, k Kind, ch model.ChannelDescriptor, slots model.Bitmap) (bool, error) {
	l, err := s.list(id, k)
	if err != nil {
		return false, err
	}
	for i := range l.arena {
		e := &l.arena[i]
		if e.valid && core.Compatible(e.channel, ch) && e.bits.Intersects(slots) {
			s.clearBits(l, i, slots)
			s.markChanged(k)
			return true, nil
		}
	}
	return false, nil
}

// Merge unions compatible entries into the wider one and frees the other.
func (s *Store) Merge(id ID, k Kind) (int, error) {
	l, err := s.list(id, k)
	if err != nil {
		return 0, err
	}
	merged := 0
	for i := range l.arena {
		for j := i + 1; j < len(l.arena); j++ {
			a, b := &l.arena[i], &l.arena[j]
			if !a.valid || !b.valid {
				continue
			}
			switch core.EvaluateChannels(a.channel, b.channel) {
			case core.SCCKeepSecond:
				a.channel = b.channel
			case core.MCC:
				continue
			}
			a.bits = a.bits.Or(b.bits)
			a.count = a.bits.Count()
			l.release(j)
			merged++
		}
	}
	if merged > 0 {
		s.markChanged(k)
	}
	return merged, nil
}

// Entries returns copies of the valid entries of a list in arena order.
func (s *Store) Entries(id ID, k Kind) []Entry {
	l, err := s.list(id, k)
	if err != nil {
		return nil
	}
	var out []Entry
	for i, e := range l.arena {
		if e.valid {
			out = append(out, Entry{Handle: Handle(i), Channel: e.channel, Slots: e.bits, Count: e.count})
		}
	}
	return out
}

// Entry returns one entry by handle.
func (s *Store) Entry(id ID, k Kind, h Handle) (Entry, bool) {
	l, err := s.list(id, k)
	if err != nil || int(h) < 0 || int(h) >= len(l.arena) || !l.arena[h].valid {
		return Entry{}, false
	}
	e := l.arena[h]
	return Entry{Handle: h, Channel: e.channel, Slots: e.bits, Count: e.count}, true
}

// Free returns the number of unallocated entries in a list.
func (s *Store) Free(id ID, k Kind) int {
	l, err := s.list(id, k)
	if err != nil {
		return 0
	}
	return len(l.free)
}

// Union returns every slot held by the list.
func (s *Store) Union(id ID, k Kind) model.Bitmap {
	var out model.Bitmap
	for _, e := range s.Entries(id, k) {
		out = out.Or(e.Slots)
	}
	return out
}

// lookup returns the entry of a list that holds slot.
func (s *Store) lookup(id ID, k Kind, slotIdx int) (Entry, bool) {
	for _, e := range s.Entries(id, k) {
		if e.Slots.Test(slotIdx) {
			return e, true
		}
	}
	return Entry{}, false
}

// ChannelAt returns the channel a slot is assigned to, committed first then
// conditional.
func (s *Store) ChannelAt(id ID, slotIdx int) (model.ChannelDescriptor, bool) {
	e, ok := s.EntryAt(id, slotIdx)
	return e.Channel, ok
}

// EntryAt is ChannelAt returning the whole entry.
func (s *Store) EntryAt(id ID, slotIdx int) (Entry, bool) {
	if e, ok := s.lookup(id, Committed, slotIdx); ok {
		return e, true
	}
	return s.lookup(id, Conditional, slotIdx)
}

// CustomAt returns the operator override for a slot.
func (s *Store) CustomAt(id ID, slotIdx int) (model.ChannelDescriptor, bool) {
	e, ok := s.lookup(id, Custom, slotIdx)
	return e.Channel, ok
}

// PromoteConditional moves every conditional entry into the committed list
// and empties the conditional list.
func (s *Store) PromoteConditional(id ID) (bool, error) {
	changed := false
	for _, e := range s.Entries(id, Conditional) {
		c, err := s.AddSlots(id, Committed, e.Channel, e.Slots)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	s.Reset(id, Conditional)
	return changed, nil
}

// Reset frees every entry of a list.
func (s *Store) Reset(id ID, k Kind) {
	l, err := s.list(id, k)
	if err != nil {
		return
	}
	had := false
	for i := range l.arena {
		if l.arena[i].valid {
			l.release(i)
			had = true
		}
	}
	if had {
		s.markChanged(k)
	}
	if k == Conditional {
		s.timelines[id].ValidatingConditional = false
	}
}

// Retain clears committed slots outside keep and returns how many slots were
// released.
func (s *Store) Retain(id ID, keep model.Bitmap) int {
	l, err := s.list(id, Committed)
	if err != nil {
		return 0
	}
	released := 0
	for i := range l.arena {
		e := &l.arena[i]
		if !e.valid {
			continue
		}
		drop := e.bits.AndNot(keep)
		if drop.IsZero() {
			continue
		}
		released += drop.Count()
		s.clearBits(l, i, drop)
	}
	if released > 0 {
		s.markChanged(Committed)
	}
	return released
}
