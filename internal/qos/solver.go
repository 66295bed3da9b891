// Package qos repairs a granted schedule so it meets an NDL QoS
// requirement: a floor of slots in every DW interval and a ceiling on the
// gap between consecutive granted slots.
package qos

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/nan-scheduler/model"
)

var (
	// ErrUnsatisfiable is wrapped by both failure modes below.
	ErrUnsatisfiable = errors.New("qos: requirement cannot be met")
	ErrMinSlots      = fmt.Errorf("%w: not enough free slots", ErrUnsatisfiable)
	ErrLatency       = fmt.Errorf("%w: latency gap cannot be closed", ErrUnsatisfiable)
)

// Pool is one source of slots, typically one band timeline. Granted slots
// already count towards the requirement; Free slots may be borrowed.
type Pool struct {
	Name    string
	Granted model.Bitmap
	Free    model.Bitmap
}

// Result reports what had to be borrowed, per pool, in the order given.
type Result struct {
	QoS      model.QoS
	Added    []model.Bitmap
	Schedule model.Bitmap
}

// Borrowed returns the total number of slots borrowed.
func (r Result) Borrowed() int {
	n := 0
	for _, b := range r.Added {
		n += b.Count()
	}
	return n
}

// Negotiate merges the local and peer requirement: the larger floor and the
// tighter latency.
func Negotiate(local, peer model.QoS) model.QoS {
	return local.Merge(peer)
}

// LatencyLimited reports whether q bounds the gap between slots.
func LatencyLimited(q model.QoS) bool {
	return q.MaxLatency != 0 && q.MaxLatency != model.NoLatencyLimit
}

type solver struct {
	pools []Pool
	added []model.Bitmap
	have  model.Bitmap
}

func (s *solver) borrow(slot int) bool {
	if s.have.Test(slot) {
		return true
	}
	for i := range s.pools {
		if s.pools[i].Free.Test(slot) {
			s.added[i].Set(slot)
			s.have.Set(slot)
			return true
		}
	}
	return false
}

// Solve borrows free slots, earlier pools first, until q holds. Pools are
// not modified.
func Solve(q model.QoS, pools []Pool) (Result, error) {
	s := &solver{pools: pools, added: make([]model.Bitmap, len(pools))}
	for _, p := range pools {
		s.have = s.have.Or(p.Granted)
	}

	if err := s.fillFloor(int(q.MinSlots)); err != nil {
		return Result{QoS: q}, err
	}
	if LatencyLimited(q) {
		if err := s.fillGaps(int(q.MaxLatency)); err != nil {
			return Result{QoS: q}, err
		}
	}
	return Result{QoS: q, Added: s.added, Schedule: s.have}, nil
}

func (s *solver) fillFloor(floor int) error {
	if floor == 0 {
		return nil
	}
	if floor > model.SlotsPerDW {
		return fmt.Errorf("%w: %d slots per interval requested", ErrMinSlots, floor)
	}
	for w := 0; w < model.DWIntervals; w++ {
		need := floor - s.have.WindowCount(w)
		for i := 0; need > 0 && i < len(s.pools); i++ {
			for off := 0; need > 0 && off < model.SlotsPerDW; off++ {
				slot := w*model.SlotsPerDW + off
				if s.have.Test(slot) || !s.pools[i].Free.Test(slot) {
					continue
				}
				s.added[i].Set(slot)
				s.have.Set(slot)
				need--
			}
		}
		if need > 0 {
			return fmt.Errorf("%w: interval %d short by %d", ErrMinSlots, w, need)
		}
	}
	return nil
}

// fillGaps closes every cyclic gap longer than maxGap slots, placing each
// new slot as late as the bound allows.
func (s *solver) fillGaps(maxGap int) error {
	if s.have.IsZero() {
		placed := false
		for slot := 0; slot < model.TotalSlots && !placed; slot++ {
			placed = s.borrow(slot)
		}
		if !placed {
			return fmt.Errorf("%w: no free slot at all", ErrLatency)
		}
	}
	for {
		slots := s.have.Slots()
		progress := false
		for i, cur := range slots {
			next := slots[(i+1)%len(slots)]
			gap := (next - cur - 1 + model.TotalSlots) % model.TotalSlots
			if len(slots) == 1 {
				gap = model.TotalSlots - 1
			}
			if gap <= maxGap {
				continue
			}
			filled := false
			for d := maxGap + 1; d >= 1 && !filled; d-- {
				filled = s.borrow((cur + d) % model.TotalSlots)
			}
			if !filled {
				return fmt.Errorf("%w: gap of %d after slot %d", ErrLatency, gap, cur)
			}
			progress = true
			break
		}
		if !progress {
			return nil
		}
	}
}

// MaxGap returns the longest cyclic run of clear slots between set slots of
// b, or TotalSlots when b is empty.
func MaxGap(b model.Bitmap) int {
	slots := b.Slots()
	if len(slots) == 0 {
		return model.TotalSlots
	}
	if len(slots) == 1 {
		return model.TotalSlots - 1
	}
	longest := 0
	for i, cur := range slots {
		next := slots[(i+1)%len(slots)]
		if gap := (next - cur - 1 + model.TotalSlots) % model.TotalSlots; gap > longest {
			longest = gap
		}
	}
	return longest
}

// Satisfied reports whether b meets q without borrowing.
func Satisfied(q model.QoS, b model.Bitmap) bool {
	for w := 0; w < model.DWIntervals; w++ {
		if b.WindowCount(w) < int(q.MinSlots) {
			return false
		}
	}
	return !LatencyLimited(q) || MaxGap(b) <= int(q.MaxLatency)
}
