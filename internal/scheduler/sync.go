package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/sbi"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// SyncState is the state of the sync-update machine that pushes committed
// schedules and peer records to the firmware.
type SyncState uint8

const (
	SyncIdle SyncState = iota
	SyncPrepare
	SyncCheck
	SyncRun
	SyncDone
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncPrepare:
		return "prepare"
	case SyncCheck:
		return "check"
	case SyncRun:
		return "run"
	case SyncDone:
		return "done"
	}
	return fmt.Sprintf("sync(%d)", uint8(s))
}

type removal struct {
	index int
	mac   model.MACAddress
}

type syncMachine struct {
	state     SyncState
	pending   map[int]bool
	working   []int
	removed   []removal
	installed map[int]model.MACAddress
	dirty     bool
}

func newSyncMachine() syncMachine {
	return syncMachine{
		pending:   make(map[int]bool),
		installed: make(map[int]model.MACAddress),
	}
}

func (m *syncMachine) request(records []int) {
	for _, idx := range records {
		m.pending[idx] = true
	}
}

// remove schedules the firmware copy of a record for removal.
func (m *syncMachine) remove(idx int) {
	delete(m.pending, idx)
	if mac, ok := m.installed[idx]; ok {
		m.removed = append(m.removed, removal{index: idx, mac: mac})
		delete(m.installed, idx)
	}
}

// stepSync advances the machine by one state. Every step but waiting in
// Check posts the next one.
func (s *Scheduler) stepSync(ctx context.Context) {
	m := &s.sync
	switch m.state {
	case SyncPrepare:
		m.working = m.working[:0]
		for idx := range m.pending {
			m.working = append(m.working, idx)
		}
		sort.Ints(m.working)
		m.pending = make(map[int]bool)
		m.state = SyncCheck
		s.post(event{kind: evSyncStep})
	case SyncCheck:
		if s.nego.state != StateIdle {
			s.dispatch.ArmIfIdle(s.timers.DispatchDelay)
			return
		}
		m.state = SyncRun
		s.post(event{kind: evSyncStep})
	case SyncRun:
		m.dirty = s.timelines.Dirty()
		s.runSync(ctx)
		m.state = SyncDone
		s.post(event{kind: evSyncStep})
	case SyncDone:
		s.timelines.ClearDirty()
		for _, id := range s.timelines.Timelines() {
			s.metrics.SetCommittedSlots(id.String(), s.timelines.Union(id, timeline.Committed).Count())
		}
		s.updatePoolMetrics()
		if m.dirty {
			s.markAvailabilityChanged(true, false, false)
		}
		m.working = m.working[:0]
		if len(m.pending) > 0 || len(m.removed) > 0 {
			m.state = SyncPrepare
			s.post(event{kind: evSyncStep})
			return
		}
		m.state = SyncIdle
		if s.ring.len() > 0 {
			s.post(event{kind: evDispatch})
		}
	}
}

// runSync sends the committed schedule of every band timeline, removes the
// records that went away and installs or refreshes the working records.
func (s *Scheduler) runSync(ctx context.Context) {
	m := &s.sync
	ids := s.timelines.Timelines()
	for _, id := range ids {
		cmd := sbi.UpdateCRB{Timeline: uint8(id)}
		for _, e := range s.timelines.Entries(id, timeline.Committed) {
			cmd.Entries = append(cmd.Entries, sbi.CRBEntry{Channel: e.Channel, Slots: e.Slots})
		}
		s.send(ctx, cmd)
	}
	for _, rm := range m.removed {
		s.send(ctx, sbi.ManagePeerScheduleRecord{Op: sbi.RecordRemove, Record: uint8(rm.index), MAC: rm.mac})
	}
	m.removed = m.removed[:0]

	for _, idx := range m.working {
		r, err := s.peers.Record(idx)
		if err != nil || r.Usage == 0 {
			continue
		}
		p, err := s.peers.Peer(r.Peer)
		if err != nil {
			continue
		}
		op := sbi.RecordAdd
		if _, ok := m.installed[idx]; ok {
			op = sbi.RecordUpdate
		}
		faw := make([]model.Bitmap, len(ids))
		copy(faw, r.FAW[:len(ids)])
		s.send(ctx, sbi.ManagePeerScheduleRecord{
			Op:        op,
			Record:    uint8(idx),
			MAC:       p.MAC,
			FAW:       faw,
			Immutable: r.Immutable,
			QoS:       r.QoS,
			Stations:  append([]uint8(nil), r.Stations...),
		})
		m.installed[idx] = p.MAC

		var antennas uint8
		for _, c := range p.Capabilities {
			if c.Antennas > antennas {
				antennas = c.Antennas
			}
		}
		s.send(ctx, sbi.UpdatePeerCapability{
			Record:         uint8(idx),
			MAC:            p.MAC,
			SupportedBands: p.SupportedBands(),
			Antennas:       antennas,
		})

		nss := antennas & 0xf
		if nss == 0 {
			nss = 1
		}
		s.send(ctx, sbi.UpdatePHYSettings{
			Record: uint8(idx),
			Band:   r.Band,
			Width:  uint16(s.linkWidth(r.FAW)),
			NSS:    nss,
		})
		s.log.Debug(ctx, "peer schedule record pushed",
			logging.Int("record", idx),
			logging.MAC("peer", p.MAC),
			logging.String("band", r.Band.String()),
		)
	}
}

// linkWidth is the width of the local channel serving the first granted
// slot of the busiest timeline.
func (s *Scheduler) linkWidth(faw [timeline.MaxTimelines]model.Bitmap) core.Width {
	best := -1
	for _, id := range s.timelines.Timelines() {
		if n := faw[id].Count(); n > 0 && (best < 0 || n > faw[best].Count()) {
			best = int(id)
		}
	}
	if best < 0 {
		return core.Width20
	}
	if ch, ok := s.localChannel(timeline.ID(best), faw[best].Slots()[0]); ok {
		return core.WidthOf(ch)
	}
	return core.Width20
}
