package sbi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/signalsfoundry/nan-scheduler/model"
)

func TestSBIMetrics_ConcurrentIncrements(t *testing.T) {
	m := NewSBIMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncSent(CmdUpdateCRB)
			}
			m.IncFailed(CmdUpdatePHYSettings)
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.Sent[CmdUpdateCRB] != 800 || snap.Failed[CmdUpdatePHYSettings] != 8 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Total() != 800 {
		t.Fatalf("Total = %d", snap.Total())
	}
	if !strings.Contains(m.String(), "update_crb=800/0") {
		t.Fatalf("String() = %q", m.String())
	}
}

func TestRecorder_CountsAndFilters(t *testing.T) {
	m := NewSBIMetrics()
	rec := NewRecorder(m, nil)
	ctx := context.Background()

	cmds := []Command{
		SetScheduleVersion{Version: 1},
		UpdateCRB{Timeline: 1, Entries: []CRBEntry{{Channel: model.NewChannel(115, 36), Slots: model.BitmapFromSlots(9)}}},
		UpdateAvailabilityControl{CommittedChanged: true},
	}
	for _, c := range cmds {
		if err := rec.Send(ctx, c); err != nil {
			t.Fatalf("Send(%s): %v", c.Type(), err)
		}
	}
	if len(rec.Commands()) != 3 || len(rec.OfType(CmdUpdateCRB)) != 1 {
		t.Fatalf("recorded %d commands", len(rec.Commands()))
	}
	raw := rec.Raw()
	if raw[1][0] != byte(CmdUpdateCRB) || len(raw[1]) != 3+4+64 {
		t.Fatalf("update crb encoding = %d bytes", len(raw[1]))
	}

	boom := errors.New("boom")
	rec.Fail = func(c Command) error {
		if c.Type() == CmdUpdatePHYSettings {
			return boom
		}
		return nil
	}
	if err := rec.Send(ctx, UpdatePHYSettings{Record: 0}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if m.Snapshot().Failed[CmdUpdatePHYSettings] != 1 {
		t.Fatalf("failure not counted")
	}

	rec.Reset()
	if len(rec.Commands()) != 0 {
		t.Fatalf("Reset kept commands")
	}
}

func TestCommandEncodings(t *testing.T) {
	cases := []struct {
		cmd  Command
		want int
	}{
		{UpdateAvailability{Timeline: 0, Attribute: []byte{1, 2, 3}}, 4 + 3},
		{UpdateAvailabilityControl{SequenceID: 2, NDCChanged: true}, 3},
		{UpdatePeerCapability{Record: 1}, 2 + 6 + 2},
		{ManagePeerScheduleRecord{Op: RecordRemove, Record: 1}, 3 + 6},
		{ManagePeerScheduleRecord{Op: RecordAdd, FAW: make([]model.Bitmap, 2), Stations: []uint8{1}}, 3 + 6 + 1 + 128 + 64 + 3 + 2},
		{UpdatePotentialChannels{Channels: []model.ChannelDescriptor{model.NewChannel(124, 149)}}, 3 + 4},
		{UpdatePHYSettings{Width: 80}, 6},
		{SetScheduleVersion{Version: 2}, 2},
	}
	for _, tc := range cases {
		raw, err := tc.cmd.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: %v", tc.cmd.Type(), err)
		}
		if len(raw) != tc.want || raw[0] != byte(tc.cmd.Type()) {
			t.Fatalf("%s: %d bytes (id %d), want %d", tc.cmd.Type(), len(raw), raw[0], tc.want)
		}
	}
}
