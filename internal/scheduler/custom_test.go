package scheduler

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/sbi"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/model"
)

func TestCustomFAWOverridesGrantedWindow(t *testing.T) {
	h := newHarness(t)
	h.establish(peerA, ch36, 9, 137)

	if err := h.s.CustomFAWConfig(ch149, model.Band5G, 1<<9); err != nil {
		t.Fatalf("CustomFAWConfig: %v", err)
	}
	if err := h.s.CustomFAWApply(h.ctx); err != nil {
		t.Fatalf("CustomFAWApply: %v", err)
	}
	rec, _ := h.s.PeerRecordByMAC(peerA)
	if !rec.FAW[timeline.Timeline5G].IsZero() {
		t.Fatalf("faw = %s under an incompatible override", rec.FAW[timeline.Timeline5G])
	}
	if got := h.s.Timelines().Union(timeline.Timeline5G, timeline.Committed); got != model.BitmapFromSlots(9, 137) {
		t.Fatalf("committed changed by an override: %s", got)
	}

	h.s.CustomFAWReset(h.ctx)
	rec, _ = h.s.PeerRecordByMAC(peerA)
	if rec.FAW[timeline.Timeline5G] != model.BitmapFromSlots(9, 137) {
		t.Fatalf("faw after reset = %s", rec.FAW[timeline.Timeline5G])
	}
}

func TestCustomFAWConfigValidation(t *testing.T) {
	h := newHarness(t)
	if err := h.s.CustomFAWConfig(ch36, model.Band2G4, 1<<9); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("band mismatch: %v", err)
	}
	if err := h.s.CustomFAWConfig(ch36, model.Band5G, 1<<model.DW5GOffset); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("discovery window only: %v", err)
	}
	limit := h.s.cfg.Capacity.Custom * len(h.s.Timelines().Timelines())
	for i := 0; i < limit; i++ {
		if err := h.s.CustomFAWConfig(ch36, model.Band5G, 1<<10); err != nil {
			t.Fatalf("stage %d: %v", i, err)
		}
	}
	if err := h.s.CustomFAWConfig(ch36, model.Band5G, 1<<10); !errors.Is(err, ErrCustomFull) {
		t.Fatalf("over the limit: %v", err)
	}
}

func TestOverridesShapeGrantedWindow(t *testing.T) {
	h := newHarness(t)
	h.establish(peerA, ch36, 9, 137)
	h.cmds.Reset()

	h.s.SetPeerOverride(h.ctx, peerA, Override{Exclude: model.BitmapFromSlots(137)})
	rec, _ := h.s.PeerRecordByMAC(peerA)
	if rec.FAW[timeline.Timeline5G] != model.BitmapFromSlots(9) {
		t.Fatalf("faw = %s with 137 excluded", rec.FAW[timeline.Timeline5G])
	}
	if len(h.cmds.OfType(sbi.CmdManagePeerScheduleRecord)) != 1 {
		t.Fatalf("override not synced")
	}

	h.s.SetGlobalOverride(h.ctx, Override{Exclude: model.BitmapFromSlots(9)})
	rec, _ = h.s.PeerRecordByMAC(peerA)
	if !rec.FAW[timeline.Timeline5G].IsZero() {
		t.Fatalf("faw = %s with both slots excluded", rec.FAW[timeline.Timeline5G])
	}

	h.s.ClearPeerOverride(h.ctx, peerA)
	h.s.SetGlobalOverride(h.ctx, Override{})
	rec, _ = h.s.PeerRecordByMAC(peerA)
	if rec.FAW[timeline.Timeline5G] != model.BitmapFromSlots(9, 137) {
		t.Fatalf("faw = %s after clearing overrides", rec.FAW[timeline.Timeline5G])
	}
}

func TestInfrastructureBlocksDefaultSlots(t *testing.T) {
	h := newHarness(t)
	ais := model.Bitmap{}
	for w := 0; w < model.DWIntervals; w++ {
		ais.SetRange(w*model.SlotsPerDW+12, 4)
	}
	if err := h.s.SetInfrastructure(h.ctx, ch36, ais); err != nil {
		t.Fatalf("SetInfrastructure: %v", err)
	}
	var advertised bool
	for _, c := range h.cmds.OfType(sbi.CmdUpdatePotentialChannels) {
		for _, ch := range c.(sbi.UpdatePotentialChannels).Channels {
			advertised = advertised || ch == ch36
		}
	}
	if !advertised {
		t.Fatalf("infrastructure channel not advertised")
	}

	h.start(peerA, NegoDataLink, RoleInitiator)
	if _, err := h.s.GenerateProposal(h.ctx); err != nil {
		t.Fatalf("GenerateProposal: %v", err)
	}
	for _, e := range h.s.Timelines().Entries(timeline.Timeline5G, timeline.Conditional) {
		if !core.Compatible(e.Channel, ch36) && e.Slots.Intersects(ais) {
			t.Fatalf("%s placed in infrastructure slots %s", e.Channel, e.Slots.And(ais))
		}
	}

	if err := h.s.ClearInfrastructure(h.ctx); err != nil {
		t.Fatalf("ClearInfrastructure: %v", err)
	}
}
