package scheduler

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/nan-scheduler/internal/config"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/model"
)

func TestGenerateProposalReservesNDCAndQuota(t *testing.T) {
	h := newHarness(t)
	h.start(peerA, NegoDataLink, RoleInitiator)

	prop, err := h.s.GenerateProposal(h.ctx)
	if err != nil {
		t.Fatalf("GenerateProposal: %v", err)
	}
	if h.s.State() != StateWaitResponse {
		t.Fatalf("state = %s", h.s.State())
	}
	if prop.NDC == nil || len(prop.NDC.Entries) != 1 {
		t.Fatalf("ndc = %+v", prop.NDC)
	}
	id := prop.NDC.ID
	if id[0] != 0x50 || id[1] != 0x6F || id[2] != 0x9A || id[3] != 0x01 {
		t.Fatalf("ndc id %s outside the cluster range", id)
	}
	ndc := prop.NDC.Entries[0]
	if ndc.MapID != uint8(timeline.Timeline5G) || ndc.Slots.Count() != model.DWIntervals {
		t.Fatalf("ndc schedule = %+v", ndc)
	}
	for _, slot := range ndc.Slots.Slots() {
		if slot%model.SlotsPerDW != model.NDCSlotOffset5G {
			t.Fatalf("ndc slot %d not at the 5 GHz offset", slot)
		}
	}

	cond := h.s.Timelines().Union(timeline.Timeline5G, timeline.Conditional)
	for w := 0; w < model.DWIntervals; w++ {
		if got := cond.WindowCount(w); got != h.s.cfg.Quota.NDLSlots {
			t.Fatalf("interval %d holds %d conditional slots, want %d", w, got, h.s.cfg.Quota.NDLSlots)
		}
	}
	if cond.Intersects(model.DWBitmap()) {
		t.Fatalf("conditional schedule covers a discovery window")
	}
	if bt, _ := h.s.Timelines().Timeline(timeline.Timeline5G); !bt.ValidatingConditional {
		t.Fatalf("conditional list not marked for validation")
	}
	if _, err := prop.MarshalBinary(); err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
}

func TestGenerateProposalMeetsQoSFloor(t *testing.T) {
	h := newHarness(t)
	h.start(peerA, NegoDataLink, RoleInitiator)
	if err := h.s.AddQoS(10, model.NoLatencyLimit); err != nil {
		t.Fatalf("AddQoS: %v", err)
	}

	prop, err := h.s.GenerateProposal(h.ctx)
	if err != nil {
		t.Fatalf("GenerateProposal: %v", err)
	}
	var cond model.Bitmap
	for _, id := range h.s.Timelines().Timelines() {
		cond = cond.Or(h.s.Timelines().Union(id, timeline.Conditional))
	}
	for w := 0; w < model.DWIntervals; w++ {
		if got := cond.WindowCount(w); got < 10 {
			t.Fatalf("interval %d holds %d slots, want at least 10", w, got)
		}
	}
	if prop.QoS == nil {
		t.Fatalf("proposal carries no QoS attribute")
	}
}

func TestGenerateProposalRejectsImpossibleQoS(t *testing.T) {
	h := newHarness(t)
	h.start(peerA, NegoDataLink, RoleInitiator)
	if err := h.s.AddQoS(40, model.NoLatencyLimit); err != nil {
		t.Fatalf("AddQoS: %v", err)
	}

	_, err := h.s.GenerateProposal(h.ctx)
	if err == nil {
		t.Fatalf("GenerateProposal succeeded")
	}
	if got := ReasonOf(err); got != model.ReasonQoSUnacceptable {
		t.Fatalf("reason = %s, want %s", got, model.ReasonQoSUnacceptable)
	}
	if h.s.State() != StateIdle {
		t.Fatalf("state = %s after rejection", h.s.State())
	}
	for _, id := range h.s.Timelines().Timelines() {
		if !h.s.Timelines().Union(id, timeline.Conditional).IsZero() {
			t.Fatalf("conditional slots left on %s", id)
		}
	}
	if len(h.s.Peers().NDCs()) != 0 {
		t.Fatalf("scratch NDC not released")
	}
}

func TestRangingProposalUsesRangingQuota(t *testing.T) {
	h := newHarness(t)
	h.start(peerA, NegoRanging, RoleInitiator)

	prop, err := h.s.GenerateProposal(h.ctx)
	if err != nil {
		t.Fatalf("GenerateProposal: %v", err)
	}
	if prop.NDC != nil {
		t.Fatalf("ranging proposal reserved an NDC")
	}
	if prop.Ranging == nil || len(prop.Ranging.Entries) == 0 {
		t.Fatalf("ranging schedule missing")
	}
	cond := h.s.Timelines().Union(timeline.Timeline5G, timeline.Conditional)
	if got := cond.WindowCount(0); got != h.s.cfg.Quota.RangingSlots {
		t.Fatalf("ranging slots per interval = %d", got)
	}
}

func TestInitiatorFailsOnConflictingResponse(t *testing.T) {
	h := newHarness(t)
	h.establish(peerA, ch36, 9, 137)

	h.start(peerB, NegoDataLink, RoleInitiator)
	if _, err := h.s.GenerateProposal(h.ctx); err != nil {
		t.Fatalf("GenerateProposal: %v", err)
	}
	if err := h.s.SetPeerAvailability(h.ctx, peerB, committedMap(1, ch149, 9, 10)); err != nil {
		t.Fatalf("SetPeerAvailability: %v", err)
	}
	_, _, err := h.s.CheckRemoteProposal(h.ctx)
	if got := ReasonOf(err); got != model.ReasonNDLUnacceptable {
		t.Fatalf("reason = %s (%v), want %s", got, err, model.ReasonNDLUnacceptable)
	}
	if h.s.State() != StateIdle {
		t.Fatalf("state = %s", h.s.State())
	}
}

func TestResponderCountersConflict(t *testing.T) {
	h := newHarness(t)
	h.establish(peerA, ch36, 9, 137)

	if err := h.s.SetPeerAvailability(h.ctx, peerB, committedMap(1, ch149, 9)); err != nil {
		t.Fatalf("SetPeerAvailability: %v", err)
	}
	h.start(peerB, NegoDataLink, RoleResponder)
	v, prop, err := h.s.CheckRemoteProposal(h.ctx)
	if err != nil {
		t.Fatalf("CheckRemoteProposal: %v", err)
	}
	if v != VerdictCounter || h.s.State() != StateWaitResponse {
		t.Fatalf("verdict %s state %s, want counter/wait_response", v, h.s.State())
	}
	if prop.NDC == nil {
		t.Fatalf("counter-proposal has no NDC")
	}
	for _, e := range h.s.Timelines().Entries(timeline.Timeline5G, timeline.Conditional) {
		if e.Channel != ch36 {
			t.Fatalf("counter uses %s, want the committed channel", e.Channel)
		}
	}

	h.s.NegoStop(h.ctx)
	if h.s.State() != StateIdle || len(h.s.Peers().NDCs()) != 0 {
		t.Fatalf("stop left state %s and %d NDCs", h.s.State(), len(h.s.Peers().NDCs()))
	}
	if _, ok := h.s.PeerRecordByMAC(peerB); ok {
		t.Fatalf("record of the stopped negotiation kept")
	}
	if _, ok := h.s.PeerRecordByMAC(peerA); !ok {
		t.Fatalf("established record lost")
	}
}

func TestImmutableConflictIsRejected(t *testing.T) {
	h := newHarness(t)
	h.establish(peerA, ch36, 9, 137)

	if err := h.s.SetPeerAvailability(h.ctx, peerB, committedMap(1, ch149, 9)); err != nil {
		t.Fatalf("SetPeerAvailability: %v", err)
	}
	hb, _ := h.s.Peers().LookupPeer(peerB)
	p, _ := h.s.Peers().Peer(hb)
	p.Immutable = []model.ScheduleEntry{{MapID: 1, Slots: model.BitmapFromSlots(9)}}

	h.start(peerB, NegoDataLink, RoleResponder)
	_, _, err := h.s.CheckRemoteProposal(h.ctx)
	if got := ReasonOf(err); got != model.ReasonImmutableUnacceptable {
		t.Fatalf("reason = %s, want %s", got, model.ReasonImmutableUnacceptable)
	}
}

func TestNDCOnlyOn2G4IsRejectedOutsideInterop(t *testing.T) {
	for _, interop := range []bool{false, true} {
		h := newHarness(t, func(c *config.Config) { c.Interop = interop })
		ch6 := model.NewChannel(81, 6)
		if err := h.s.SetPeerAvailability(h.ctx, peerA, committedMap(0, ch6, 1, 33)); err != nil {
			t.Fatalf("SetPeerAvailability: %v", err)
		}
		hp, _ := h.s.Peers().LookupPeer(peerA)
		p, _ := h.s.Peers().Peer(hp)
		p.NDC.ID = model.NDCID{0x50, 0x6F, 0x9A, 0x01, 0x00, 0x01}
		p.NDC.Selected = true
		p.NDC.Slots = model.BitmapFromSlots(1, 33)

		h.start(peerA, NegoDataLink, RoleResponder)
		v, _, err := h.s.CheckRemoteProposal(h.ctx)
		if err != nil {
			t.Fatalf("interop=%v: %v", interop, err)
		}
		want := VerdictCounter
		if interop {
			want = VerdictAccept
		}
		if v != want {
			t.Fatalf("interop=%v: verdict %s, want %s", interop, v, want)
		}
		h.s.NegoStop(h.ctx)
	}
}

func TestNDCOffsetIsCheckedOnHighBandsOnly(t *testing.T) {
	ndcID := model.NDCID{0x50, 0x6F, 0x9A, 0x01, 0x00, 0x02}
	cases := []struct {
		name  string
		ch    model.ChannelDescriptor
		slots []int
		want  Verdict
	}{
		{"2.4 GHz off the usual slot", model.NewChannel(81, 6), []int{3, 35}, VerdictAccept},
		{"5 GHz at the NDC slot", ch36, []int{9, 41}, VerdictAccept},
		{"5 GHz off the NDC slot", ch36, []int{10, 42}, VerdictCounter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, func(c *config.Config) { c.Interop = true })
			if err := h.s.SetPeerAvailability(h.ctx, peerA, committedMap(0, tc.ch, tc.slots...)); err != nil {
				t.Fatalf("SetPeerAvailability: %v", err)
			}
			hp, _ := h.s.Peers().LookupPeer(peerA)
			p, _ := h.s.Peers().Peer(hp)
			p.NDC.ID = ndcID
			p.NDC.Selected = true
			p.NDC.Slots = model.BitmapFromSlots(tc.slots...)

			h.start(peerA, NegoDataLink, RoleResponder)
			v, _, err := h.s.CheckRemoteProposal(h.ctx)
			if err != nil {
				t.Fatalf("CheckRemoteProposal: %v", err)
			}
			if v != tc.want {
				t.Fatalf("verdict %s, want %s", v, tc.want)
			}
			h.s.NegoStop(h.ctx)
		})
	}
}

func TestOperationsRequireMatchingState(t *testing.T) {
	h := newHarness(t)
	if _, err := h.s.GenerateProposal(h.ctx); !errors.Is(err, ErrWrongState) {
		t.Fatalf("GenerateProposal while idle: %v", err)
	}
	if _, _, err := h.s.CheckRemoteProposal(h.ctx); !errors.Is(err, ErrWrongState) {
		t.Fatalf("CheckRemoteProposal while idle: %v", err)
	}
	if err := h.s.Commit(h.ctx); !errors.Is(err, ErrWrongState) {
		t.Fatalf("Commit while idle: %v", err)
	}
	if err := h.s.AddQoS(1, 0); !errors.Is(err, ErrWrongState) {
		t.Fatalf("AddQoS while idle: %v", err)
	}

	h.start(peerA, NegoDataLink, RoleResponder)
	if _, err := h.s.GenerateProposal(h.ctx); !errors.Is(err, ErrWrongState) {
		t.Fatalf("GenerateProposal as responder: %v", err)
	}
}
