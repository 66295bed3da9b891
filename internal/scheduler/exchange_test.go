package scheduler

import (
	"testing"

	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// deliver encodes prop as a frame body and applies it at the receiving node
// as attributes from mac.
func deliver(t *testing.T, to *harness, from model.MACAddress, prop Proposal) {
	t.Helper()
	raw, err := prop.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if _, err := to.s.ApplyPeerAttributes(to.ctx, from, raw); err != nil {
		t.Fatalf("ApplyPeerAttributes: %v", err)
	}
}

func committed(h *harness) map[timeline.ID]model.Bitmap {
	out := make(map[timeline.ID]model.Bitmap)
	for _, id := range h.s.Timelines().Timelines() {
		out[id] = h.s.Timelines().Union(id, timeline.Committed)
	}
	return out
}

func TestNegotiationOverWireCommitsSameSlots(t *testing.T) {
	// a is known to b as peerA and b to a as peerB.
	a, b := newHarness(t), newHarness(t)

	a.start(peerB, NegoDataLink, RoleInitiator)
	req, err := a.s.GenerateProposal(a.ctx)
	if err != nil {
		t.Fatalf("GenerateProposal: %v", err)
	}
	if req.NDC == nil {
		t.Fatalf("request carries no NDC")
	}
	deliver(t, b, peerA, req)

	b.start(peerA, NegoDataLink, RoleResponder)
	v, resp, err := b.s.CheckRemoteProposal(b.ctx)
	if err != nil || v != VerdictAccept {
		t.Fatalf("responder verdict %s, %v; want accept", v, err)
	}
	deliver(t, a, peerB, resp)

	v, _, err = a.s.CheckRemoteProposal(a.ctx)
	if err != nil || v != VerdictAccept {
		t.Fatalf("initiator verdict %s, %v; want accept", v, err)
	}

	if err := a.s.Commit(a.ctx); err != nil {
		t.Fatalf("initiator Commit: %v", err)
	}
	if err := b.s.Commit(b.ctx); err != nil {
		t.Fatalf("responder Commit: %v", err)
	}

	got, want := committed(a), committed(b)
	if got[timeline.Timeline5G].IsZero() {
		t.Fatalf("nothing committed on 5 GHz")
	}
	for id, slots := range want {
		if got[id] != slots {
			t.Fatalf("timeline %s: initiator committed %s, responder %s", id, got[id], slots)
		}
	}
	if got[timeline.Timeline5G].Intersects(model.DWBitmap()) {
		t.Fatalf("committed schedule covers a discovery window")
	}

	ra, okA := a.s.PeerRecordByMAC(peerB)
	rb, okB := b.s.PeerRecordByMAC(peerA)
	if !okA || !okB {
		t.Fatalf("schedule records: initiator %v responder %v", okA, okB)
	}
	if ra.FAW[timeline.Timeline5G] != rb.FAW[timeline.Timeline5G] {
		t.Fatalf("granted windows differ: %s vs %s", ra.FAW[timeline.Timeline5G], rb.FAW[timeline.Timeline5G])
	}
}
