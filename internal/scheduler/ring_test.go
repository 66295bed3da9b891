package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/signalsfoundry/nan-scheduler/internal/config"
	"github.com/signalsfoundry/nan-scheduler/model"
)

func mac(i byte) model.MACAddress { return model.MACAddress{0x02, 0, 0, 0, 0, i} }

func TestTxnRingOrderAndCapacity(t *testing.T) {
	r := newTxnRing(3)
	for i := byte(1); i <= 3; i++ {
		if !r.push(Transaction{Peer: mac(i)}) {
			t.Fatalf("push %d refused", i)
		}
	}
	if r.push(Transaction{Peer: mac(4)}) {
		t.Fatalf("push into a full ring accepted")
	}
	first, _ := r.pop()
	if first.Peer != mac(1) {
		t.Fatalf("pop = %s, want %s", first.Peer, mac(1))
	}
	if !r.push(Transaction{Peer: mac(4)}) {
		t.Fatalf("push after pop refused")
	}
	for _, want := range []model.MACAddress{mac(2), mac(3), mac(4)} {
		got, ok := r.pop()
		if !ok || got.Peer != want {
			t.Fatalf("pop = %s %v, want %s", got.Peer, ok, want)
		}
	}
	if _, ok := r.pop(); ok {
		t.Fatalf("pop from an empty ring succeeded")
	}
}

func TestTxnRingRemovePeerKeepsOrder(t *testing.T) {
	r := newTxnRing(4)
	for _, i := range []byte{1, 2, 1, 3} {
		r.push(Transaction{Peer: mac(i)})
	}
	dropped := r.removePeer(mac(1))
	if len(dropped) != 2 || r.len() != 2 {
		t.Fatalf("dropped %d, left %d", len(dropped), r.len())
	}
	a, _ := r.pop()
	b, _ := r.pop()
	if a.Peer != mac(2) || b.Peer != mac(3) {
		t.Fatalf("order after removal: %s %s", a.Peer, b.Peer)
	}
}

func TestNegoStartQueueFull(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Capacity.Transactions = 2 })
	noop := func(context.Context, Grant) {}
	for i := byte(1); i <= 2; i++ {
		if err := h.s.NegoStart(h.ctx, mac(i), NegoDataLink, RoleInitiator, noop); err != nil {
			t.Fatalf("NegoStart %d: %v", i, err)
		}
	}
	err := h.s.NegoStart(h.ctx, mac(3), NegoDataLink, RoleInitiator, noop)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third NegoStart = %v, want ErrQueueFull", err)
	}
	if h.s.QueuedTransactions() != 2 {
		t.Fatalf("queued = %d", h.s.QueuedTransactions())
	}
}

func TestDispatchRunsOneNegotiationAtATime(t *testing.T) {
	h := newHarness(t)
	var granted []model.MACAddress
	record := func(_ context.Context, g Grant) { granted = append(granted, g.Peer) }
	for _, m := range []model.MACAddress{peerA, peerB} {
		if err := h.s.NegoStart(h.ctx, m, NegoDataLink, RoleInitiator, record); err != nil {
			t.Fatalf("NegoStart: %v", err)
		}
	}

	h.clock.Advance(h.s.timers.DispatchDelay)
	if len(granted) != 1 || granted[0] != peerA {
		t.Fatalf("granted = %v, want only %s", granted, peerA)
	}
	h.clock.Advance(10 * h.s.timers.DispatchDelay)
	if len(granted) != 1 || h.s.QueuedTransactions() != 1 {
		t.Fatalf("second negotiation dispatched while the first runs")
	}
	if got, role, _, ok := h.s.CurrentNegotiation(); !ok || got != peerA || role != RoleInitiator {
		t.Fatalf("current = %s %s %v", got, role, ok)
	}

	h.s.NegoStop(h.ctx)
	h.clock.Advance(h.s.timers.DispatchDelay)
	if len(granted) != 2 || granted[1] != peerB {
		t.Fatalf("granted = %v after stop", granted)
	}
}

func TestGrantFailsWhenRecordsRunOut(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Capacity.Records = 1 })
	h.establish(peerA, ch36, 9, 137)

	g := h.start(peerB, NegoDataLink, RoleResponder)
	if ReasonOf(g.Err) != model.ReasonResourceLimitation || g.Record != -1 {
		t.Fatalf("grant = %+v", g)
	}
	if h.s.State() != StateIdle {
		t.Fatalf("state = %s", h.s.State())
	}
}

func TestReasonOf(t *testing.T) {
	cases := []struct {
		err  error
		want model.ReasonCode
	}{
		{nil, model.ReasonNone},
		{errors.New("boom"), model.ReasonUnspecified},
		{reject(model.ReasonQoSUnacceptable, nil), model.ReasonQoSUnacceptable},
		{fmt.Errorf("wrapped: %w", reject(model.ReasonNDLUnacceptable, errors.New("x"))), model.ReasonNDLUnacceptable},
	}
	for _, tc := range cases {
		if got := ReasonOf(tc.err); got != tc.want {
			t.Fatalf("ReasonOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
