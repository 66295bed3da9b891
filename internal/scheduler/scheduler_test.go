package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/signalsfoundry/nan-scheduler/internal/config"
	"github.com/signalsfoundry/nan-scheduler/internal/observability"
	"github.com/signalsfoundry/nan-scheduler/internal/sbi"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	ch36  = model.NewChannel(115, 36)
	ch149 = model.NewChannel(124, 149)

	peerA = model.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0x0a}
	peerB = model.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0x0b}
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	s       *Scheduler
	clock   *sbi.FakeEventScheduler
	cmds    *sbi.Recorder
	metrics *observability.SchedulerCollector
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(&cfg)
	}
	collector, err := observability.NewSchedulerCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewSchedulerCollector: %v", err)
	}
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		clock:   sbi.NewFakeEventScheduler(time.Unix(0, 0)),
		cmds:    sbi.NewRecorder(nil, nil),
		metrics: collector,
	}
	h.s, err = New(Options{Config: cfg, Commander: h.cmds, Events: h.clock, Metrics: collector})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.s.Init(h.ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(h.s.Close)
	return h
}

func committedMap(mapID uint8, ch model.ChannelDescriptor, slots ...int) model.AvailabilityMap {
	return model.AvailabilityMap{
		MapID: mapID,
		Entries: []model.AvailabilityEntry{{
			Control:  model.EntryControl{Type: model.EntryCommitted, TimeBitmapPresent: true},
			Slots:    model.BitmapFromSlots(slots...),
			Channels: []model.ChannelDescriptor{ch},
		}},
	}
}

// start queues a negotiation and runs the dispatch timer once.
func (h *harness) start(mac model.MACAddress, typ NegoType, role Role) Grant {
	h.t.Helper()
	var got Grant
	called := false
	err := h.s.NegoStart(h.ctx, mac, typ, role, func(_ context.Context, g Grant) {
		got, called = g, true
	})
	if err != nil {
		h.t.Fatalf("NegoStart: %v", err)
	}
	h.clock.Advance(h.s.timers.DispatchDelay)
	if !called {
		h.t.Fatalf("negotiation with %s was not dispatched", mac)
	}
	return got
}

// establish runs a responder negotiation that accepts the peer's committed
// slots on ch and commits it.
func (h *harness) establish(mac model.MACAddress, ch model.ChannelDescriptor, slots ...int) {
	h.t.Helper()
	if err := h.s.SetPeerAvailability(h.ctx, mac, committedMap(1, ch, slots...)); err != nil {
		h.t.Fatalf("SetPeerAvailability: %v", err)
	}
	if g := h.start(mac, NegoDataLink, RoleResponder); g.Err != nil {
		h.t.Fatalf("grant: %v", g.Err)
	}
	v, _, err := h.s.CheckRemoteProposal(h.ctx)
	if err != nil || v != VerdictAccept {
		h.t.Fatalf("CheckRemoteProposal = %v, %v; want accept", v, err)
	}
	if err := h.s.Commit(h.ctx); err != nil {
		h.t.Fatalf("Commit: %v", err)
	}
}

func TestResponderAcceptsNDCSlotAndCommits(t *testing.T) {
	h := newHarness(t)
	want := model.BitmapFromSlots(9, 137)
	if err := h.s.SetPeerAvailability(h.ctx, peerA, committedMap(1, ch36, 9, 137)); err != nil {
		t.Fatalf("SetPeerAvailability: %v", err)
	}

	g := h.start(peerA, NegoDataLink, RoleResponder)
	if g.Err != nil || g.Record != 0 {
		t.Fatalf("grant = %+v", g)
	}
	if h.s.State() != StateResponder || !h.s.Negotiating(peerA) {
		t.Fatalf("state = %s, negotiating = %v", h.s.State(), h.s.Negotiating(peerA))
	}

	v, prop, err := h.s.CheckRemoteProposal(h.ctx)
	if err != nil {
		t.Fatalf("CheckRemoteProposal: %v", err)
	}
	if v != VerdictAccept || h.s.State() != StateConfirm {
		t.Fatalf("verdict %s state %s, want accept/confirm", v, h.s.State())
	}
	if len(prop.Availability) == 0 {
		t.Fatalf("accept carries no availability")
	}
	if cond := h.s.Timelines().Union(timeline.Timeline5G, timeline.Conditional); cond != want {
		t.Fatalf("conditional = %s, want %s", cond, want)
	}

	if err := h.s.Commit(h.ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if h.s.State() != StateIdle || h.s.ActiveNegotiations() != 0 {
		t.Fatalf("state %s active %d after commit", h.s.State(), h.s.ActiveNegotiations())
	}
	entries := h.s.Timelines().Entries(timeline.Timeline5G, timeline.Committed)
	if len(entries) != 1 || entries[0].Channel != ch36 || entries[0].Slots != want {
		t.Fatalf("committed 5G entries = %+v", entries)
	}
	if !h.s.Timelines().Union(timeline.Timeline2G4, timeline.Committed).IsZero() {
		t.Fatalf("2.4 GHz timeline gained committed slots")
	}

	rec, ok := h.s.PeerRecordByMAC(peerA)
	if !ok {
		t.Fatalf("no schedule record after commit")
	}
	if rec.FAW[timeline.Timeline5G] != want || rec.Granted[timeline.Timeline5G] != 2 {
		t.Fatalf("faw = %s granted %d", rec.FAW[timeline.Timeline5G], rec.Granted[timeline.Timeline5G])
	}
	if rec.Band != model.Band5G || !rec.Usage.Has(kb.UsageDataLink) {
		t.Fatalf("record = %+v", rec)
	}
}

func TestCommitSyncsFirmware(t *testing.T) {
	h := newHarness(t)
	h.cmds.Reset()
	h.establish(peerA, ch36, 9, 137)

	if h.s.SyncState() != SyncIdle {
		t.Fatalf("sync state = %s after commit", h.s.SyncState())
	}
	crbs := h.cmds.OfType(sbi.CmdUpdateCRB)
	if len(crbs) != 2 {
		t.Fatalf("UpdateCRB sent %d times, want one per timeline", len(crbs))
	}
	var found bool
	for _, c := range crbs {
		crb := c.(sbi.UpdateCRB)
		if crb.Timeline == uint8(timeline.Timeline5G) && len(crb.Entries) == 1 && crb.Entries[0].Channel == ch36 {
			found = true
		}
	}
	if !found {
		t.Fatalf("5G committed schedule not pushed: %+v", crbs)
	}

	manage := h.cmds.OfType(sbi.CmdManagePeerScheduleRecord)
	if len(manage) != 1 {
		t.Fatalf("ManagePeerScheduleRecord sent %d times", len(manage))
	}
	m := manage[0].(sbi.ManagePeerScheduleRecord)
	if m.Op != sbi.RecordAdd || m.MAC != peerA || m.FAW[timeline.Timeline5G] != model.BitmapFromSlots(9, 137) {
		t.Fatalf("manage = %+v", m)
	}
	phy := h.cmds.OfType(sbi.CmdUpdatePHYSettings)
	if len(phy) != 1 {
		t.Fatalf("UpdatePHYSettings sent %d times", len(phy))
	}
	if p := phy[0].(sbi.UpdatePHYSettings); p.Band != model.Band5G || p.Width != 20 || p.NSS != 1 {
		t.Fatalf("phy = %+v", p)
	}
	if len(h.cmds.OfType(sbi.CmdUpdatePeerCapability)) != 1 {
		t.Fatalf("peer capability not pushed")
	}

	if got := testutil.ToFloat64(h.metrics.Negotiations.WithLabelValues("responder", "accepted")); got != 1 {
		t.Fatalf("accepted negotiations = %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.CommittedSlots.WithLabelValues(timeline.Timeline5G.String())); got != 2 {
		t.Fatalf("committed slot gauge = %v", got)
	}
}

func TestDropResourcesCollectsCommittedSlots(t *testing.T) {
	h := newHarness(t)
	h.establish(peerA, ch36, 9, 137)
	h.cmds.Reset()

	if err := h.s.DropResources(h.ctx, peerA, NegoDataLink); err != nil {
		t.Fatalf("DropResources: %v", err)
	}
	if !h.s.Timelines().Union(timeline.Timeline5G, timeline.Committed).IsZero() {
		t.Fatalf("committed slots survived: %+v", h.s.Timelines().Entries(timeline.Timeline5G, timeline.Committed))
	}
	if _, ok := h.s.PeerRecordByMAC(peerA); ok {
		t.Fatalf("record not released")
	}
	var removed bool
	for _, c := range h.cmds.OfType(sbi.CmdManagePeerScheduleRecord) {
		if m := c.(sbi.ManagePeerScheduleRecord); m.Op == sbi.RecordRemove && m.MAC == peerA {
			removed = true
		}
	}
	if !removed {
		t.Fatalf("firmware record not removed")
	}
	if got := testutil.ToFloat64(h.metrics.GCReleasedSlots); got != 2 {
		t.Fatalf("gc released = %v, want 2", got)
	}

	if err := h.s.DropResources(h.ctx, peerA, NegoDataLink); err == nil {
		t.Fatalf("second drop succeeded")
	}
}

func TestGarbageCollectionKeepsOtherLinks(t *testing.T) {
	h := newHarness(t)
	h.establish(peerA, ch36, 9, 137)
	h.establish(peerB, ch36, 10, 138)
	if got := h.s.Timelines().Union(timeline.Timeline5G, timeline.Committed); got != model.BitmapFromSlots(9, 10, 137, 138) {
		t.Fatalf("committed = %s", got)
	}

	if err := h.s.DropResources(h.ctx, peerA, NegoDataLink); err != nil {
		t.Fatalf("DropResources: %v", err)
	}
	if got := h.s.Timelines().Union(timeline.Timeline5G, timeline.Committed); got != model.BitmapFromSlots(10, 138) {
		t.Fatalf("committed after drop = %s", got)
	}
	rec, ok := h.s.PeerRecordByMAC(peerB)
	if !ok || rec.FAW[timeline.Timeline5G] != model.BitmapFromSlots(10, 138) {
		t.Fatalf("surviving record = %+v", rec)
	}
}

func TestAvailabilityUpdatesAreDebounced(t *testing.T) {
	h := newHarness(t)
	h.s.markAvailabilityChanged(false, true, false)
	h.s.markAvailabilityChanged(false, false, true)
	if n := len(h.cmds.OfType(sbi.CmdUpdateAvailabilityControl)); n != 0 {
		t.Fatalf("pushed %d updates before the debounce expired", n)
	}

	h.clock.Advance(h.s.timers.AvailabilityDebounce)
	ctrl := h.cmds.OfType(sbi.CmdUpdateAvailabilityControl)
	if len(ctrl) != 1 {
		t.Fatalf("got %d availability updates, want 1", len(ctrl))
	}
	c := ctrl[0].(sbi.UpdateAvailabilityControl)
	if c.SequenceID != 1 || !c.CommittedChanged || !c.PotentialChanged || !c.NDCChanged {
		t.Fatalf("control = %+v", c)
	}
	if n := len(h.cmds.OfType(sbi.CmdUpdateAvailability)); n != 2 {
		t.Fatalf("availability attributes = %d, want one per timeline", n)
	}

	h.s.markAvailabilityChanged(true, false, false)
	h.clock.Advance(h.s.timers.AvailabilityDebounce)
	ctrl = h.cmds.OfType(sbi.CmdUpdateAvailabilityControl)
	if c := ctrl[len(ctrl)-1].(sbi.UpdateAvailabilityControl); c.SequenceID != 2 || c.PotentialChanged {
		t.Fatalf("second control = %+v", c)
	}
}

func TestInitPushesVersionAndPotentialChannels(t *testing.T) {
	h := newHarness(t)
	v := h.cmds.OfType(sbi.CmdSetScheduleVersion)
	if len(v) != 1 || v[0].(sbi.SetScheduleVersion).Version != 1 {
		t.Fatalf("schedule version = %+v", v)
	}
	pot := h.cmds.OfType(sbi.CmdUpdatePotentialChannels)
	if len(pot) != 2 {
		t.Fatalf("potential channel updates = %d", len(pot))
	}
	for _, c := range pot {
		if len(c.(sbi.UpdatePotentialChannels).Channels) == 0 {
			t.Fatalf("timeline %d advertises no channel", c.(sbi.UpdatePotentialChannels).Timeline)
		}
	}
}

func TestNewRequiresEventScheduler(t *testing.T) {
	if _, err := New(Options{Config: config.Default()}); err == nil {
		t.Fatalf("New without events succeeded")
	}
	cfg := config.Default()
	cfg.Bands = nil
	if _, err := New(Options{Config: cfg, Events: sbi.NewFakeEventScheduler(time.Unix(0, 0))}); err == nil {
		t.Fatalf("New with invalid config succeeded")
	}
}

func TestPeerLostReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.establish(peerA, ch36, 9, 137)

	var failed error
	if err := h.s.NegoStart(h.ctx, peerA, NegoRanging, RoleInitiator, func(_ context.Context, g Grant) {
		failed = g.Err
	}); err != nil {
		t.Fatalf("NegoStart: %v", err)
	}
	h.s.PeerLost(h.ctx, peerA)

	if ReasonOf(failed) != model.ReasonUnspecified {
		t.Fatalf("queued transaction error = %v", failed)
	}
	if h.s.QueuedTransactions() != 0 {
		t.Fatalf("queue not emptied")
	}
	if _, ok := h.s.Peers().LookupPeer(peerA); ok {
		t.Fatalf("peer descriptor kept")
	}
	if !h.s.Timelines().Union(timeline.Timeline5G, timeline.Committed).IsZero() {
		t.Fatalf("committed slots kept")
	}
}

func TestStationsTriggerRecordUpdate(t *testing.T) {
	h := newHarness(t)
	if err := h.s.SetPeerStations(h.ctx, peerA, []uint8{1}); err == nil {
		t.Fatalf("stations accepted without a record")
	}
	h.establish(peerA, ch36, 9, 137)
	h.cmds.Reset()

	if err := h.s.SetPeerStations(h.ctx, peerA, []uint8{1, 2}); err != nil {
		t.Fatalf("SetPeerStations: %v", err)
	}
	manage := h.cmds.OfType(sbi.CmdManagePeerScheduleRecord)
	if len(manage) != 1 {
		t.Fatalf("manage sent %d times", len(manage))
	}
	if m := manage[0].(sbi.ManagePeerScheduleRecord); m.Op != sbi.RecordUpdate || len(m.Stations) != 2 {
		t.Fatalf("manage = %+v", m)
	}
}
