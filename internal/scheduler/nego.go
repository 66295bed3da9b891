package scheduler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// negotiation is the control block of the single negotiation in progress.
type negotiation struct {
	state  State
	role   Role
	typ    NegoType
	peer   kb.PeerHandle
	mac    model.MACAddress
	record int

	span trace.Span
	log  logging.Logger

	localQoS model.QoS
	scratch  scratch
}

// scratch holds what a negotiation has agreed so far. It is copied into the
// schedule record on commit and discarded otherwise.
type scratch struct {
	immutable model.Bitmap
	ranging   model.Bitmap
	ndc       kb.NDCHandle
	newNDC    bool
	qos       model.QoS
}

func (n *negotiation) reset() {
	*n = negotiation{
		state:   StateIdle,
		peer:    kb.NoPeer,
		record:  -1,
		scratch: scratch{ndc: kb.NoNDC},
		log:     logging.Noop(),
		span:    trace.SpanFromContext(context.Background()),
	}
}

// NegoStart queues a negotiation with mac. granted is called once the
// negotiation becomes current, or with Grant.Err set when no schedule
// record could be reserved for it.
func (s *Scheduler) NegoStart(ctx context.Context, mac model.MACAddress, typ NegoType, role Role, granted GrantFunc) error {
	if role != RoleInitiator && role != RoleResponder {
		return fmt.Errorf("%w: role %d", ErrWrongState, role)
	}
	if !s.ring.push(Transaction{Peer: mac, Type: typ, Role: role, Granted: granted}) {
		return fmt.Errorf("%w: %s", ErrQueueFull, mac)
	}
	s.metrics.SetQueuedTransactions(s.ring.len())
	s.log.Debug(ctx, "negotiation queued",
		logging.MAC("peer", mac),
		logging.String("type", typ.String()),
		logging.String("role", role.String()),
		logging.Int("queued", s.ring.len()),
	)
	s.dispatch.ArmIfIdle(s.timers.DispatchDelay)
	return nil
}

// onDispatch runs when the dispatch timer fires. A sync-update waiting for
// the negotiation to finish has priority over the queue.
func (s *Scheduler) onDispatch(ctx context.Context) {
	if s.sync.state == SyncCheck {
		s.stepSync(ctx)
		return
	}
	if s.nego.state != StateIdle || s.sync.state != SyncIdle {
		return
	}
	txn, ok := s.ring.pop()
	if !ok {
		return
	}
	s.metrics.SetQueuedTransactions(s.ring.len())
	s.begin(ctx, txn)
}

func (s *Scheduler) begin(ctx context.Context, txn Transaction) {
	grant := Grant{Peer: txn.Peer, Type: txn.Type, Role: txn.Role, Record: -1}
	h, err := s.peers.AcquirePeer(txn.Peer)
	idx := -1
	if err == nil {
		idx, err = s.peers.AcquireRecord(h)
	}
	if err != nil {
		grant.Err = reject(model.ReasonResourceLimitation, err)
		s.metrics.IncRejection(model.ReasonResourceLimitation.String())
		s.metrics.ObserveNegotiation(txn.Role.String(), "rejected")
		s.log.Warn(ctx, "negotiation could not start",
			logging.MAC("peer", txn.Peer),
			logging.String("error", err.Error()),
		)
		if txn.Granted != nil {
			txn.Granted(ctx, grant)
		}
		s.armDispatchIfQueued()
		return
	}

	nctx, log := logging.WithNegotiationLogger(ctx, s.log)
	nctx, span := s.tracer.Start(nctx, "nan.negotiation", trace.WithAttributes(
		attribute.String("nan.peer", txn.Peer.String()),
		attribute.String("nan.role", txn.Role.String()),
		attribute.String("nan.type", txn.Type.String()),
		attribute.Int("nan.record", idx),
	))
	s.nego = negotiation{
		role:     txn.Role,
		typ:      txn.Type,
		peer:     h,
		mac:      txn.Peer,
		record:   idx,
		span:     span,
		log:      log,
		localQoS: s.cfg.DefaultQoS(),
		scratch:  scratch{ndc: kb.NoNDC},
	}
	if txn.Role == RoleInitiator {
		s.nego.state = StateInitiator
	} else {
		s.nego.state = StateResponder
	}
	s.active++
	s.perPeer[txn.Peer]++
	grant.Record = idx
	log.Info(nctx, "negotiation started",
		logging.MAC("peer", txn.Peer),
		logging.String("role", txn.Role.String()),
		logging.String("type", txn.Type.String()),
		logging.Int("record", idx),
	)
	if txn.Granted != nil {
		txn.Granted(nctx, grant)
	}
}

// AddQoS tightens the local requirement of the current negotiation.
func (s *Scheduler) AddQoS(minSlots uint8, maxLatency uint16) error {
	if s.nego.state == StateIdle {
		return ErrWrongState
	}
	s.nego.localQoS = s.nego.localQoS.Merge(model.QoS{MinSlots: minSlots, MaxLatency: maxLatency})
	return nil
}

// NegoStop cancels the current negotiation unconditionally.
func (s *Scheduler) NegoStop(ctx context.Context) {
	if s.nego.state == StateIdle {
		return
	}
	s.releaseScratch()
	s.finish(ctx, "stopped")
	s.drain(ctx)
}

// childSpan starts an operation span under the negotiation span.
func (s *Scheduler) childSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(trace.ContextWithSpan(ctx, s.nego.span), name)
}

// abort ends the negotiation with a coded failure.
func (s *Scheduler) abort(ctx context.Context, ne *NegotiationError) error {
	s.releaseScratch()
	s.metrics.IncRejection(ne.Reason.String())
	s.nego.span.RecordError(ne)
	s.nego.span.SetStatus(codes.Error, ne.Reason.String())
	s.nego.log.Warn(ctx, "negotiation rejected",
		logging.MAC("peer", s.nego.mac),
		logging.String("reason", ne.Reason.String()),
		logging.String("error", ne.Error()),
	)
	s.finish(ctx, "rejected")
	s.drain(ctx)
	return ne
}

// releaseScratch frees what an unfinished negotiation reserved: a freshly
// created NDC and a record that carries no established link.
func (s *Scheduler) releaseScratch() {
	sc := s.nego.scratch
	if sc.newNDC && sc.ndc != kb.NoNDC && !s.peers.NDCReferenced(sc.ndc) {
		s.peers.ReleaseNDC(sc.ndc)
	}
	if r, err := s.peers.Record(s.nego.record); err == nil && r.Usage == 0 {
		s.peers.ReleaseRecord(s.nego.record)
	}
}

// finish drops conditional state, settles the counters and returns to Idle.
func (s *Scheduler) finish(ctx context.Context, result string) {
	for _, id := range s.timelines.Timelines() {
		s.timelines.Reset(id, timeline.Conditional)
	}
	mac, role := s.nego.mac, s.nego.role
	s.active--
	if s.perPeer[mac]--; s.perPeer[mac] <= 0 {
		delete(s.perPeer, mac)
	}
	s.metrics.ObserveNegotiation(role.String(), result)
	s.nego.span.SetAttributes(attribute.String("nan.result", result))
	s.nego.span.End()
	s.nego.log.Info(ctx, "negotiation finished",
		logging.MAC("peer", mac),
		logging.String("result", result),
	)
	s.nego.reset()
	s.armDispatchIfQueued()
}

func (s *Scheduler) armDispatchIfQueued() {
	if s.ring.len() > 0 {
		s.dispatch.ArmIfIdle(s.timers.DispatchDelay)
	}
}
