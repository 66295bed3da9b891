// Package scheduler is the NAN resource scheduler. It owns the band
// timelines and the peer schedule records, derives every peer's granted
// window, and runs the schedule negotiation and the firmware sync-update
// state machines.
//
// A Scheduler is not safe for concurrent use. The caller serializes every
// call, including the RunDue loop of the event scheduler that fires its
// timers.
package scheduler

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/nan-scheduler/core"
	"github.com/signalsfoundry/nan-scheduler/internal/config"
	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/observability"
	"github.com/signalsfoundry/nan-scheduler/internal/sbi"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/internal/wire"
	"github.com/signalsfoundry/nan-scheduler/kb"
	"github.com/signalsfoundry/nan-scheduler/model"
)

// Options wires a Scheduler to its collaborators. Events is required;
// a nil Commander records commands in memory, nil Logger and Metrics
// disable them, and a nil Tracer uses the global provider.
type Options struct {
	Config    config.Config
	Commander sbi.Commander
	Events    sbi.EventScheduler
	Logger    logging.Logger
	Metrics   *observability.SchedulerCollector
	Tracer    trace.Tracer
}

// Scheduler is the explicit scheduler context every operation runs against.
type Scheduler struct {
	cfg       config.Config
	pref      []model.Band
	timelines *timeline.Store
	peers     *kb.Store
	cmd       sbi.Commander
	events    sbi.EventScheduler
	timers    sbi.TimerConfig
	log       logging.Logger
	metrics   *observability.SchedulerCollector
	tracer    trace.Tracer

	// baseCtx is used by timer callbacks, which have no caller context.
	baseCtx context.Context

	nego     negotiation
	ring     *txnRing
	active   int
	perPeer  map[model.MACAddress]int
	sync     syncMachine
	queue    []event
	draining bool

	dispatch *sbi.OneShot
	debounce *sbi.OneShot
	avail    availabilityState

	ais       infrastructure
	staged    []customFAW
	global    Override
	overrides map[model.MACAddress]Override
}

// New builds a scheduler with empty timelines and pools.
func New(opts Options) (*Scheduler, error) {
	if opts.Events == nil {
		return nil, errors.New("scheduler: event scheduler required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	cmd := opts.Commander
	if cmd == nil {
		cmd = sbi.NewRecorder(nil, log)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.Tracer("nan-scheduler")
	}

	s := &Scheduler{
		cfg:       opts.Config,
		pref:      opts.Config.Preference(),
		timelines: timeline.NewStore(opts.Config.DualRadio, opts.Config.TimelineCapacity()),
		peers:     kb.NewStore(opts.Config.Limits()),
		cmd:       cmd,
		events:    opts.Events,
		timers:    opts.Config.TimerConfig(),
		log:       log,
		metrics:   opts.Metrics,
		tracer:    tracer,
		baseCtx:   context.Background(),
		ring:      newTxnRing(opts.Config.Capacity.Transactions),
		perPeer:   make(map[model.MACAddress]int),
		sync:      newSyncMachine(),
		overrides: make(map[model.MACAddress]Override),
	}
	s.nego.reset()
	if ch, slots, ok := opts.Config.InfrastructureUse(); ok {
		s.ais = infrastructure{valid: true, channel: ch, slots: slots}
	}
	s.dispatch = sbi.NewOneShot(s.events, func() {
		s.post(event{kind: evDispatch})
		s.drain(s.baseCtx)
	})
	s.debounce = sbi.NewOneShot(s.events, func() {
		s.post(event{kind: evAvailability})
		s.drain(s.baseCtx)
	})
	s.peers.Subscribe(func(kb.Event) { s.updatePoolMetrics() })
	return s, nil
}

// Init announces the schedule version, pushes the potential channel lists
// and schedules the first availability update. ctx is kept for timer
// callbacks.
func (s *Scheduler) Init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.baseCtx = ctx
	if err := s.cmd.Send(ctx, sbi.SetScheduleVersion{Version: s.cfg.ScheduleVersion}); err != nil {
		return err
	}
	if err := s.CommitNonNANChannels(ctx); err != nil {
		return err
	}
	s.markAvailabilityChanged(true, true, false)
	s.log.Info(ctx, "nan scheduler initialised",
		logging.Int("timelines", len(s.timelines.Timelines())),
		logging.Any("bands", s.pref),
		logging.Int("schedule_version", int(s.cfg.ScheduleVersion)),
	)
	return nil
}

// Close stops both timers.
func (s *Scheduler) Close() {
	s.dispatch.Stop()
	s.debounce.Stop()
}

func (s *Scheduler) Config() config.Config { return s.cfg }

// Timelines exposes the channel timeline store.
func (s *Scheduler) Timelines() *timeline.Store { return s.timelines }

// Peers exposes the peer schedule store.
func (s *Scheduler) Peers() *kb.Store { return s.peers }

// State returns the negotiation state.
func (s *Scheduler) State() State { return s.nego.state }

// CurrentNegotiation returns the peer, role and schedule index of the
// negotiation in progress.
func (s *Scheduler) CurrentNegotiation() (model.MACAddress, Role, int, bool) {
	if s.nego.state == StateIdle {
		return model.MACAddress{}, 0, -1, false
	}
	return s.nego.mac, s.nego.role, s.nego.record, true
}

// ActiveNegotiations counts negotiations between dispatch and completion.
func (s *Scheduler) ActiveNegotiations() int { return s.active }

// Negotiating reports whether a negotiation with mac is in progress.
func (s *Scheduler) Negotiating(mac model.MACAddress) bool { return s.perPeer[mac] > 0 }

// QueuedTransactions returns the number of transactions waiting for
// dispatch.
func (s *Scheduler) QueuedTransactions() int { return s.ring.len() }

// SyncState returns the sync-update machine state.
func (s *Scheduler) SyncState() SyncState { return s.sync.state }

// localChannel is the channel the device itself uses in slot: an operator
// override first, then the committed schedule.
func (s *Scheduler) localChannel(id timeline.ID, slot int) (model.ChannelDescriptor, bool) {
	if ch, ok := s.timelines.CustomAt(id, slot); ok {
		return ch, true
	}
	for _, e := range s.timelines.Entries(id, timeline.Committed) {
		if e.Slots.Test(slot) {
			return e.Channel, true
		}
	}
	return model.ChannelDescriptor{}, false
}

// allowed reports whether ch may be used locally at all.
func (s *Scheduler) allowed(ch model.ChannelDescriptor) bool {
	if _, err := core.AllocationOf(ch); err != nil || !wire.Encodable(ch) {
		return false
	}
	band := core.BandOf(ch)
	if !s.cfg.BandMask().Has(band) || core.WidthOf(ch) > s.cfg.WidthFor(band) {
		return false
	}
	if fixed, ok := s.cfg.Fixed(); ok && core.BandOf(fixed) == band && !core.Compatible(fixed, ch) {
		return false
	}
	return true
}

func (s *Scheduler) send(ctx context.Context, cmd sbi.Command) {
	if err := s.cmd.Send(ctx, cmd); err != nil {
		s.log.Warn(ctx, "firmware command failed",
			logging.String("command", cmd.Type().String()),
			logging.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) updatePoolMetrics() {
	s.metrics.SetPoolUsage(s.peers.PeerCount(), len(s.peers.ActiveRecords()))
}
