package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/nan-scheduler/internal/config"
	"github.com/signalsfoundry/nan-scheduler/internal/logging"
	"github.com/signalsfoundry/nan-scheduler/internal/observability"
	"github.com/signalsfoundry/nan-scheduler/internal/sbi"
	"github.com/signalsfoundry/nan-scheduler/internal/scheduler"
	"github.com/signalsfoundry/nan-scheduler/internal/timeline"
	"github.com/signalsfoundry/nan-scheduler/model"
	"github.com/signalsfoundry/nan-scheduler/timectrl"
)

// defaultTicks covers one full 512-slot timeline.
const defaultTicks = model.TotalSlots

// maxRounds bounds the proposal exchanges of one negotiation.
const maxRounds = 3

type runOptions struct {
	configPath   string
	scenarioPath string
	metricsAddr  string
	ticks        int
	logLevel     string
	logFormat    string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario against the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runScenario(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "scheduler configuration YAML (defaults when empty)")
	f.StringVar(&opts.scenarioPath, "scenario", "", "scenario YAML")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (disabled when empty)")
	f.IntVar(&opts.ticks, "ticks", 0, "slots to simulate (overrides the scenario)")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&opts.logFormat, "log-format", "text", "text or json")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runScenario(ctx context.Context, opts runOptions, out, logOut io.Writer) error {
	log := logging.New(logging.Config{Level: opts.logLevel, Format: opts.logFormat, Output: logOut})

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	sc, err := loadScenario(opts.scenarioPath)
	if err != nil {
		return err
	}
	ticks := sc.Ticks
	if opts.ticks > 0 {
		ticks = opts.ticks
	}
	if ticks == 0 {
		ticks = defaultTicks
	}

	tracing := observability.TracingConfigFromEnv()
	tracing.Writer = logOut
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSchedulerCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	sim, err := newSimulation(cfg, sc, collector, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	simCtx, cancel := context.WithCancel(gctx)
	g.Go(func() error {
		defer cancel()
		return sim.run(simCtx, ticks)
	})
	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: metricsMux(collector)}
		g.Go(func() error {
			log.Info(gctx, "serving Prometheus metrics", logging.String("addr", opts.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-simCtx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	sim.report(out)
	return nil
}

func metricsMux(collector *observability.SchedulerCollector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	return mux
}

// outcome is how the negotiation with one peer ended.
type outcome struct {
	peer   model.MACAddress
	role   scheduler.Role
	typ    scheduler.NegoType
	tick   int
	rounds int
	err    error
}

// simulation plays the remote side of every scripted peer. It only touches
// the scheduler from the time controller's listener.
type simulation struct {
	log     logging.Logger
	clock   *timectrl.TimeController
	events  sbi.EventScheduler
	sched   *scheduler.Scheduler
	sbi     *sbi.SBIMetrics
	peers   []ScenarioPeer
	macs    []model.MACAddress
	pending []scheduler.Grant
	results []outcome
	tick    int
	failure error
}

func newSimulation(cfg config.Config, sc Scenario, collector *observability.SchedulerCollector, log logging.Logger) (*simulation, error) {
	clock := timectrl.NewTimeController(time.Unix(0, 0).UTC(), timectrl.SlotDuration, timectrl.Accelerated)
	events := sbi.NewEventScheduler(clock)
	metrics := sbi.NewSBIMetrics()
	sched, err := scheduler.New(scheduler.Options{
		Config:    cfg,
		Commander: sbi.NewRecorder(metrics, log),
		Events:    events,
		Logger:    log,
		Metrics:   collector,
	})
	if err != nil {
		return nil, err
	}
	sim := &simulation{
		log:    log,
		clock:  clock,
		events: events,
		sched:  sched,
		sbi:    metrics,
		peers:  sc.Peers,
	}
	for _, p := range sc.Peers {
		mac, err := model.ParseMAC(p.MAC)
		if err != nil {
			return nil, err
		}
		sim.macs = append(sim.macs, mac)
	}
	return sim, nil
}

func (s *simulation) run(ctx context.Context, ticks int) error {
	if err := s.sched.Init(ctx); err != nil {
		return err
	}
	defer s.sched.Close()

	s.clock.AddListener(func(time.Time) {
		if s.failure != nil {
			return
		}
		if err := s.step(ctx); err != nil {
			s.failure = err
		}
		s.tick++
	})
	<-s.clock.Start(ctx, time.Duration(ticks)*timectrl.SlotDuration)
	if s.failure != nil {
		return s.failure
	}
	return ctx.Err()
}

func (s *simulation) step(ctx context.Context) error {
	for i, p := range s.peers {
		mac := s.macs[i]
		switch {
		case p.StartTick == s.tick:
			if err := s.start(ctx, p, mac); err != nil {
				return fmt.Errorf("peer %s: %w", mac, err)
			}
		case p.DropTick != 0 && p.DropTick == s.tick:
			if err := s.sched.DropResources(ctx, mac, p.negoType()); err != nil {
				s.log.Warn(ctx, "drop failed", logging.MAC("peer", mac), logging.String("error", err.Error()))
			}
		}
	}

	s.events.RunDue()

	for len(s.pending) > 0 {
		g := s.pending[0]
		s.pending = s.pending[1:]
		s.results = append(s.results, s.negotiate(ctx, g))
	}
	return nil
}

// start publishes the peer's attributes and queues its negotiation.
func (s *simulation) start(ctx context.Context, p ScenarioPeer, mac model.MACAddress) error {
	maps, err := p.maps()
	if err != nil {
		return err
	}
	if len(maps) > 0 {
		if err := s.sched.SetPeerAvailability(ctx, mac, maps...); err != nil {
			return err
		}
	}
	attrs, err := p.attributes()
	if err != nil {
		return err
	}
	if len(attrs) > 0 {
		if _, err := s.sched.ApplyPeerAttributes(ctx, mac, attrs); err != nil {
			return err
		}
	}
	return s.sched.NegoStart(ctx, mac, p.negoType(), p.role(), func(_ context.Context, g scheduler.Grant) {
		s.pending = append(s.pending, g)
	})
}

func (s *simulation) negotiate(ctx context.Context, g scheduler.Grant) outcome {
	res := outcome{peer: g.Peer, role: g.Role, typ: g.Type, tick: s.tick}
	if g.Err != nil {
		res.err = g.Err
		return res
	}
	if g.Role == scheduler.RoleInitiator {
		prop, err := s.sched.GenerateProposal(ctx)
		if err != nil {
			res.err = err
			return res
		}
		res.rounds++
		if err := s.answer(ctx, g.Peer, prop); err != nil {
			s.sched.NegoStop(ctx)
			res.err = err
			return res
		}
	}
	for res.rounds < maxRounds {
		verdict, prop, err := s.sched.CheckRemoteProposal(ctx)
		res.rounds++
		if err != nil {
			res.err = err
			return res
		}
		if verdict == scheduler.VerdictAccept {
			res.err = s.sched.Commit(ctx)
			return res
		}
		if err := s.answer(ctx, g.Peer, prop); err != nil {
			s.sched.NegoStop(ctx)
			res.err = err
			return res
		}
	}
	s.sched.NegoStop(ctx)
	res.err = fmt.Errorf("no agreement after %d rounds", maxRounds)
	return res
}

// answer makes the peer agree to prop: every slot we offered becomes a
// committed slot of the peer, and the schedule attributes are echoed back.
func (s *simulation) answer(ctx context.Context, mac model.MACAddress, prop scheduler.Proposal) error {
	var maps []model.AvailabilityMap
	for _, a := range prop.Availability {
		m := a.Map()
		agreed := model.AvailabilityMap{MapID: m.MapID}
		for _, e := range m.Entries {
			if !e.Control.Type.Has(model.EntryCommitted | model.EntryConditional) {
				continue
			}
			e.Control.Type = model.EntryCommitted
			agreed.Entries = append(agreed.Entries, e)
		}
		if len(agreed.Entries) > 0 {
			maps = append(maps, agreed)
		}
	}
	if len(maps) > 0 {
		if err := s.sched.SetPeerAvailability(ctx, mac, maps...); err != nil {
			return err
		}
	}
	echo := scheduler.Proposal{NDC: prop.NDC, Immutable: prop.Immutable, Ranging: prop.Ranging, QoS: prop.QoS}
	raw, err := echo.MarshalBinary()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	_, err = s.sched.ApplyPeerAttributes(ctx, mac, raw)
	return err
}

func (s *simulation) report(w io.Writer) {
	fmt.Fprintf(w, "simulated %d slots\n\n", s.tick)

	fmt.Fprintln(w, "negotiations:")
	for _, r := range s.results {
		status := "committed"
		if r.err != nil {
			status = fmt.Sprintf("failed (%s): %v", scheduler.ReasonOf(r.err), r.err)
		}
		fmt.Fprintf(w, "  %s %s %s tick=%d rounds=%d %s\n", r.peer, r.typ, r.role, r.tick, r.rounds, status)
	}

	fmt.Fprintln(w, "\ncommitted schedule:")
	tl := s.sched.Timelines()
	for _, id := range tl.Timelines() {
		for _, e := range tl.Entries(id, timeline.Committed) {
			fmt.Fprintf(w, "  %s %s slots=%v\n", id, e.Channel, e.Slots.Slots())
		}
	}

	fmt.Fprintln(w, "\nschedule records:")
	for _, r := range s.sched.ScheduleRecords() {
		fmt.Fprintf(w, "  #%d %s band=%s usage=%s ndc=%s\n", r.Index, r.Peer, r.Band, r.Usage, r.NDC)
		for _, id := range tl.Timelines() {
			if int(id) >= len(r.FAW) || r.FAW[id].IsZero() {
				continue
			}
			fmt.Fprintf(w, "    %s faw=%v granted=%d\n", id, r.FAW[id].Slots(), r.Granted[id])
		}
	}

	fmt.Fprintf(w, "\nsouthbound commands: %s\n", s.sbi)
}
