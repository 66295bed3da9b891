package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SchedulerCollector exposes NAN scheduler Prometheus metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	Negotiations         *prometheus.CounterVec
	Rejections           *prometheus.CounterVec
	CommittedSlots       *prometheus.GaugeVec
	PeersInUse           prometheus.Gauge
	RecordsActive        prometheus.Gauge
	TransactionsQueued   prometheus.Gauge
	GCReleasedSlots      prometheus.Counter
	ProposalEvalDuration prometheus.Histogram
}

// NewSchedulerCollector registers scheduler metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &SchedulerCollector{gatherer: gatherer}

	var err error
	if c.Negotiations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nan_negotiations_total",
		Help: "Completed NDL and ranging negotiations, labeled by role and result.",
	}, []string{"role", "result"})); err != nil {
		return nil, err
	}

	if c.Rejections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nan_negotiation_rejections_total",
		Help: "Negotiations that ended with a rejection, labeled by reason code.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}

	if c.CommittedSlots, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nan_committed_slots",
		Help: "Slots in the committed list of each band timeline.",
	}, []string{"timeline"})); err != nil {
		return nil, err
	}

	if c.PeersInUse, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nan_peer_descriptors_in_use",
		Help: "Peer schedule descriptors currently allocated from the pool.",
	})); err != nil {
		return nil, err
	}

	if c.RecordsActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nan_schedule_records_active",
		Help: "Active peer schedule records.",
	})); err != nil {
		return nil, err
	}

	if c.TransactionsQueued, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nan_transactions_queued",
		Help: "Negotiation transactions waiting in the dispatch ring.",
	})); err != nil {
		return nil, err
	}

	if c.GCReleasedSlots, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nan_gc_released_slots_total",
		Help: "Committed slots removed by schedule garbage collection.",
	})); err != nil {
		return nil, err
	}

	if c.ProposalEvalDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nan_proposal_evaluation_duration_seconds",
		Help:    "Time spent generating or evaluating a schedule proposal.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SchedulerCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveNegotiation counts one finished negotiation.
func (c *SchedulerCollector) ObserveNegotiation(role, result string) {
	if c == nil || c.Negotiations == nil {
		return
	}
	c.Negotiations.WithLabelValues(role, result).Inc()
}

// IncRejection counts a rejection with the given reason label.
func (c *SchedulerCollector) IncRejection(reason string) {
	if c == nil || c.Rejections == nil {
		return
	}
	c.Rejections.WithLabelValues(reason).Inc()
}

// SetCommittedSlots updates the committed slot gauge for one band timeline.
func (c *SchedulerCollector) SetCommittedSlots(timeline string, n int) {
	if c == nil || c.CommittedSlots == nil {
		return
	}
	c.CommittedSlots.WithLabelValues(timeline).Set(float64(n))
}

// SetPoolUsage updates the peer descriptor and record gauges.
func (c *SchedulerCollector) SetPoolUsage(peers, records int) {
	if c == nil {
		return
	}
	if c.PeersInUse != nil {
		c.PeersInUse.Set(float64(peers))
	}
	if c.RecordsActive != nil {
		c.RecordsActive.Set(float64(records))
	}
}

// SetQueuedTransactions updates the transaction ring depth gauge.
func (c *SchedulerCollector) SetQueuedTransactions(n int) {
	if c == nil || c.TransactionsQueued == nil {
		return
	}
	c.TransactionsQueued.Set(float64(n))
}

// AddGCReleased adds n released slots to the GC counter.
func (c *SchedulerCollector) AddGCReleased(n int) {
	if c == nil || c.GCReleasedSlots == nil || n <= 0 {
		return
	}
	c.GCReleasedSlots.Add(float64(n))
}

// ObserveEvaluation records a proposal evaluation duration measurement.
func (c *SchedulerCollector) ObserveEvaluation(d time.Duration) {
	if c == nil || c.ProposalEvalDuration == nil {
		return
	}
	c.ProposalEvalDuration.Observe(d.Seconds())
}
