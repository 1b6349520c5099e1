package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync engines and the index.
type Metrics struct {
	SyncCycles          *prometheus.CounterVec
	SyncErrors          *prometheus.CounterVec
	GateWait            prometheus.Histogram
	GroupsUnrecordable  prometheus.Counter
	TreeMembers         *prometheus.GaugeVec
	IndexUpsertDuration prometheus.Histogram
}

// New creates and registers all metrics on the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg. Tests pass a fresh registry so repeated
// construction does not collide.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "creddd_sync_cycles_total",
			Help: "Completed sync cycles by group and outcome",
		}, []string{"group", "outcome"}),
		SyncErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "creddd_sync_errors_total",
			Help: "Sync loop errors by group and error kind",
		}, []string{"group", "kind"}),
		GateWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "creddd_sync_gate_wait_seconds",
			Help:    "Time spent waiting for a concurrency permit",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 15, 60, 300},
		}),
		GroupsUnrecordable: factory.NewCounter(prometheus.CounterOpts{
			Name: "creddd_groups_unrecordable_total",
			Help: "Groups transitioned to the unrecordable state",
		}),
		TreeMembers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "creddd_tree_members",
			Help: "Member count of the latest synced tree per group",
		}, []string{"group"}),
		IndexUpsertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "creddd_index_upsert_duration_ms",
			Help:    "Latency of reverse index upserts in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000, 5000},
		}),
	}
}

func (m *Metrics) RecordCycle(group, outcome string) {
	if m == nil {
		return
	}
	m.SyncCycles.WithLabelValues(group, outcome).Inc()
}

func (m *Metrics) RecordError(group, kind string) {
	if m == nil {
		return
	}
	m.SyncErrors.WithLabelValues(group, kind).Inc()
}

func (m *Metrics) ObserveGateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.GateWait.Observe(d.Seconds())
}

func (m *Metrics) IncrementUnrecordable() {
	if m == nil {
		return
	}
	m.GroupsUnrecordable.Inc()
}

func (m *Metrics) SetTreeMembers(group string, n int) {
	if m == nil {
		return
	}
	m.TreeMembers.WithLabelValues(group).Set(float64(n))
}

func (m *Metrics) ObserveIndexUpsert(d time.Duration) {
	if m == nil {
		return
	}
	m.IndexUpsertDuration.Observe(float64(d.Microseconds()) / 1000.0)
}
