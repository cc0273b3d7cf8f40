package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"daoledger/core/events"
	ledgererrors "daoledger/core/errors"
	"daoledger/core/types"
	"daoledger/native/pool"
	"daoledger/native/vesting"
)

// LedgerMetrics tracks transitions and the audit events they produce.
type LedgerMetrics struct {
	transitions     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	events          *prometheus.CounterVec
	poolAllocated   *prometheus.GaugeVec
	poolDistributed *prometheus.GaugeVec
	tokensMoved     *prometheus.CounterVec
	openTasks       prometheus.Gauge
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daoledger",
				Name:      "transitions_total",
				Help:      "Ledger transitions segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "daoledger",
				Name:      "transition_duration_seconds",
				Help:      "Latency distribution for ledger transitions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daoledger",
				Name:      "events_total",
				Help:      "Committed audit events by type.",
			}, []string{"type"}),
			poolAllocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "daoledger",
				Subsystem: "pool",
				Name:      "allocated",
				Help:      "Value allocated to each pool.",
			}, []string{"pool"}),
			poolDistributed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "daoledger",
				Subsystem: "pool",
				Name:      "distributed",
				Help:      "Value distributed from each pool.",
			}, []string{"pool"}),
			tokensMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "daoledger",
				Name:      "tokens_moved_total",
				Help:      "Token base units paid out, by source module.",
			}, []string{"module"}),
			openTasks: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "daoledger",
				Subsystem: "bounty",
				Name:      "open_tasks",
				Help:      "Cached number of open bounty tasks.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.transitions,
			ledgerRegistry.latency,
			ledgerRegistry.events,
			ledgerRegistry.poolAllocated,
			ledgerRegistry.poolDistributed,
			ledgerRegistry.tokensMoved,
			ledgerRegistry.openTasks,
		)
	})
	return ledgerRegistry
}

// ObserveTransition records the outcome of a host transition. Failed
// transitions are labelled with their error kind.
func (m *LedgerMetrics) ObserveTransition(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = ledgererrors.KindOf(err).String()
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SetOpenTasks publishes the open-task cache.
func (m *LedgerMetrics) SetOpenTasks(count uint64) {
	if m == nil {
		return
	}
	m.openTasks.Set(float64(count))
}

// Emitter returns an events.Emitter that folds committed events into the
// registry.
func (m *LedgerMetrics) Emitter() events.Emitter { return eventRecorder{m: m} }

type eventRecorder struct{ m *LedgerMetrics }

func (r eventRecorder) Emit(evt events.Event) {
	if r.m == nil || evt == nil {
		return
	}
	r.m.events.WithLabelValues(evt.EventType()).Inc()
	env, ok := evt.(types.Envelope)
	if !ok || env.Evt == nil {
		return
	}
	attrs := env.Evt.Attributes
	switch env.Evt.Type {
	case pool.EventTypePoolCreated, pool.EventTypePoolFunded, pool.EventTypePoolDistributed,
		pool.EventTypePoolBatchDistributed, pool.EventTypePoolDeallocated, pool.EventTypePoolLimitUpdated:
		if v, ok := parseAmount(attrs["allocated"]); ok {
			r.m.poolAllocated.WithLabelValues(attrs["name"]).Set(v)
		}
		if v, ok := parseAmount(attrs["distributed"]); ok {
			r.m.poolDistributed.WithLabelValues(attrs["name"]).Set(v)
		}
		if env.Evt.Type == pool.EventTypePoolDistributed {
			r.addMoved("pool", attrs["amount"])
		}
	case vesting.EventTypeScheduleReleased:
		r.addMoved("vesting", attrs["amount"])
	}
}

func (r eventRecorder) addMoved(module, amount string) {
	if v, ok := parseAmount(amount); ok {
		r.m.tokensMoved.WithLabelValues(module).Add(v)
	}
}

// parseAmount converts a decimal amount attribute to a float. Large values lose
// precision.
func parseAmount(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
