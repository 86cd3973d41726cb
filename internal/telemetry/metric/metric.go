// Package metric provides Prometheus metrics for kvmesh.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds all application metrics on a dedicated registry.
//
// A nil *Set is valid everywhere and records nothing, so components
// never need to guard their instrumentation calls.
type Set struct {
	registry *prometheus.Registry

	objectsTotal prometheus.Gauge
	usedBytes    prometheus.Gauge
	opDuration   *prometheus.HistogramVec

	evictions   prometheus.Counter
	expirations prometheus.Counter

	replicationSends *prometheus.CounterVec
	remoteApplies    *prometheus.CounterVec
	peersByStatus    *prometheus.GaugeVec
	syncCycles       prometheus.Counter
	backups          *prometheus.CounterVec
	journalPending   prometheus.Gauge
}

// NewSet creates a metric set registered on its own registry.
func NewSet() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),

		objectsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "objects_total",
			Help:      "Number of live objects in the store.",
		}),
		usedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "used_bytes",
			Help:      "Bytes of stored values charged against the budget.",
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvmesh",
			Name:      "op_duration_seconds",
			Help:      "Latency of store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "evictions_total",
			Help:      "Objects evicted to stay within the storage budget.",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "expirations_total",
			Help:      "Objects removed after TTL expiry.",
		}),

		replicationSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "replication_sends_total",
			Help:      "Per-peer mutation deliveries by result.",
		}, []string{"result"}),
		remoteApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "remote_applies_total",
			Help:      "Remote mutations applied or discarded.",
		}, []string{"result"}),
		peersByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "peers",
			Help:      "Known peers by status.",
		}, []string{"status"}),
		syncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "sync_cycles_total",
			Help:      "Completed anti-entropy reconciliation cycles.",
		}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "backups_total",
			Help:      "Backup snapshot attempts by result.",
		}, []string{"result"}),
		journalPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "journal_pending_entries",
			Help:      "Hinted mutations awaiting redelivery.",
		}),
	}

	s.registry.MustRegister(
		s.objectsTotal, s.usedBytes, s.opDuration,
		s.evictions, s.expirations,
		s.replicationSends, s.remoteApplies, s.peersByStatus,
		s.syncCycles, s.backups, s.journalPending,
		collectors.NewGoCollector(),
	)

	return s
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (s *Set) Handler() http.Handler {
	if s == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// SetStorage records current object count and byte usage.
func (s *Set) SetStorage(objects int, usedBytes int64) {
	if s == nil {
		return
	}
	s.objectsTotal.Set(float64(objects))
	s.usedBytes.Set(float64(usedBytes))
}

// ObserveOp records the latency of a store operation.
func (s *Set) ObserveOp(op string, d time.Duration) {
	if s == nil {
		return
	}
	s.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// AddEvictions counts evicted objects.
func (s *Set) AddEvictions(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.evictions.Add(float64(n))
}

// AddExpirations counts TTL-expired objects.
func (s *Set) AddExpirations(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.expirations.Add(float64(n))
}

// IncReplicationSend counts one per-peer delivery attempt.
// result is "ok", "timeout", or "unreachable".
func (s *Set) IncReplicationSend(result string) {
	if s == nil {
		return
	}
	s.replicationSends.WithLabelValues(result).Inc()
}

// IncRemoteApply counts one remote mutation.
// result is "applied" or "discarded".
func (s *Set) IncRemoteApply(result string) {
	if s == nil {
		return
	}
	s.remoteApplies.WithLabelValues(result).Inc()
}

// SetPeers records the peer count for one status.
func (s *Set) SetPeers(status string, n int) {
	if s == nil {
		return
	}
	s.peersByStatus.WithLabelValues(status).Set(float64(n))
}

// IncSyncCycle counts one completed reconciliation cycle.
func (s *Set) IncSyncCycle() {
	if s == nil {
		return
	}
	s.syncCycles.Inc()
}

// IncBackup counts one backup attempt. result is "ok" or "error".
func (s *Set) IncBackup(result string) {
	if s == nil {
		return
	}
	s.backups.WithLabelValues(result).Inc()
}

// SetJournalPending records the hinted-handoff backlog size.
func (s *Set) SetJournalPending(n int) {
	if s == nil {
		return
	}
	s.journalPending.Set(float64(n))
}
