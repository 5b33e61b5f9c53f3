package spool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "telspool"

// metrics holds the storage collectors. They are always live; they are only
// exported when Options.Registerer is set.
type metrics struct {
	blobsCreated    prometheus.Counter
	bytesWritten    prometheus.Counter
	createRejected  prometheus.Counter
	leases          *prometheus.CounterVec
	blobsDeleted    prometheus.Counter
	sweepRemoved    *prometheus.CounterVec
	leasesReclaimed prometheus.Counter
	sweepDuration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, usedBytes func() int64) *metrics {
	m := &metrics{
		blobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blobs_created_total",
			Help:      "Number of blobs committed to the spool.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_written_total",
			Help:      "Payload bytes committed to the spool.",
		}),
		createRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "create_rejected_total",
			Help:      "Number of blobs rejected because the spool was full.",
		}),
		leases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "leases_total",
			Help:      "Lease attempts by result.",
		}, []string{"result"}),
		blobsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blobs_deleted_total",
			Help:      "Number of blobs deleted by consumers.",
		}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_removed_total",
			Help:      "Files removed by maintenance sweeps by reason.",
		}, []string{"reason"}),
		leasesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "leases_reclaimed_total",
			Help:      "Expired leases returned to the spool by maintenance.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of maintenance sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if reg == nil {
		return m
	}

	m.blobsCreated = register(reg, m.blobsCreated)
	m.bytesWritten = register(reg, m.bytesWritten)
	m.createRejected = register(reg, m.createRejected)
	m.leases = register(reg, m.leases)
	m.blobsDeleted = register(reg, m.blobsDeleted)
	m.sweepRemoved = register(reg, m.sweepRemoved)
	m.leasesReclaimed = register(reg, m.leasesReclaimed)
	m.sweepDuration = register(reg, m.sweepDuration)
	register(reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "used_bytes",
		Help:      "Tracked size of the spool directory.",
	}, func() float64 { return float64(usedBytes()) }))
	return m
}

// register adds c to reg, reusing the collector already registered under the
// same descriptor so several storages can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) created(size int64) {
	m.blobsCreated.Inc()
	m.bytesWritten.Add(float64(size))
}

func (m *metrics) rejected() { m.createRejected.Inc() }

func (m *metrics) leased(ok bool) {
	result := "acquired"
	if !ok {
		result = "lost"
	}
	m.leases.WithLabelValues(result).Inc()
}

func (m *metrics) deleted() { m.blobsDeleted.Inc() }

func (m *metrics) observeSweep(res SweepResult) {
	m.sweepRemoved.WithLabelValues("abandoned_write").Add(float64(res.TempRemoved))
	m.sweepRemoved.WithLabelValues("retention").Add(float64(res.ExpiredRemoved))
	m.sweepRemoved.WithLabelValues("stale_lease").Add(float64(res.StaleLocksRemoved))
	m.leasesReclaimed.Add(float64(res.LeasesReclaimed))
	m.sweepDuration.Observe(res.Duration.Seconds())
}
