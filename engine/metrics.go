package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks Prometheus metrics for chunk I/O.  All metrics use the "bfio_" prefix.
// Methods handle a nil receiver, so a nil *Metrics disables collection.
type Metrics struct {
	// ChunkReads counts chunks fetched from the store, by result.
	// Labels: result=[found, missing]
	ChunkReads *prometheus.CounterVec

	// ChunkWrites counts chunks written to the store.
	ChunkWrites prometheus.Counter

	// ReadModifyWrites counts chunk writes that first had to read the chunk.
	ReadModifyWrites prometheus.Counter

	// CacheLookups counts chunk cache lookups, by result.
	// Labels: result=[hit, miss]
	CacheLookups *prometheus.CounterVec

	// BytesRead and BytesWritten count decoded chunk bytes.
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter

	// RequestDuration tracks region request time by operation.
	// Labels: operation=[read, write]
	RequestDuration *prometheus.HistogramVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics creates metrics and registers them with registerer.  A nil registerer
// uses prometheus.DefaultRegisterer, in which case the metrics are created only once
// and shared by every caller.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = newMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return newMetrics(registerer)
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunkReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfio_chunk_reads_total",
				Help: "Total chunk reads from the store by result",
			},
			[]string{"result"},
		),
		ChunkWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bfio_chunk_writes_total",
				Help: "Total chunk writes to the store",
			},
		),
		ReadModifyWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bfio_chunk_read_modify_writes_total",
				Help: "Total partial chunk writes that read the existing chunk",
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfio_chunk_cache_lookups_total",
				Help: "Total chunk cache lookups by result",
			},
			[]string{"result"},
		),
		BytesRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bfio_chunk_bytes_read_total",
				Help: "Total decoded chunk bytes read from the store",
			},
		),
		BytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bfio_chunk_bytes_written_total",
				Help: "Total decoded chunk bytes written to the store",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfio_request_duration_seconds",
				Help:    "Region request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	registerer.MustRegister(
		m.ChunkReads,
		m.ChunkWrites,
		m.ReadModifyWrites,
		m.CacheLookups,
		m.BytesRead,
		m.BytesWritten,
		m.RequestDuration,
	)
	return m
}

func (m *Metrics) chunkRead(found bool, n int) {
	if m == nil {
		return
	}
	if found {
		m.ChunkReads.WithLabelValues("found").Inc()
		m.BytesRead.Add(float64(n))
	} else {
		m.ChunkReads.WithLabelValues("missing").Inc()
	}
}

func (m *Metrics) chunkWrite(n int, rmw bool) {
	if m == nil {
		return
	}
	m.ChunkWrites.Inc()
	m.BytesWritten.Add(float64(n))
	if rmw {
		m.ReadModifyWrites.Inc()
	}
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) observeRequest(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
