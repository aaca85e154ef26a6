// Package metric exports database metrics to Prometheus.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/idb"
)

// Collector is an idb.MetricsCollector backed by Prometheus collectors.
type Collector struct {
	OpsTotal          *prometheus.CounterVec
	OpDuration        *prometheus.HistogramVec
	PutBytesTotal     prometheus.Counter
	SearchResults     *prometheus.HistogramVec
	CompoundClauses   prometheus.Histogram
	CheckpointRecords prometheus.Gauge

	gatherer prometheus.Gatherer
}

var _ idb.MetricsCollector = (*Collector)(nil)

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry.
func New(namespace string, reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		OpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Database operations by operation and status.",
			},
			[]string{"op", "status"},
		),
		OpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Operation latency in seconds.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op"},
		),
		PutBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "put_bytes_total",
				Help:      "Bytes of document text stored.",
			},
		),
		SearchResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results",
				Help:      "Number of ids returned per search.",
				Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
			},
			[]string{"mode"},
		),
		CompoundClauses: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compound_clauses",
				Help:      "Number of clauses per compound search.",
				Buckets:   []float64{1, 2, 4, 8, 16, 32},
			},
		),
		CheckpointRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "checkpoint_records",
				Help:      "Documents covered by the last checkpoint.",
			},
		),
		gatherer: reg,
	}

	for _, col := range []prometheus.Collector{
		c.OpsTotal, c.OpDuration, c.PutBytesTotal, c.SearchResults, c.CompoundClauses, c.CheckpointRecords,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	c.OpsTotal.WithLabelValues(op, status(err)).Inc()
	c.OpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordPut implements idb.MetricsCollector.
func (c *Collector) RecordPut(size int, d time.Duration, err error) {
	c.observe("put", d, err)
	if err == nil {
		c.PutBytesTotal.Add(float64(size))
	}
}

// RecordOut implements idb.MetricsCollector.
func (c *Collector) RecordOut(d time.Duration, err error) {
	c.observe("out", d, err)
}

// RecordGet implements idb.MetricsCollector.
func (c *Collector) RecordGet(hit bool, d time.Duration) {
	st := "hit"
	if !hit {
		st = "miss"
	}
	c.OpsTotal.WithLabelValues("get", st).Inc()
	c.OpDuration.WithLabelValues("get").Observe(d.Seconds())
}

// RecordSearch implements idb.MetricsCollector.
func (c *Collector) RecordSearch(mode idb.SearchMode, results int, d time.Duration, err error) {
	c.observe("search", d, err)
	if err == nil {
		c.SearchResults.WithLabelValues(mode.String()).Observe(float64(results))
	}
}

// RecordCompound implements idb.MetricsCollector.
func (c *Collector) RecordCompound(clauses, results int, d time.Duration, err error) {
	c.observe("search_compound", d, err)
	if err == nil {
		c.CompoundClauses.Observe(float64(clauses))
		c.SearchResults.WithLabelValues("COMPOUND").Observe(float64(results))
	}
}

// RecordCheckpoint implements idb.MetricsCollector.
func (c *Collector) RecordCheckpoint(records uint64, d time.Duration, err error) {
	c.observe("checkpoint", d, err)
	if err == nil {
		c.CheckpointRecords.Set(float64(records))
	}
}

// Handler returns the scrape handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
