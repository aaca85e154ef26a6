package idb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// See metric/prom for a Prometheus implementation.
type MetricsCollector interface {
	// RecordPut is called after each put with the text size.
	RecordPut(size int, duration time.Duration, err error)

	// RecordOut is called after each delete.
	RecordOut(duration time.Duration, err error)

	// RecordGet is called after each get. hit is false for missing ids.
	RecordGet(hit bool, duration time.Duration)

	// RecordSearch is called after each single-condition search.
	RecordSearch(mode SearchMode, results int, duration time.Duration, err error)

	// RecordCompound is called after each compound search.
	RecordCompound(clauses, results int, duration time.Duration, err error)

	// RecordCheckpoint is called after each checkpoint and optimize.
	RecordCheckpoint(records uint64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPut(int, time.Duration, error)                {}
func (NoopMetricsCollector) RecordOut(time.Duration, error)                     {}
func (NoopMetricsCollector) RecordGet(bool, time.Duration)                      {}
func (NoopMetricsCollector) RecordSearch(SearchMode, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCompound(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordCheckpoint(uint64, time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	PutCount         atomic.Int64
	PutErrors        atomic.Int64
	PutBytes         atomic.Int64
	OutCount         atomic.Int64
	OutErrors        atomic.Int64
	GetHits          atomic.Int64
	GetMisses        atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchResults    atomic.Int64
	SearchTotalNanos atomic.Int64
	CompoundCount    atomic.Int64
	CompoundErrors   atomic.Int64
	CheckpointCount  atomic.Int64
	CheckpointErrors atomic.Int64
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(size int, _ time.Duration, err error) {
	b.PutCount.Add(1)
	if err != nil {
		b.PutErrors.Add(1)
		return
	}
	b.PutBytes.Add(int64(size))
}

// RecordOut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOut(_ time.Duration, err error) {
	b.OutCount.Add(1)
	if err != nil {
		b.OutErrors.Add(1)
	}
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(hit bool, _ time.Duration) {
	if hit {
		b.GetHits.Add(1)
	} else {
		b.GetMisses.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ SearchMode, results int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
		return
	}
	b.SearchResults.Add(int64(results))
}

// RecordCompound implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompound(_, _ int, _ time.Duration, err error) {
	b.CompoundCount.Add(1)
	if err != nil {
		b.CompoundErrors.Add(1)
	}
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(_ uint64, _ time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		PutCount:         b.PutCount.Load(),
		PutErrors:        b.PutErrors.Load(),
		PutBytes:         b.PutBytes.Load(),
		OutCount:         b.OutCount.Load(),
		OutErrors:        b.OutErrors.Load(),
		GetHits:          b.GetHits.Load(),
		GetMisses:        b.GetMisses.Load(),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchResults:    b.SearchResults.Load(),
		CompoundCount:    b.CompoundCount.Load(),
		CompoundErrors:   b.CompoundErrors.Load(),
		CheckpointCount:  b.CheckpointCount.Load(),
		CheckpointErrors: b.CheckpointErrors.Load(),
	}
	if s.SearchCount > 0 {
		s.SearchAvgNanos = b.SearchTotalNanos.Load() / s.SearchCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	PutCount         int64
	PutErrors        int64
	PutBytes         int64
	OutCount         int64
	OutErrors        int64
	GetHits          int64
	GetMisses        int64
	SearchCount      int64
	SearchErrors     int64
	SearchResults    int64
	SearchAvgNanos   int64
	CompoundCount    int64
	CompoundErrors   int64
	CheckpointCount  int64
	CheckpointErrors int64
}
