package blockcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives cache events (hit, miss, eviction, sync) as an
// observation-only side channel. Implement this interface to integrate with
// monitoring systems like Prometheus. Collectors must not affect cache
// behavior; all methods are called with the cache lock held and should
// return quickly.
type MetricsCollector interface {
	// RecordHit is called for each block served from the cache.
	RecordHit()

	// RecordMiss is called for each block that required a device fetch.
	RecordMiss()

	// RecordReadAhead is called after a miss that was widened by prefetch.
	// blocks is the total number of blocks fetched, including the
	// requested one.
	RecordReadAhead(blocks int)

	// RecordEviction is called after victims have been removed.
	// evicted is the number of blocks dropped, flushed how many of them
	// were dirty and written back first.
	RecordEviction(evicted, flushed int)

	// RecordSync is called after each write-back pass, explicit or
	// eviction-triggered. runs is the number of contiguous device writes
	// issued, blocks the number of blocks covered, err is nil on success.
	RecordSync(runs, blocks int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordHit()                                {}
func (NoopMetricsCollector) RecordMiss()                               {}
func (NoopMetricsCollector) RecordReadAhead(int)                       {}
func (NoopMetricsCollector) RecordEviction(int, int)                   {}
func (NoopMetricsCollector) RecordSync(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	Hits            atomic.Int64
	Misses          atomic.Int64
	ReadAheadBlocks atomic.Int64
	Evictions       atomic.Int64
	DirtyEvictions  atomic.Int64
	SyncCount       atomic.Int64
	SyncRuns        atomic.Int64
	SyncBlocks      atomic.Int64
	SyncErrors      atomic.Int64
	SyncTotalNanos  atomic.Int64
}

// RecordHit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordHit() {
	b.Hits.Add(1)
}

// RecordMiss implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMiss() {
	b.Misses.Add(1)
}

// RecordReadAhead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReadAhead(blocks int) {
	b.ReadAheadBlocks.Add(int64(blocks))
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(evicted, flushed int) {
	b.Evictions.Add(int64(evicted))
	b.DirtyEvictions.Add(int64(flushed))
}

// RecordSync implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSync(runs, blocks int, duration time.Duration, err error) {
	b.SyncCount.Add(1)
	b.SyncRuns.Add(int64(runs))
	b.SyncBlocks.Add(int64(blocks))
	b.SyncTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SyncErrors.Add(1)
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector counters.
type BasicMetricsStats struct {
	Hits            int64
	Misses          int64
	ReadAheadBlocks int64
	Evictions       int64
	DirtyEvictions  int64
	SyncCount       int64
	SyncRuns        int64
	SyncBlocks      int64
	SyncErrors      int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Hits:            b.Hits.Load(),
		Misses:          b.Misses.Load(),
		ReadAheadBlocks: b.ReadAheadBlocks.Load(),
		Evictions:       b.Evictions.Load(),
		DirtyEvictions:  b.DirtyEvictions.Load(),
		SyncCount:       b.SyncCount.Load(),
		SyncRuns:        b.SyncRuns.Load(),
		SyncBlocks:      b.SyncBlocks.Load(),
		SyncErrors:      b.SyncErrors.Load(),
	}
}
