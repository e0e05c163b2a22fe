package blockcache

import "fmt"

type options struct {
	cacheSize int
	readAhead int
	policy    EvictionPolicy
	logger    *Logger
	metrics   MetricsCollector
}

func defaultOptions() options {
	return options{
		cacheSize: 16,
		readAhead: 1,
		policy:    LRUC,
		logger:    NoopLogger(),
		metrics:   NoopMetricsCollector{},
	}
}

// Option configures a Cache at construction time. The resulting
// configuration is immutable for the cache lifetime.
type Option func(*options)

// WithCacheSize sets the cache capacity in blocks (not bytes). Minimum 1;
// default 16.
func WithCacheSize(blocks int) Option {
	return func(o *options) {
		o.cacheSize = blocks
	}
}

// WithReadAhead sets the number of contiguous blocks fetched per read miss.
// 1 (the default) disables prefetch beyond the requested block. Must be in
// [1, cacheSize/2] so prefetch can never dominate the cache.
func WithReadAhead(blocks int) Option {
	return func(o *options) {
		o.readAhead = blocks
	}
}

// WithEvictionPolicy sets the victim-selection policy. Built-ins are LRU and
// LRUC (the default); custom selectors can be supplied via
// EvictionPolicyFunc.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(o *options) {
		if p == nil {
			p = LRUC
		}
		o.policy = p
	}
}

// WithLogger sets the structured logger. Defaults to a disabled logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the observation-only metrics sink for hit, miss,
// eviction and sync events. Defaults to a no-op collector.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

func (o *options) validate() error {
	if o.cacheSize < 1 {
		return fmt.Errorf("blockcache: cache size must be at least 1 block, got %d", o.cacheSize)
	}
	max := o.cacheSize / 2
	if max < 1 {
		max = 1
	}
	if o.readAhead < 1 || o.readAhead > max {
		return fmt.Errorf("blockcache: read ahead must be in [1,%d] for cache size %d, got %d",
			max, o.cacheSize, o.readAhead)
	}
	return nil
}
