// Package metrics provides an in-process counter implementation of
// ports.MetricsCollector, exposed read-only over HTTP.
package metrics

import (
	"sync"

	"wallet-ledger/internal/core/ports"
)

// Collector counts events in memory. Safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{counters: make(map[string]int64)}
}

var _ ports.MetricsCollector = (*Collector)(nil)

func (c *Collector) inc(key string) {
	c.mu.Lock()
	c.counters[key]++
	c.mu.Unlock()
}

func (c *Collector) RecordPublished(topic string)    { c.inc("published." + topic) }
func (c *Collector) RecordPublishError(topic string) { c.inc("publish_errors." + topic) }
func (c *Collector) RecordConsumed(topic string)     { c.inc("consumed." + topic) }
func (c *Collector) RecordDeadLettered(topic string) { c.inc("dead_lettered." + topic) }
func (c *Collector) RecordCacheHit(cache string)     { c.inc("cache_hits." + cache) }
func (c *Collector) RecordCacheMiss(cache string)    { c.inc("cache_misses." + cache) }
func (c *Collector) RecordIdempotencyHit()           { c.inc("idempotency.hits") }
func (c *Collector) RecordIdempotencyMiss()          { c.inc("idempotency.misses") }

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}
