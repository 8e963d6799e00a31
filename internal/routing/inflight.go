package routing

import "sync"

// InFlightCounters tracks the number of in-progress requests per model
// id. Implemented with a plain mutex-guarded map (stdlib) rather than a
// third-party metrics client: this is a purely in-process scheduling
// signal consumed synchronously by LoadBalanced.Rank on every routing
// decision, not an exported metric, so the standard library's
// concurrency primitives are the correct (and only sensible) tool. The
// counts are not exported as Prometheus metrics.
type InFlightCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewInFlightCounters() *InFlightCounters {
	return &InFlightCounters{counts: make(map[string]int)}
}

// Get returns the current in-flight count for id.
func (c *InFlightCounters) Get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

// Inc increments id's count and returns a release func to be deferred by
// the caller.
func (c *InFlightCounters) Inc(id string) (release func()) {
	c.mu.Lock()
	c.counts[id]++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		if c.counts[id] > 0 {
			c.counts[id]--
		}
		c.mu.Unlock()
	}
}

// Snapshot returns a copy of all current counts.
func (c *InFlightCounters) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
