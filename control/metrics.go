// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters of the reactor (kicks, poll syscalls, wakeups).
// Counter handles are resolved once and incremented without locking.

package control

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/cpu"
)

// Counter names maintained by the reactor.
const (
	MetricPollsetKick    = "pollset.kick"
	MetricPollsetWork    = "pollset.work"
	MetricSyscallPoll    = "syscall.poll"
	MetricWakeupConsumed = "wakeup.consumed"
	MetricFDCreated      = "fd.created"
	MetricFDClosed       = "fd.closed"
)

// Counter is a monotonically increasing value padded to its own cache line.
type Counter struct {
	_ cpu.CacheLinePad
	v atomic.Int64
	_ cpu.CacheLinePad
}

// Inc adds one.
func (c *Counter) Inc() { c.v.Inc() }

// Load returns the current value.
func (c *Counter) Load() int64 { return c.v.Load() }

// MetricsRegistry holds counters and free-form gauges.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	metrics  map[string]any
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		metrics:  make(map[string]any),
	}
}

// Counter returns the counter named key, creating it on first use.
func (mr *MetricsRegistry) Counter(key string) *Counter {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[key]; !ok {
		c = &Counter{}
		mr.counters[key] = c
	}
	return c
}

// Set sets or updates a gauge.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns gauges and counter values.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics)+len(mr.counters))
	for k, v := range mr.metrics {
		out[k] = v
	}
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}
