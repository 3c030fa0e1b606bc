// Package metricsserver exposes the watcher daemon's `--metrics`/
// `--metrics-address` HTTP surface (spec.md §6): a liveness probe and a JSON
// metrics snapshot, adapted from the teacher's MetricsCollector/HealthChecker
// (internal/monitoring) down to the counter/gauge pair chainwatch's own
// pipeline actually emits.
package metricsserver

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metric is one named, labelled observation as rendered in a JSON snapshot.
type Metric struct {
	Name   string            `json:"name"`
	Help   string            `json:"help"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Counter is a monotonically increasing value, e.g. blocks_processed_total.
type Counter struct {
	name, help string
	labels     map[string]string
	value      uint64
}

func (c *Counter) Inc() { atomic.AddUint64(&c.value, 1) }
func (c *Counter) Add(n uint64) { atomic.AddUint64(&c.value, n) }
func (c *Counter) Get() float64 { return float64(atomic.LoadUint64(&c.value)) }

func (c *Counter) toMetric() Metric {
	return Metric{Name: c.name, Help: c.help, Labels: c.labels, Value: c.Get()}
}

// Gauge is a value that can move in either direction, e.g.
// watcher_last_processed_block.
type Gauge struct {
	name, help string
	labels     map[string]string
	value      int64 // fixed-point, 3 decimal places
}

func (g *Gauge) Set(v float64) { atomic.StoreInt64(&g.value, int64(v*1000)) }
func (g *Gauge) Get() float64  { return float64(atomic.LoadInt64(&g.value)) / 1000 }

func (g *Gauge) toMetric() Metric {
	return Metric{Name: g.name, Help: g.help, Labels: g.labels, Value: g.Get()}
}

// Collector holds every counter/gauge the daemon registers, keyed by name
// plus its label set so that e.g. blocks_processed_total{network="x"} and
// blocks_processed_total{network="y"} are distinct series.
type Collector struct {
	mu        sync.Mutex
	counters  map[string]*Counter
	gauges    map[string]*Gauge
	startedAt time.Time
}

// NewCollector builds an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		startedAt: time.Now(),
	}
}

func metricKey(name string, labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	key := name
	for _, k := range names {
		key += fmt.Sprintf("|%s=%s", k, labels[k])
	}
	return key
}

// Counter returns the named counter, creating it on first use.
func (c *Collector) Counter(name, help string, labels map[string]string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := metricKey(name, labels)
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Gauge returns the named gauge, creating it on first use.
func (c *Collector) Gauge(name, help string, labels map[string]string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := metricKey(name, labels)
	if g, ok := c.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	c.gauges[key] = g
	return g
}

// Snapshot renders every registered metric as a JSON-ready document.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics := make([]Metric, 0, len(c.counters)+len(c.gauges))
	for _, ctr := range c.counters {
		metrics = append(metrics, ctr.toMetric())
	}
	for _, g := range c.gauges {
		metrics = append(metrics, g.toMetric())
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.startedAt).Seconds(),
		"metrics":        metrics,
	}
}
