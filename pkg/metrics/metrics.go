// Package metrics is a small Prometheus-text-format registry: counters,
// gauges, and histograms with optional labels, exposed over /metrics.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets, in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge can go up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.val.Store(n) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *Histogram {
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)
	return &Histogram{buckets: b, counts: make([]uint64, len(b))}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			break
		}
	}
	h.mu.Unlock()
}

// Since observes the duration elapsed since t.
func (h *Histogram) Since(t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

func (h *Histogram) snapshot() ([]float64, []uint64, float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := make([]uint64, len(h.counts))
	copy(c, h.counts)
	return h.buckets, c, h.sum, h.count
}

type metricKind int

const (
	kindCounter metricKind = iota
	kindGauge
	kindHistogram
)

type metric struct {
	kind      metricKind
	help      string
	counter   *Counter
	gauge     *Gauge
	histogram *Histogram
}

// Registry holds named metrics. Label pairs are baked into the full name
// as name{k="v"}, so each label combination is its own series.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*metric
	order   []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{metrics: make(map[string]*metric)}
}

func (r *Registry) lookup(name string) *metric {
	m, ok := r.metrics[name]
	if !ok {
		m = &metric{}
		r.metrics[name] = m
		r.order = append(r.order, name)
	}
	return m
}

// Counter returns (or creates) the counter with the given full name.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.lookup(name)
	if m.counter == nil {
		m.kind, m.help, m.counter = kindCounter, help, &Counter{}
	}
	return m.counter
}

// Gauge returns (or creates) the gauge with the given full name.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.lookup(name)
	if m.gauge == nil {
		m.kind, m.help, m.gauge = kindGauge, help, &Gauge{}
	}
	return m.gauge
}

// Histogram returns (or creates) the histogram with the given full name.
// Nil buckets means DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.lookup(name)
	if m.histogram == nil {
		m.kind, m.help, m.histogram = kindHistogram, help, newHistogram(buckets)
	}
	return m.histogram
}

// WithLabels appends label pairs to a metric name:
// WithLabels("foo", "k", "v") yields `foo{k="v"}`.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kvs[i])
		b.WriteString(`="`)
		b.WriteString(kvs[i+1])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func baseName(name string) string {
	if idx := strings.IndexByte(name, '{'); idx != -1 {
		return name[:idx]
	}
	return name
}

// labelsOf returns the label portion of `foo{k="v"}` as `,k="v"`.
func labelsOf(name string) string {
	idx := strings.IndexByte(name, '{')
	if idx == -1 || len(name) < idx+2 {
		return ""
	}
	inner := name[idx+1 : len(name)-1]
	if inner == "" {
		return ""
	}
	return "," + inner
}

func wrapLabels(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels[1:] + "}"
}

// Render emits the Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	headerDone := make(map[string]bool)

	for _, name := range r.order {
		m := r.metrics[name]
		base := baseName(name)
		if !headerDone[base] {
			headerDone[base] = true
			if m.help != "" {
				fmt.Fprintf(&b, "# HELP %s %s\n", base, m.help)
			}
			switch m.kind {
			case kindCounter:
				fmt.Fprintf(&b, "# TYPE %s counter\n", base)
			case kindGauge:
				fmt.Fprintf(&b, "# TYPE %s gauge\n", base)
			case kindHistogram:
				fmt.Fprintf(&b, "# TYPE %s histogram\n", base)
			}
		}

		switch m.kind {
		case kindCounter:
			fmt.Fprintf(&b, "%s %d\n", name, m.counter.Value())
		case kindGauge:
			fmt.Fprintf(&b, "%s %d\n", name, m.gauge.Value())
		case kindHistogram:
			buckets, counts, sum, count := m.histogram.snapshot()
			labels := labelsOf(name)
			cumulative := uint64(0)
			for i, bk := range buckets {
				cumulative += counts[i]
				fmt.Fprintf(&b, "%s_bucket{le=\"%g\"%s} %d\n", base, bk, labels, cumulative)
			}
			fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"%s} %d\n", base, labels, count)
			fmt.Fprintf(&b, "%s_sum%s %g\n", base, wrapLabels(labels), sum)
			fmt.Fprintf(&b, "%s_count%s %d\n", base, wrapLabels(labels), count)
		}
	}
	return b.String()
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
