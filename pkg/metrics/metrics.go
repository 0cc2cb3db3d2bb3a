// Package metrics is a small Prometheus-compatible registry for the
// counters, gauges and histograms the service exports on /metrics.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Counter only goes up.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge can go up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)   { g.val.Store(n) }
func (g *Gauge) Inc()          { g.val.Add(1) }
func (g *Gauge) Dec()          { g.val.Add(-1) }
func (g *Gauge) Value() int64  { return g.val.Load() }

// Histogram counts observations into fixed upper-bound buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *Histogram {
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	return &Histogram{buckets: b, counts: make([]uint64, len(b))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i := sort.SearchFloat64s(h.buckets, v); i < len(h.buckets) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) write(w io.Writer, base, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	var cum uint64
	for i, b := range h.buckets {
		cum += h.counts[i]
		fmt.Fprintf(w, "%s_bucket{%s%sle=\"%g\"} %d\n", base, labels, sep, b, cum)
	}
	fmt.Fprintf(w, "%s_bucket{%s%sle=\"+Inf\"} %d\n", base, labels, sep, h.count)
	fmt.Fprintf(w, "%s_sum%s %g\n", base, braces(labels), h.sum)
	fmt.Fprintf(w, "%s_count%s %d\n", base, braces(labels), h.count)
}

type family struct {
	kind   string
	help   string
	series map[string]any // full name -> *Counter | *Gauge | *Histogram
}

// Registry holds named metric families. Getters return the existing metric
// when the name is already registered.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

func (r *Registry) get(name, kind, help string, mk func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	base, _ := split(name)
	f, ok := r.families[base]
	if !ok {
		f = &family{kind: kind, help: help, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if f.kind != kind {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", base, f.kind, kind))
	}
	if m, ok := f.series[name]; ok {
		return m
	}
	m := mk()
	f.series[name] = m
	return m
}

// Counter returns the counter called name, creating it if needed. Labels
// are part of the name, see WithLabels.
func (r *Registry) Counter(name, help string) *Counter {
	return r.get(name, "counter", help, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge called name, creating it if needed.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.get(name, "gauge", help, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram called name, creating it with buckets (or
// DefaultBuckets when nil) if needed.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return r.get(name, "histogram", help, func() any { return newHistogram(buckets) }).(*Histogram)
}

// WithLabels appends label pairs to name: WithLabels("x", "k", "v") is
// `x{k="v"}`. An odd number of pairs returns name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", kvs[i], kvs[i+1]))
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// split separates `x{k="v"}` into "x" and `k="v"`.
func split(name string) (base, labels string) {
	i := strings.IndexByte(name, '{')
	if i < 0 {
		return name, ""
	}
	return name[:i], strings.TrimSuffix(name[i+1:], "}")
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// WriteTo writes every family in registration order in the Prometheus text
// format.
func (r *Registry) WriteTo(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(w, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(w, "# TYPE %s %s\n", base, f.kind)

		names := make([]string, 0, len(f.series))
		for n := range f.series {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			switch m := f.series[n].(type) {
			case *Counter:
				fmt.Fprintf(w, "%s %d\n", n, m.Value())
			case *Gauge:
				fmt.Fprintf(w, "%s %d\n", n, m.Value())
			case *Histogram:
				_, labels := split(n)
				m.write(w, base, labels)
			}
		}
	}
}

// Render returns the text exposition as a string.
func (r *Registry) Render() string {
	var b strings.Builder
	r.WriteTo(&b)
	return b.String()
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	})
}
