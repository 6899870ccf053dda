package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricsRegistry holds registered metrics and renders them in the
// Prometheus text format.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	mu      sync.Mutex
	counts  []uint64
	sum     float64
	count   uint64
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter. name must be unique together
// with labels.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Counter{name: name, help: help, labels: labels}
	r.counters[seriesKey(name, labels)] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[seriesKey(name, labels)] = g
	return g
}

// NewHistogram creates and registers a histogram. Nil buckets select
// DefaultBuckets.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buckets == nil {
		buckets = DefaultBuckets()
	}
	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[seriesKey(name, labels)] = h
	return h
}

// DefaultBuckets returns latency buckets in seconds.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records v in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records the seconds elapsed since start.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Handler serves the registry in the Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes every series, sorted by name, to w.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	written := make(map[string]bool)
	header := func(name, kind, help string) {
		if written[name] {
			return
		}
		written[name] = true
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
	}

	for _, key := range sortedKeys(r.counters) {
		c := r.counters[key]
		header(c.name, "counter", c.help)
		fmt.Fprintf(w, "%s%s %s\n", c.name, formatLabels(c.labels), formatFloat(c.Value()))
	}
	for _, key := range sortedKeys(r.gauges) {
		g := r.gauges[key]
		header(g.name, "gauge", g.help)
		fmt.Fprintf(w, "%s%s %s\n", g.name, formatLabels(g.labels), formatFloat(g.Value()))
	}
	for _, key := range sortedKeys(r.histos) {
		h := r.histos[key]
		header(h.name, "histogram", h.help)
		writeHistogram(w, h)
	}
}

func writeHistogram(w io.Writer, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// counts are already cumulative: Observe increments every bucket >= v.
	for i, bound := range h.buckets {
		labels := withLabel(h.labels, "le", formatFloat(bound))
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), h.counts[i])
	}
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(withLabel(h.labels, "le", "+Inf")), h.count)
	fmt.Fprintf(w, "%s_sum%s %s\n", h.name, formatLabels(h.labels), formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, formatLabels(h.labels), h.count)
}

func seriesKey(name string, labels map[string]string) string {
	return name + formatLabels(labels)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.Quote(labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Outcome labels for ingested records.
const (
	OutcomeCreated      = "created"
	OutcomeSkipped      = "skipped"
	OutcomeFailed       = "failed"
	OutcomeNotAttempted = "not_attempted"
)

// KindredMetrics holds the metrics recorded by ingestion, matching and the
// embedding client.
type KindredMetrics struct {
	Registry *MetricsRegistry

	IngestBatchesTotal *Counter
	IngestRecords      map[string]*Counter
	IngestDuration     *Histogram

	EmbedRequestsTotal *Counter
	EmbedErrorsTotal   *Counter
	EmbedDuration      *Histogram

	MatchRequestsTotal *Counter
	MatchErrorsTotal   *Counter
	MatchDuration      *Histogram
	MatchResults       *Histogram

	ActiveWorkers *Gauge
}

// NewKindredMetrics registers every kindred metric on a fresh registry.
func NewKindredMetrics() *KindredMetrics {
	r := NewMetricsRegistry()
	m := &KindredMetrics{
		Registry:           r,
		IngestBatchesTotal: r.NewCounter("kindred_ingest_batches_total", "Ingestion batches started", nil),
		IngestRecords:      make(map[string]*Counter),
		IngestDuration:     r.NewHistogram("kindred_ingest_duration_seconds", "Ingestion batch duration", nil, nil),
		EmbedRequestsTotal: r.NewCounter("kindred_embed_requests_total", "Embedding requests", nil),
		EmbedErrorsTotal:   r.NewCounter("kindred_embed_errors_total", "Failed embedding requests", nil),
		EmbedDuration:      r.NewHistogram("kindred_embed_duration_seconds", "Embedding request duration", nil, nil),
		MatchRequestsTotal: r.NewCounter("kindred_match_requests_total", "Match requests", nil),
		MatchErrorsTotal:   r.NewCounter("kindred_match_errors_total", "Failed match requests", nil),
		MatchDuration:      r.NewHistogram("kindred_match_duration_seconds", "Match request duration", nil, nil),
		MatchResults:       r.NewHistogram("kindred_match_results", "Matches returned per request", nil, []float64{0, 1, 5, 10, 25, 50, 100}),
		ActiveWorkers:      r.NewGauge("kindred_ingest_active_workers", "Profiles being processed", nil),
	}
	for _, outcome := range []string{OutcomeCreated, OutcomeSkipped, OutcomeFailed, OutcomeNotAttempted} {
		m.IngestRecords[outcome] = r.NewCounter("kindred_ingest_records_total", "Ingested profiles by outcome",
			map[string]string{"outcome": outcome})
	}
	return m
}

// Handler serves the metrics endpoint.
func (m *KindredMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordIngest records the outcome counts of one batch.
func (m *KindredMetrics) RecordIngest(duration time.Duration, created, skipped, failed, notAttempted int) {
	m.IngestBatchesTotal.Inc()
	m.IngestDuration.Observe(duration.Seconds())
	m.IngestRecords[OutcomeCreated].Add(float64(created))
	m.IngestRecords[OutcomeSkipped].Add(float64(skipped))
	m.IngestRecords[OutcomeFailed].Add(float64(failed))
	m.IngestRecords[OutcomeNotAttempted].Add(float64(notAttempted))
}

// RecordEmbed records one embedding call.
func (m *KindredMetrics) RecordEmbed(duration time.Duration, err error) {
	m.EmbedRequestsTotal.Inc()
	m.EmbedDuration.Observe(duration.Seconds())
	if err != nil {
		m.EmbedErrorsTotal.Inc()
	}
}

// RecordMatch records one match request.
func (m *KindredMetrics) RecordMatch(duration time.Duration, count int, err error) {
	m.MatchRequestsTotal.Inc()
	m.MatchDuration.Observe(duration.Seconds())
	if err != nil {
		m.MatchErrorsTotal.Inc()
		return
	}
	m.MatchResults.Observe(float64(count))
}

var (
	globalMetrics *KindredMetrics
	metricsOnce   sync.Once
)

// Metrics returns the process-wide metrics instance.
func Metrics() *KindredMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewKindredMetrics()
	})
	return globalMetrics
}
