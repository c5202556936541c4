package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements Metrics with a fixed set of collectors.
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics registers the library's collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	}
	m := &PrometheusMetrics{
		counters: map[string]*prometheus.CounterVec{
			MetricRegionsRedacted:  counter(MetricRegionsRedacted, "Regions covered by an overlay.", "label"),
			MetricRegionsRestored:  counter(MetricRegionsRestored, "Overlays replaced by their snapshot."),
			MetricRegionsUntouched: counter(MetricRegionsUntouched, "Overlays left in place during restore."),
			MetricRegionsRejected:  counter(MetricRegionsRejected, "Regions dropped for invalid geometry.", "reason"),
			MetricSnapshotsPut:     counter(MetricSnapshotsPut, "Snapshots written.", "backend"),
			MetricSnapshotsSwept:   counter(MetricSnapshotsSwept, "Snapshots removed by retention.", "backend"),
		},
		histograms: map[string]*prometheus.HistogramVec{
			MetricStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    MetricStageDuration,
				Help:    "Time spent per pipeline stage.",
				Buckets: prometheus.DefBuckets,
			}, []string{"stage"}),
		},
	}
	for _, c := range m.counters {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	for _, h := range m.histograms {
		if err := reg.Register(h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// IncCounter ignores unknown names and label counts that do not match.
func (m *PrometheusMetrics) IncCounter(name string, delta float64, labels ...string) {
	vec, ok := m.counters[name]
	if !ok {
		return
	}
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return
	}
	c.Add(delta)
}

func (m *PrometheusMetrics) ObserveDuration(name string, d time.Duration, labels ...string) {
	vec, ok := m.histograms[name]
	if !ok {
		return
	}
	h, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return
	}
	h.Observe(d.Seconds())
}
