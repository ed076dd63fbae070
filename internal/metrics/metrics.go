package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records pipeline activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	acquisitions  *prometheus.CounterVec
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	lookups       *prometheus.CounterVec
	evictions     prometheus.Counter
	answers       *prometheus.CounterVec
	resident      prometheus.Gauge
}

// New creates the collectors on a private registry that also carries the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "videorag",
			Name:      "transcript_acquisitions_total",
			Help:      "Transcript acquisition attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "videorag",
			Name:      "video_builds_total",
			Help:      "Video preparations by result.",
		}, []string{"result"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "videorag",
			Name:      "video_build_duration_seconds",
			Help:      "Time spent preparing a video.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "videorag",
			Name:      "cache_lookups_total",
			Help:      "Video cache lookups by outcome.",
		}, []string{"outcome"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "videorag",
			Name:      "cache_evictions_total",
			Help:      "Videos evicted from the cache.",
		}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "videorag",
			Name:      "answers_total",
			Help:      "Answer requests by result.",
		}, []string{"result"}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "videorag",
			Name:      "cache_resident_videos",
			Help:      "Videos currently held in the cache.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.acquisitions, m.builds, m.buildDuration, m.lookups, m.evictions, m.answers, m.resident,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Acquisition(strategy, result string) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) Build(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(result).Inc()
	m.buildDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) Answer(result string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(result).Inc()
}

func (m *Metrics) Resident(n int) {
	if m == nil {
		return
	}
	m.resident.Set(float64(n))
}
