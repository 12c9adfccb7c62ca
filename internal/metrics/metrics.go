package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventpipe"

// Collector owns a private registry with HTTP and ingestion metrics.
// All recording methods are safe to call on a nil *Collector.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	postsTotal      *prometheus.CounterVec
	candidatesTotal *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	runDuration     *prometheus.HistogramVec
	lastRunSuccess  prometheus.Gauge
}

// NewCollector registers every metric on a fresh registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		postsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "posts_total",
			Help:      "Posts processed, by summarized outcome.",
		}, []string{"outcome"}),
		candidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "candidates_total",
			Help:      "Candidate events processed, by outcome.",
		}, []string{"outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "external_call_duration_seconds",
			Help:      "Latency of calls to external services.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service", "status"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "in_flight",
			Help:      "Calls currently holding a worker pool slot.",
		}, []string{"pool"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full ingestion run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"trigger", "status"}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed without error.",
		}),
	}

	collectors := []prometheus.Collector{
		c.requestDuration, c.requestTotal,
		c.postsTotal, c.candidatesTotal, c.callDuration, c.inFlight, c.runDuration, c.lastRunSuccess,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObservePost counts a post by its summarized outcome.
func (c *Collector) ObservePost(outcome string) {
	if c == nil {
		return
	}
	c.postsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCandidate counts a candidate event by outcome.
func (c *Collector) ObserveCandidate(outcome string) {
	if c == nil {
		return
	}
	c.candidatesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCall records the latency of an external call.
func (c *Collector) ObserveCall(service string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.callDuration.WithLabelValues(service, statusLabel(err)).Observe(d.Seconds())
}

// PoolAcquired and PoolReleased bracket a call holding a pool slot.
func (c *Collector) PoolAcquired(pool string) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(pool).Inc()
}

func (c *Collector) PoolReleased(pool string) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(pool).Dec()
}

// ObserveRun records a completed ingestion run.
func (c *Collector) ObserveRun(trigger string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.runDuration.WithLabelValues(trigger, statusLabel(err)).Observe(d.Seconds())
	if err == nil {
		c.lastRunSuccess.SetToCurrentTime()
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
