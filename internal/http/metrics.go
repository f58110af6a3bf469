package http

import (
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPrefix = "simulate_now_"

type metrics struct {
	gatherer prometheus.Gatherer

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpInFlight    prometheus.Gauge
	simRuns         *prometheus.CounterVec
	simDuration     *prometheus.HistogramVec
	jobsRunning     prometheus.GaugeFunc
	uploadBytes     prometheus.Counter
	historyDuration *prometheus.HistogramVec
	historyErrors   *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry, runningJobs func() float64) *metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &metrics{
		gatherer: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "http_requests_total",
			Help: "Total HTTP requests handled by this app.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"method", "path"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "http_in_flight_requests",
			Help: "In-flight HTTP requests currently served by this app.",
		}),
		simRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "simulation_runs_total",
			Help: "Simulator invocations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		simDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "simulation_duration_seconds",
			Help:    "Wall time of simulator invocations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"mode"}),
		jobsRunning: f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: metricsPrefix + "background_jobs_running",
			Help: "Background simulations currently running.",
		}, runningJobs),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "upload_bytes_total",
			Help: "Bytes of configuration files accepted.",
		}),
		historyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "history_query_duration_seconds",
			Help:    "Job history query duration by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		historyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "history_query_errors_total",
			Help: "Job history query errors by operation.",
		}, []string{"operation"}),
	}
}

func (m *metrics) handler() nethttp.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	nethttp.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (m *metrics) middleware(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		next.ServeHTTP(rec, r)

		route := normalizeMetricPath(r.URL.Path)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// normalizeMetricPath folds per-file and per-run paths so label cardinality stays bounded.
func normalizeMetricPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/status/"):
		return "/status/{filename}"
	case strings.HasPrefix(path, "/api/v1/jobs/"):
		return "/api/v1/jobs/{id}"
	case strings.HasPrefix(path, "/process_file_async/"):
		return "/process_file_async/"
	case strings.HasPrefix(path, "/process_file/"):
		return "/process_file/"
	case path == "/", path == "/metrics", path == "/health", path == "/ready",
		path == "/api/v1/jobs", path == "/api/v1/status/services", path == "/api/v1/settings/limits":
		return path
	default:
		return "other"
	}
}

func (m *metrics) recordRun(mode, outcome string, durationSeconds float64) {
	m.simRuns.WithLabelValues(mode, outcome).Inc()
	if durationSeconds > 0 {
		m.simDuration.WithLabelValues(mode).Observe(durationSeconds)
	}
}

func (m *metrics) recordHistoryQuery(operation string, durationSeconds float64, err error) {
	if operation == "" {
		return
	}
	m.historyDuration.WithLabelValues(operation).Observe(durationSeconds)
	if err != nil {
		m.historyErrors.WithLabelValues(operation).Inc()
	}
}
