package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for engine metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	executionsTotal *prometheus.CounterVec
	vmErrorsTotal   *prometheus.CounterVec
	capturesTotal   prometheus.Counter
	compilesTotal   *prometheus.CounterVec

	executionDuration *prometheus.HistogramVec

	uptime prometheus.GaugeFunc
}

// Default histogram buckets for probe execution duration (microseconds).
// Probe streams are short; most executions land well under a millisecond.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 25000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_executions_total",
				Help:      "Total probe executions by probe id and result",
			},
			[]string{"probe", "result"},
		),

		vmErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vm_errors_total",
				Help:      "Total runtime errors caught inside the evaluator",
			},
			[]string{"probe"},
		),

		capturesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "captures_emitted_total",
				Help:      "Total capture events emitted",
			},
		),

		compilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "programs_compiled_total",
				Help:      "Total program compilations by result",
			},
			[]string{"result"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_microseconds",
				Help:      "Duration of probe executions in microseconds",
				Buckets:   buckets,
			},
			[]string{"probe"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the engine metrics were initialized",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.executionsTotal,
		pm.vmErrorsTotal,
		pm.capturesTotal,
		pm.compilesTotal,
		pm.executionDuration,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordPrometheusExecution records a probe execution in Prometheus
// collectors.
func RecordPrometheusExecution(probeID string, durationUs int64, fired bool, captures int, vmError bool) {
	if promMetrics == nil {
		return
	}

	result := "skipped"
	if fired {
		result = "fired"
	}
	promMetrics.executionsTotal.WithLabelValues(probeID, result).Inc()
	if vmError {
		promMetrics.vmErrorsTotal.WithLabelValues(probeID).Inc()
	}
	promMetrics.capturesTotal.Add(float64(captures))
	promMetrics.executionDuration.WithLabelValues(probeID).Observe(float64(durationUs))
}

// RecordPrometheusCompile records a compilation attempt in Prometheus.
func RecordPrometheusCompile(success bool) {
	if promMetrics == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	promMetrics.compilesTotal.WithLabelValues(result).Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics
// scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom
// collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
