// Package metrics exposes the registry's Prometheus collectors.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dapp_registry"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Total number of actions executed, by verb and result code.",
		},
		[]string{"verb", "result"},
	)

	actionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "action_duration_seconds",
			Help:      "Duration of action transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"verb"},
	)

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "transfers_total",
			Help:      "Outgoing transfer attempts, by reason and outcome.",
		},
		[]string{"reason", "status"},
	)

	transfersOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "transfers_outstanding",
			Help:      "Transfers not yet completed after the last outbox drain.",
		},
	)

	validatorWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "validator_weight",
			Help:      "Current reputation weight of each validator.",
		},
		[]string{"validator"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		actions,
		actionDuration,
		transfers,
		transfersOutstanding,
		validatorWeight,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps a handler with HTTP metrics. Paths are labelled by
// their mux route template so ids do not explode cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordAction counts one executed action. result is "ok" or an error code.
func RecordAction(verb, result string, duration time.Duration) {
	if verb == "" {
		verb = "unknown"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	actions.WithLabelValues(verb, result).Inc()
	actionDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordTransfer counts one transfer attempt.
func RecordTransfer(reason, status string) {
	transfers.WithLabelValues(reason, status).Inc()
}

// SetOutstandingTransfers reports the outbox backlog.
func SetOutstandingTransfers(n int) {
	transfersOutstanding.Set(float64(n))
}

// SetValidatorWeight publishes a validator's recomputed weight.
func SetValidatorWeight(id string, weight float64) {
	validatorWeight.WithLabelValues(id).Set(weight)
}

// ForgetValidator removes a deregistered validator's series.
func ForgetValidator(id string) {
	validatorWeight.DeleteLabelValues(id)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func canonicalPath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	trimmed := strings.Trim(r.URL.Path, "/")
	if trimmed == "" {
		return "/"
	}
	return "/" + strings.SplitN(trimmed, "/", 2)[0]
}
