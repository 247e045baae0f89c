package backend

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/restifier/core/logger"
)

const metricsNamespace = "restifier"

type metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	historyEntries *prometheus.CounterVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	factory := promauto.With(registry)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Number of handled requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of handled requests by route and method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		historyEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "history_entries_total",
			Help:      "Number of history entries created by collection",
		}, []string{"collection"}),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (b *Backend) handleMetrics(registry *prometheus.Registry) {
	logger.Default().Debugln("metrics")
	logger.Default().Debugln("  handle metrics route: /metrics GET")

	b.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	b.router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := "unknown"
			if current := mux.CurrentRoute(r); current != nil {
				if template, err := current.GetPathTemplate(); err == nil {
					route = template
				}
			}
			if route == "/metrics" {
				h.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			h.ServeHTTP(recorder, r)
			b.metrics.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
			b.metrics.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	})
}
