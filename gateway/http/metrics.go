package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/semibank/smartfarm/metric"
)

// serverMetrics holds Prometheus metrics for the HTTP gateway.
type serverMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newServerMetrics creates and registers gateway metrics. A nil registry
// disables the feature.
func newServerMetrics(registry *metric.MetricsRegistry) *serverMetrics {
	if registry == nil {
		return nil
	}

	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method, and status code",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartfarm",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route and method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	_ = registry.RegisterCounterVec("gateway", "requests", m.requests)
	_ = registry.RegisterHistogramVec("gateway", "request_duration", m.duration)

	return m
}

func (m *serverMetrics) record(route, method string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
