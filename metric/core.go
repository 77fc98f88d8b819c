package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Ingestion metrics
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	SamplesAccepted    *prometheus.CounterVec
	SamplesDropped     *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec

	// Broker metrics
	BrokerConnected  prometheus.Gauge
	BrokerReconnects prometheus.Counter

	// Store metrics
	SnapshotFlushes *prometheus.CounterVec
	TreeNodes       prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartfarm",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages received",
			},
			[]string{"component", "topic"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartfarm",
				Subsystem: "messages",
				Name:      "processed_total",
				Help:      "Total number of messages processed",
			},
			[]string{"component", "status"},
		),

		SamplesAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartfarm",
				Subsystem: "samples",
				Name:      "accepted_total",
				Help:      "Total number of samples accepted into series history",
			},
			[]string{"series"},
		),

		SamplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartfarm",
				Subsystem: "samples",
				Name:      "dropped_total",
				Help:      "Total number of samples dropped before storage",
			},
			[]string{"series", "reason"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "smartfarm",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Message processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartfarm",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "smartfarm",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "smartfarm",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnections",
			},
		),

		SnapshotFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smartfarm",
				Subsystem: "snapshot",
				Name:      "flushes_total",
				Help:      "Total number of snapshot flush attempts",
			},
			[]string{"status"},
		),

		TreeNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "smartfarm",
				Subsystem: "tree",
				Name:      "nodes",
				Help:      "Current number of topic tree nodes",
			},
		),
	}
}

// RecordMessageReceived increments the received message counter
func (c *Metrics) RecordMessageReceived(component, topic string) {
	c.MessagesReceived.WithLabelValues(component, topic).Inc()
}

// RecordMessageProcessed increments the processed message counter
func (c *Metrics) RecordMessageProcessed(component, status string) {
	c.MessagesProcessed.WithLabelValues(component, status).Inc()
}

// RecordSampleAccepted increments the accepted sample counter
func (c *Metrics) RecordSampleAccepted(series string) {
	c.SamplesAccepted.WithLabelValues(series).Inc()
}

// RecordSampleDropped increments the dropped sample counter
func (c *Metrics) RecordSampleDropped(series, reason string) {
	c.SamplesDropped.WithLabelValues(series, reason).Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(component, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordBrokerStatus updates the broker connection gauge
func (c *Metrics) RecordBrokerStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BrokerConnected.Set(value)
}

// RecordBrokerReconnect increments the reconnection counter
func (c *Metrics) RecordBrokerReconnect() {
	c.BrokerReconnects.Inc()
}

// RecordSnapshotFlush increments the snapshot flush counter
func (c *Metrics) RecordSnapshotFlush(status string) {
	c.SnapshotFlushes.WithLabelValues(status).Inc()
}

// RecordTreeNodes updates the topic tree node gauge
func (c *Metrics) RecordTreeNodes(count int) {
	c.TreeNodes.Set(float64(count))
}
