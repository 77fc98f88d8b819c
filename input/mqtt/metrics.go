package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semibank/smartfarm/metric"
)

// Metrics holds Prometheus metrics for the MQTT input component.
type Metrics struct {
	messagesReceived  prometheus.Counter
	bytesReceived     prometheus.Counter
	messagesDropped   prometheus.Counter
	connectionStatus  prometheus.Gauge
	reconnects        prometheus.Counter
	bufferUtilization prometheus.Gauge
	subscribed        *prometheus.GaugeVec
}

// newMetrics creates and registers MQTT input metrics. A nil registry
// disables the feature (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Subsystem: "mqtt",
			Name:      "messages_received_total",
			Help:      "Total MQTT publishes received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Subsystem: "mqtt",
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Subsystem: "mqtt",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the engine buffer was full",
		}),
		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartfarm",
			Subsystem: "mqtt",
			Name:      "connection_status",
			Help:      "1 when connected to the broker, 0 otherwise",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Subsystem: "mqtt",
			Name:      "reconnects_total",
			Help:      "Broker reconnection attempts",
		}),
		bufferUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartfarm",
			Subsystem: "mqtt",
			Name:      "buffer_utilization_ratio",
			Help:      "Engine buffer usage (0-1) showing backpressure",
		}),
		subscribed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "smartfarm",
			Subsystem: "mqtt",
			Name:      "subscribed",
			Help:      "1 while the filter's subscription is active on the broker",
		}, []string{"filter"}),
	}

	_ = registry.RegisterCounter("mqtt_input", "messages_received", m.messagesReceived)
	_ = registry.RegisterCounter("mqtt_input", "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounter("mqtt_input", "messages_dropped", m.messagesDropped)
	_ = registry.RegisterGauge("mqtt_input", "connection_status", m.connectionStatus)
	_ = registry.RegisterCounter("mqtt_input", "reconnects", m.reconnects)
	_ = registry.RegisterGauge("mqtt_input", "buffer_utilization", m.bufferUtilization)
	_ = registry.RegisterGaugeVec("mqtt_input", "subscribed", m.subscribed)

	return m
}

// markSubscriptions flips every configured filter's gauge.
func (m *Metrics) markSubscriptions(filters []string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	for _, filter := range filters {
		m.subscribed.WithLabelValues(filter).Set(value)
	}
}
