// Package smartfarm is an in-memory telemetry aggregation gateway for
// MQTT-connected farm sensors.
//
// The gateway subscribes to a broker, parses numeric sensor payloads, and
// maintains two live structures: a topic tree mirroring the broker's topic
// hierarchy, and a bounded per-series history of classified data points.
// Histories feed resampling (moving average, median, bucketed), summary
// statistics, and status distributions, all served over an HTTP/WebSocket
// gateway. A debounced snapshot writer persists histories to an embedded
// Badger store or a NATS JetStream KV bucket so they survive restarts.
//
// Layout:
//
//   - cmd/smartfarm: entry point, wires components from configuration
//   - engine: message drain loop, topic tree, history, snapshot scheduling
//   - topic, series, resample, plausibility: the aggregation core
//   - input/mqtt: managed broker session feeding the ingest buffer
//   - gateway/http: REST and WebSocket query surface
//   - storage: snapshot store backends
//   - component, metric, errors, pkg/buffer: shared infrastructure
package smartfarm
