package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/semibank/smartfarm/config"
	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/pkg/timestamp"
	"github.com/semibank/smartfarm/series"
	"github.com/semibank/smartfarm/topic"
)

// drainBatchSize bounds how many buffered messages one tick consumes.
const drainBatchSize = 256

// drainLoop polls the message buffer on a short ticker and processes
// messages in batches. Polling (rather than a per-message channel) keeps
// broker callbacks cheap and gives the engine a single writer goroutine.
func (e *Engine) drainLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drainRemaining()
			return
		case <-e.shutdown:
			e.drainRemaining()
			return
		case <-ticker.C:
			for _, msg := range e.buffer.ReadBatch(drainBatchSize) {
				e.processMessage(msg)
			}
		}
	}
}

// drainRemaining empties the buffer once on the way out so messages
// accepted before shutdown still reach the history.
func (e *Engine) drainRemaining() {
	for _, msg := range e.buffer.ReadBatch(drainBatchSize) {
		e.processMessage(msg)
	}
}

// Ingest feeds one message through the full pipeline synchronously. The
// drain loop uses it for buffered messages; tests and alternative inputs
// can call it directly.
func (e *Engine) Ingest(topicStr string, payload []byte, ts int64) error {
	return e.process(Message{Topic: topicStr, Payload: payload, Timestamp: ts})
}

func (e *Engine) processMessage(msg Message) {
	start := time.Now()
	if err := e.process(msg); err != nil && !errors.IsInvalid(err) {
		e.logger.Warn("message processing failed", "topic", msg.Topic, "error", err)
	}
	if e.metrics != nil {
		e.metrics.RecordProcessingDuration(e.name, "process", time.Since(start))
	}
}

func (e *Engine) process(msg Message) error {
	e.messagesProcessed.Add(1)
	e.lastActivity.Store(time.Now())
	if e.metrics != nil {
		e.metrics.RecordMessageReceived(e.name, msg.Topic)
	}

	ts := msg.Timestamp
	if timestamp.IsZero(ts) {
		ts = timestamp.Now()
	}

	// The tree records every topic seen, numeric or not. The numeric
	// pipeline below is stricter.
	e.tree.Update(msg.Topic, string(msg.Payload), ts)
	if e.metrics != nil {
		e.metrics.RecordTreeNodes(e.tree.Len())
	}

	value, deviceTS, err := ParseValue(msg.Payload)
	if err != nil {
		e.dropSample(msg.Topic, "unparseable")
		return errors.WrapInvalid(err, "engine", "process", fmt.Sprintf("parse payload on %s", msg.Topic))
	}
	// A device-side timestamp inside the payload wins over arrival time.
	if !timestamp.IsZero(deviceTS) {
		ts = deviceTS
	}

	def := e.resolveSeries(msg.Topic)

	if !e.validator.IsPlausible(def.Title, lastSegment(msg.Topic), value) {
		e.dropSample(def.ID, "implausible")
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s=%v", errors.ErrImplausibleData, def.ID, value),
			"engine", "process", "plausibility check")
	}

	status := classify(def.Bands, value)

	if err := e.history.Append(def.ID, value, status, def.Title, def.Unit); err != nil {
		e.dropSample(def.ID, "rejected")
		return err
	}

	e.samplesAccepted.Add(1)
	if e.metrics != nil {
		e.metrics.RecordSampleAccepted(def.ID)
		e.metrics.RecordMessageProcessed(e.name, "accepted")
	}

	e.publishEvent(SampleEvent{
		SeriesID: def.ID,
		Title:    def.Title,
		Unit:     def.Unit,
		Point: series.DataPoint{
			Timestamp: ts,
			Value:     value,
			Status:    status,
			SeriesID:  def.ID,
			Title:     def.Title,
			Unit:      def.Unit,
		},
	})
	return nil
}

func (e *Engine) dropSample(seriesID, reason string) {
	e.samplesDropped.Add(1)
	if e.metrics != nil {
		e.metrics.RecordSampleDropped(seriesID, reason)
		e.metrics.RecordMessageProcessed(e.name, reason)
	}
}

// resolveSeries maps a topic to its configured series binding. Topics
// without a binding still get a stable derived identity so unconfigured
// sensors show up instead of disappearing.
func (e *Engine) resolveSeries(topicStr string) config.SeriesDef {
	if def, ok := e.registry[topicStr]; ok {
		return def
	}

	segments := topic.Split(topicStr)
	def := config.SeriesDef{
		Topic: topicStr,
		ID:    topic.JoinPath(segments),
		Title: lastSegment(topicStr),
	}
	if def.ID == "" {
		def.ID = topicStr
	}
	return def
}

func lastSegment(topicStr string) string {
	segments := topic.Split(topicStr)
	if len(segments) == 0 {
		return topicStr
	}
	return segments[len(segments)-1]
}

// classify returns the first matching threshold band's status, or normal.
func classify(bands []config.ThresholdBand, value float64) series.Status {
	for _, band := range bands {
		if band.Matches(value) {
			return series.ParseStatus(band.Status)
		}
	}
	return series.StatusNormal
}

// ParseValue extracts a numeric reading from a raw payload. Payloads are
// either a bare number ("23.5") or a small JSON object carrying one, e.g.
// {"value": 23.5} or {"value": "23.5"}. The JSON form may also carry a
// device-side "timestamp" (epoch seconds, milliseconds, or RFC3339);
// the returned ts is 0 when absent.
func ParseValue(payload []byte) (float64, int64, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, 0, fmt.Errorf("%w: empty payload", errors.ErrParsingFailed)
	}

	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, 0, nil
	}

	var wrapped struct {
		Value     any `json:"value"`
		Timestamp any `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil || wrapped.Value == nil {
		return 0, 0, fmt.Errorf("%w: %q is not numeric", errors.ErrParsingFailed, truncate(text, 64))
	}

	ts := timestamp.Parse(wrapped.Timestamp)
	switch v := wrapped.Value.(type) {
	case float64:
		return v, ts, nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, ts, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %q is not numeric", errors.ErrParsingFailed, truncate(text, 64))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SampleEvent is pushed to live subscribers for every accepted sample.
type SampleEvent struct {
	SeriesID string           `json:"seriesId"`
	Title    string           `json:"title,omitempty"`
	Unit     string           `json:"unit,omitempty"`
	Point    series.DataPoint `json:"point"`
}

// Subscribe registers a live sample feed. The returned cancel function
// removes the subscription and closes the channel. Slow subscribers lose
// events rather than stalling the pipeline.
func (e *Engine) Subscribe(bufferSize int) (<-chan SampleEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	ch := make(chan SampleEvent, bufferSize)
	id := uuid.NewString()

	e.subMu.Lock()
	e.subscribers[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		if existing, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(existing)
		}
		e.subMu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) publishEvent(event SampleEvent) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default: // subscriber is behind, drop
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
}
