package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semibank/smartfarm/config"
	"github.com/semibank/smartfarm/engine"
	"github.com/semibank/smartfarm/metric"
	"github.com/semibank/smartfarm/pkg/buffer"
)

func testDeps(t *testing.T, capacity int) (InputDeps, buffer.Buffer[engine.Message]) {
	t.Helper()
	buf, err := buffer.NewRing[engine.Message](capacity,
		buffer.WithOverflowPolicy[engine.Message](buffer.DropNewest))
	require.NoError(t, err)

	return InputDeps{
		Config: config.BrokerConfig{
			URL:    "mqtt://localhost:1883",
			Topics: []string{"farm/#"},
			QoS:    1,
		},
		Buffer: buf,
	}, buf
}

func TestInitialize(t *testing.T) {
	deps, _ := testDeps(t, 8)
	in := NewInput(deps)
	require.NoError(t, in.Initialize())

	meta := in.Meta()
	assert.Equal(t, "mqtt-input", meta.Name)
	assert.Equal(t, "input", meta.Type)
}

func TestInitializeRejectsBadConfig(t *testing.T) {
	deps, _ := testDeps(t, 8)
	deps.Buffer = nil
	assert.Error(t, NewInput(deps).Initialize())

	deps, _ = testDeps(t, 8)
	deps.Config.Topics = nil
	assert.Error(t, NewInput(deps).Initialize())

	deps, _ = testDeps(t, 8)
	deps.Config.URL = "://not-a-url"
	assert.Error(t, NewInput(deps).Initialize())
}

func TestDefaultClientID(t *testing.T) {
	deps, _ := testDeps(t, 8)
	in := NewInput(deps)
	assert.Equal(t, "smartfarm-gateway", in.cfg.ClientID)

	deps.Config.ClientID = "custom"
	assert.Equal(t, "custom", NewInput(deps).cfg.ClientID)
}

func received(topic string, payload []byte) paho.PublishReceived {
	return paho.PublishReceived{
		Packet: &paho.Publish{Topic: topic, Payload: payload},
	}
}

func TestOnPublishReceivedBuffersMessage(t *testing.T) {
	deps, buf := testDeps(t, 8)
	in := NewInput(deps)
	require.NoError(t, in.Initialize())

	before := time.Now().UnixMilli()
	ack, err := in.onPublishReceived(received("farm/zone1/temp", []byte("23.5")))
	require.NoError(t, err)
	assert.True(t, ack)

	msg, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "farm/zone1/temp", msg.Topic)
	assert.Equal(t, []byte("23.5"), msg.Payload)
	assert.GreaterOrEqual(t, msg.Timestamp, before)
}

func TestOnPublishReceivedCopiesPayload(t *testing.T) {
	deps, buf := testDeps(t, 8)
	in := NewInput(deps)

	raw := []byte("23.5")
	_, err := in.onPublishReceived(received("farm/zone1/temp", raw))
	require.NoError(t, err)
	raw[0] = 'X' // broker may reuse the packet buffer

	msg, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, []byte("23.5"), msg.Payload)
}

func TestOnPublishReceivedFullBufferDrops(t *testing.T) {
	deps, buf := testDeps(t, 1)
	in := NewInput(deps)

	_, err := in.onPublishReceived(received("a", []byte("1")))
	require.NoError(t, err)
	_, err = in.onPublishReceived(received("b", []byte("2")))
	require.NoError(t, err, "handler never propagates buffer errors to the broker")

	assert.Equal(t, int64(1), in.messagesDropped.Load())
	assert.Equal(t, 1, buf.Size())
}

func TestPublishWithoutConnection(t *testing.T) {
	deps, _ := testDeps(t, 8)
	in := NewInput(deps)
	require.NoError(t, in.Initialize())

	err := in.Publish(context.Background(), "farm/zone1/fan", []byte("on"))
	assert.Error(t, err)
}

func TestStopWithoutStart(t *testing.T) {
	deps, _ := testDeps(t, 8)
	in := NewInput(deps)
	assert.NoError(t, in.Stop(time.Second))
}

func TestMetricsNilRegistry(t *testing.T) {
	assert.Nil(t, newMetrics(nil))
}

func TestMetricsSubscriptionGauge(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newMetrics(registry)
	require.NotNil(t, m)

	filters := []string{"farm/#", "barn/+/temp"}
	m.markSubscriptions(filters, true)
	m.markSubscriptions(filters, false)

	_, err := registry.PrometheusRegistry().Gather()
	assert.NoError(t, err)
}

func TestHealthReflectsState(t *testing.T) {
	deps, _ := testDeps(t, 8)
	in := NewInput(deps)

	health := in.Health()
	assert.False(t, health.Healthy, "not running, not connected")

	in.running.Store(true)
	in.setConnected(true)
	assert.True(t, in.Health().Healthy)

	in.setConnected(false)
	assert.False(t, in.Health().Healthy)
}
