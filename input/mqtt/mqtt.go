// Package mqtt implements the broker input: an MQTT v5 session that
// subscribes to the configured topic filters and feeds raw messages into
// the engine's buffer. Session management (reconnect, resubscribe) is
// delegated to autopaho.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/semibank/smartfarm/component"
	"github.com/semibank/smartfarm/config"
	"github.com/semibank/smartfarm/engine"
	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/metric"
	"github.com/semibank/smartfarm/pkg/buffer"
)

// InputDeps carries the input's dependencies.
type InputDeps struct {
	Config   config.BrokerConfig
	Buffer   buffer.Buffer[engine.Message]
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// Input is the MQTT broker input component.
type Input struct {
	name   string
	cfg    config.BrokerConfig
	buffer buffer.Buffer[engine.Message]
	logger *component.Logger

	serverURL *url.URL
	cm        *autopaho.ConnectionManager
	cancel    context.CancelFunc

	running   atomic.Bool
	connected atomic.Bool
	startTime time.Time
	mu        sync.Mutex

	messagesReceived atomic.Int64
	messagesDropped  atomic.Int64
	errorCount       atomic.Int64
	lastActivity     atomic.Value // time.Time

	metrics *Metrics
	core    *metric.Metrics
}

var _ component.LifecycleComponent = (*Input)(nil)

// NewInput wires the input from its dependencies.
func NewInput(deps InputDeps) *Input {
	in := &Input{
		name:    "mqtt-input",
		cfg:     deps.Config,
		buffer:  deps.Buffer,
		logger:  component.NewLogger("mqtt-input", deps.Logger),
		metrics: newMetrics(deps.Registry),
	}
	if deps.Registry != nil {
		in.core = deps.Registry.CoreMetrics()
	}
	if in.cfg.ClientID == "" {
		in.cfg.ClientID = "smartfarm-gateway"
	}
	return in
}

// Meta returns component information.
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        in.name,
		Type:        "input",
		Description: fmt.Sprintf("MQTT v5 subscriber for %s", in.cfg.URL),
		Version:     "1.0.0",
	}
}

// Health reports broker connectivity.
func (in *Input) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    in.running.Load() && in.connected.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorCount.Load()),
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow returns throughput metrics.
func (in *Input) DataFlow() component.FlowMetrics {
	received := in.messagesReceived.Load()
	lastActivity, _ := in.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(in.startTime).Seconds(); uptime > 0 {
		perSecond = float64(received) / uptime
	}
	if received > 0 {
		errorRate = float64(in.errorCount.Load()) / float64(received)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration, it opens no connection.
func (in *Input) Initialize() error {
	if in.buffer == nil {
		return errors.WrapInvalid(fmt.Errorf("nil message buffer"),
			"mqtt-input", "Initialize", "dependency validation")
	}
	if len(in.cfg.Topics) == 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: no topic filters", errors.ErrMissingConfig),
			"mqtt-input", "Initialize", "topic validation")
	}

	u, err := url.Parse(in.cfg.URL)
	if err != nil {
		return errors.WrapInvalid(err, "mqtt-input", "Initialize", fmt.Sprintf("parse broker url %s", in.cfg.URL))
	}
	in.serverURL = u
	return nil
}

// Start opens the managed session and waits for the first connection.
// Idempotent. Reconnects after that are autopaho's job; subscriptions are
// re-established on every connection-up.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil
	}
	if in.serverURL == nil {
		return errors.WrapInvalid(fmt.Errorf("not initialized"),
			"mqtt-input", "Start", "lifecycle check")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	in.cancel = cancel

	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{in.serverURL},
		KeepAlive:                     in.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		ConnectUsername:               in.cfg.Username,
		ConnectPassword:               []byte(in.cfg.Password),
		OnConnectionUp:                in.onConnectionUp,
		OnConnectError: func(err error) {
			in.errorCount.Add(1)
			in.setConnected(false)
			in.logger.Warn("broker connect failed", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: in.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				in.onPublishReceived,
			},
			OnClientError: func(err error) {
				in.errorCount.Add(1)
				in.setConnected(false)
				in.logger.Warn("client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				in.setConnected(false)
				in.logger.Warn("server disconnect", "reason_code", d.ReasonCode)
			},
		},
	}

	cm, err := autopaho.NewConnection(runCtx, cliCfg)
	if err != nil {
		cancel()
		return errors.WrapTransient(err, "mqtt-input", "Start", "create connection manager")
	}
	in.cm = cm

	if in.cfg.ConnectTimeout > 0 {
		waitCtx, waitCancel := context.WithTimeout(runCtx, in.cfg.ConnectTimeout)
		defer waitCancel()
		if err := cm.AwaitConnection(waitCtx); err != nil {
			// The manager keeps retrying in the background; starting
			// degraded is better than refusing to start.
			in.logger.Warn("broker not reachable yet, retrying in background", "error", err)
		}
	}

	in.running.Store(true)
	in.startTime = time.Now()
	in.logger.Info("started", "broker", in.cfg.URL, "filters", in.cfg.Topics)
	return nil
}

// onConnectionUp subscribes to all configured filters. autopaho calls it
// after every (re)connection, which restores subscriptions dropped with
// the old session.
func (in *Input) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	in.setConnected(true)
	if in.core != nil {
		in.core.RecordBrokerReconnect()
	}
	if in.metrics != nil {
		in.metrics.reconnects.Inc()
	}

	subs := make([]paho.SubscribeOptions, 0, len(in.cfg.Topics))
	for _, filter := range in.cfg.Topics {
		subs = append(subs, paho.SubscribeOptions{Topic: filter, QoS: in.cfg.QoS})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		in.errorCount.Add(1)
		in.logger.Error("subscribe failed", err, "filters", in.cfg.Topics)
		return
	}
	if in.metrics != nil {
		in.metrics.markSubscriptions(in.cfg.Topics, true)
	}
	in.logger.Info("subscribed", "filters", in.cfg.Topics)
}

// onPublishReceived normalizes the publish into an engine.Message and
// buffers it. The handler never blocks: a full buffer drops the message
// and counts the drop.
func (in *Input) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	pub := pr.Packet
	in.messagesReceived.Add(1)
	in.lastActivity.Store(time.Now())

	if in.metrics != nil {
		in.metrics.messagesReceived.Inc()
		in.metrics.bytesReceived.Add(float64(len(pub.Payload)))
		if capacity := in.buffer.Capacity(); capacity > 0 {
			in.metrics.bufferUtilization.Set(float64(in.buffer.Size()) / float64(capacity))
		}
	}

	msg := engine.Message{
		Topic:     pub.Topic,
		Payload:   append([]byte(nil), pub.Payload...),
		Timestamp: time.Now().UnixMilli(),
	}
	// Overflow drops don't surface as Write errors (the policy absorbs
	// them), so watch the buffer's drop counter instead.
	dropsBefore := in.buffer.Stats().Drops()
	err := in.buffer.Write(msg)
	if err != nil || in.buffer.Stats().Drops() > dropsBefore {
		in.messagesDropped.Add(1)
		if in.metrics != nil {
			in.metrics.messagesDropped.Inc()
		}
		in.logger.Warn("buffer full, message dropped", "topic", pub.Topic)
	}
	return true, nil
}

// Publish sends a command message to the broker, e.g. an actuator toggle
// relayed from the gateway.
func (in *Input) Publish(ctx context.Context, topic string, payload []byte) error {
	in.mu.Lock()
	cm := in.cm
	in.mu.Unlock()

	if cm == nil || !in.running.Load() {
		return errors.WrapTransient(errors.ErrNoConnection, "mqtt-input", "Publish", "connection check")
	}

	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     in.cfg.QoS,
		Payload: payload,
	})
	if err != nil {
		in.errorCount.Add(1)
		return errors.WrapTransient(err, "mqtt-input", "Publish", fmt.Sprintf("publish to %s", topic))
	}
	return nil
}

// Stop disconnects gracefully within the timeout.
func (in *Input) Stop(timeout time.Duration) error {
	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)

	in.mu.Lock()
	cm := in.cm
	cancel := in.cancel
	in.cm = nil
	in.mu.Unlock()

	if cm != nil {
		ctx, ctxCancel := context.WithTimeout(context.Background(), timeout)
		defer ctxCancel()
		if err := cm.Disconnect(ctx); err != nil {
			in.logger.Warn("disconnect failed", "error", err)
		}

		select {
		case <-cm.Done():
		case <-ctx.Done():
			if cancel != nil {
				cancel()
			}
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"mqtt-input", "Stop", "graceful shutdown")
		}
	}

	if cancel != nil {
		cancel()
	}
	in.setConnected(false)
	return nil
}

func (in *Input) setConnected(up bool) {
	in.connected.Store(up)
	if in.metrics != nil {
		if up {
			in.metrics.connectionStatus.Set(1)
		} else {
			in.metrics.connectionStatus.Set(0)
			in.metrics.markSubscriptions(in.cfg.Topics, false)
		}
	}
	if in.core != nil {
		in.core.RecordBrokerStatus(up)
	}
}
