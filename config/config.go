// Package config defines the application configuration model and a layered
// loader. Configuration is read from JSON or YAML files, merged over
// built-in defaults, then overridden by SMARTFARM_* environment variables.
package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/semibank/smartfarm/errors"
)

// Snapshot backend constants.
const (
	SnapshotBackendNone   = "none"   // In-memory only, nothing survives a restart
	SnapshotBackendBadger = "badger" // Local embedded store (default)
	SnapshotBackendNATS   = "nats"   // JetStream KV bucket, for clustered deployments
)

// Config is the complete application configuration.
type Config struct {
	Platform Platform       `json:"platform" yaml:"platform"`
	Broker   BrokerConfig   `json:"broker" yaml:"broker"`
	NATS     NATSConfig     `json:"nats,omitempty" yaml:"nats,omitempty"`
	Series   []SeriesDef    `json:"series,omitempty" yaml:"series,omitempty"`
	History  HistoryConfig  `json:"history" yaml:"history"`
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// Platform identifies the deployment.
type Platform struct {
	Org         string `json:"org" yaml:"org"`
	ID          string `json:"id" yaml:"id"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// BrokerConfig defines the MQTT connection.
type BrokerConfig struct {
	URL            string        `json:"url" yaml:"url"`
	ClientID       string        `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username       string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string        `json:"password,omitempty" yaml:"password,omitempty"`
	Topics         []string      `json:"topics" yaml:"topics"`
	QoS            byte          `json:"qos,omitempty" yaml:"qos,omitempty"`
	KeepAlive      uint16        `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	BufferSize     int           `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
}

// NATSConfig defines the optional JetStream KV connection used when the
// snapshot backend is "nats".
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	Bucket        string        `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

// SeriesDef binds an incoming topic to a display series and its optional
// status thresholds. Topics without a SeriesDef are still ingested; they
// fall back to keyword-based plausibility checks and a "normal" status.
type SeriesDef struct {
	Topic string          `json:"topic" yaml:"topic"`
	ID    string          `json:"id" yaml:"id"`
	Title string          `json:"title" yaml:"title"`
	Unit  string          `json:"unit,omitempty" yaml:"unit,omitempty"`
	Bands []ThresholdBand `json:"bands,omitempty" yaml:"bands,omitempty"`
}

// ThresholdBand maps a half-open value range [Min, Max) to a status label.
// A nil bound is unbounded on that side. Bands are evaluated in order and
// the first match wins; no match means "normal".
type ThresholdBand struct {
	Status string   `json:"status" yaml:"status"`
	Min    *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Matches reports whether v falls inside the band.
func (b ThresholdBand) Matches(v float64) bool {
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v >= *b.Max {
		return false
	}
	return true
}

// HistoryConfig bounds the in-memory sample store.
type HistoryConfig struct {
	MaxPoints     int           `json:"max_points,omitempty" yaml:"max_points,omitempty"`
	DefaultWindow time.Duration `json:"default_window,omitempty" yaml:"default_window,omitempty"`
}

// SnapshotConfig controls history persistence.
type SnapshotConfig struct {
	Backend  string        `json:"backend,omitempty" yaml:"backend,omitempty"`
	Path     string        `json:"path,omitempty" yaml:"path,omitempty"`
	Key      string        `json:"key,omitempty" yaml:"key,omitempty"`
	Debounce time.Duration `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	MaxDelay time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// GatewayConfig defines the HTTP/WebSocket surface.
type GatewayConfig struct {
	Addr            string        `json:"addr,omitempty" yaml:"addr,omitempty"`
	ReadTimeout     time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
	EnableWebsocket bool          `json:"enable_websocket" yaml:"enable_websocket"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text or json
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Platform.Org == "" {
		return validationErr("platform.org is required")
	}
	if c.Platform.ID == "" {
		return validationErr("platform.id is required")
	}

	if c.Broker.URL == "" {
		return validationErr("broker.url is required")
	}
	if len(c.Broker.Topics) == 0 {
		return validationErr("broker.topics must name at least one subscription filter")
	}
	if c.Broker.QoS > 2 {
		return validationErr(fmt.Sprintf("broker.qos must be 0..2, got %d", c.Broker.QoS))
	}
	if c.Broker.BufferSize < 0 {
		return validationErr("broker.buffer_size cannot be negative")
	}

	if c.History.MaxPoints < 0 {
		return validationErr("history.max_points cannot be negative")
	}

	switch c.Snapshot.Backend {
	case "", SnapshotBackendNone, SnapshotBackendBadger, SnapshotBackendNATS:
	default:
		return validationErr(fmt.Sprintf("snapshot.backend %q is not one of none, badger, nats", c.Snapshot.Backend))
	}
	if c.Snapshot.Backend == SnapshotBackendBadger && c.Snapshot.Path == "" {
		return validationErr("snapshot.path is required for the badger backend")
	}
	if c.Snapshot.Backend == SnapshotBackendNATS && len(c.NATS.URLs) == 0 {
		return validationErr("nats.urls is required for the nats snapshot backend")
	}
	if c.Snapshot.Debounce < 0 || c.Snapshot.MaxDelay < 0 {
		return validationErr("snapshot debounce and max_delay cannot be negative")
	}
	if c.Snapshot.MaxDelay > 0 && c.Snapshot.MaxDelay < c.Snapshot.Debounce {
		return validationErr("snapshot.max_delay must be at least snapshot.debounce")
	}

	seen := make(map[string]string, len(c.Series))
	for i, def := range c.Series {
		if def.Topic == "" {
			return validationErr(fmt.Sprintf("series[%d].topic is required", i))
		}
		if def.ID == "" {
			return validationErr(fmt.Sprintf("series[%d].id is required", i))
		}
		if prev, dup := seen[def.ID]; dup {
			return validationErr(fmt.Sprintf("series id %q bound to both %q and %q", def.ID, prev, def.Topic))
		}
		seen[def.ID] = def.Topic
		for j, band := range def.Bands {
			if band.Status == "" {
				return validationErr(fmt.Sprintf("series[%d].bands[%d].status is required", i, j))
			}
			if band.Min != nil && band.Max != nil && *band.Min >= *band.Max {
				return validationErr(fmt.Sprintf("series[%d].bands[%d]: min must be below max", i, j))
			}
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return validationErr(fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return validationErr(fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}

	return nil
}

func validationErr(msg string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
		"config", "Validate", "validate config")
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SeriesByTopic indexes the series registry by topic.
func (c *Config) SeriesByTopic() map[string]SeriesDef {
	out := make(map[string]SeriesDef, len(c.Series))
	for _, def := range c.Series {
		out[def.Topic] = def
	}
	return out
}

// String renders the config as indented JSON with credentials masked.
func (c *Config) String() string {
	clone := c.Clone()
	if clone.Broker.Password != "" {
		clone.Broker.Password = "***"
	}
	if clone.NATS.Password != "" {
		clone.NATS.Password = "***"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to a live configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg for concurrent use.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return validationErr("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// IsValidationError reports whether err came from config validation.
func IsValidationError(err error) bool {
	return stderrors.Is(err, errors.ErrInvalidConfig)
}
