package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/semibank/smartfarm/errors"
)

// Loader reads configuration layers and merges them over defaults.
// Later layers win. Environment variables win over all layers.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled and the SMARTFARM
// environment prefix.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "SMARTFARM",
	}
}

// AddLayer appends a configuration file layer.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles post-merge validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers over the defaults and applies env overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("load layer %s", path))
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", fmt.Sprintf("merge layer %s", path))
		}
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Platform: Platform{
			Org:         "smartfarm",
			Environment: "dev",
		},
		Broker: BrokerConfig{
			URL:            "mqtt://localhost:1883",
			Topics:         []string{"#"},
			QoS:            1,
			KeepAlive:      30,
			ConnectTimeout: 10 * time.Second,
			BufferSize:     1024,
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Bucket:        "smartfarm-snapshots",
		},
		History: HistoryConfig{
			MaxPoints:     1000,
			DefaultWindow: 24 * time.Hour,
		},
		Snapshot: SnapshotConfig{
			Backend:  SnapshotBackendBadger,
			Path:     "data/snapshots",
			Key:      "history",
			Debounce: 2 * time.Second,
			MaxDelay: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EnableWebsocket: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "smartfarm",
		},
	}
}

// loadRaw reads a JSON or YAML file into a raw map, picking the decoder
// from the file extension, and normalizes duration strings.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	normalizeDurations(raw)
	return raw, nil
}

// durationFields lists the config paths that accept "5s"-style strings.
var durationFields = map[string][]string{
	"broker":   {"connect_timeout"},
	"nats":     {"reconnect_wait"},
	"history":  {"default_window"},
	"snapshot": {"debounce", "max_delay"},
	"gateway":  {"read_timeout", "write_timeout", "shutdown_timeout"},
}

func normalizeDurations(raw map[string]any) {
	for section, fields := range durationFields {
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, field := range fields {
			s, ok := m[field].(string)
			if !ok {
				continue
			}
			if d, err := parseDurationWithDays(s); err == nil {
				m[field] = d.Nanoseconds()
			}
		}
	}
}

// parseDurationWithDays accepts standard durations plus a "d" suffix,
// e.g. "7d" for retention-style settings.
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// mergeFromMap merges a raw layer over base, only overriding keys the
// layer actually sets.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMerge(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMerge recursively merges override into base. Nested maps merge
// key-by-key; everything else (including lists) replaces wholesale.
func deepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies SMARTFARM_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	env := func(suffix string) string {
		return os.Getenv(l.envPrefix + "_" + suffix)
	}

	if val := env("PLATFORM_ORG"); val != "" {
		cfg.Platform.Org = val
	}
	if val := env("PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}
	if val := env("BROKER_URL"); val != "" {
		cfg.Broker.URL = val
	}
	if val := env("BROKER_USERNAME"); val != "" {
		cfg.Broker.Username = val
	}
	if val := env("BROKER_PASSWORD"); val != "" {
		cfg.Broker.Password = val
	}
	if val := env("BROKER_TOPICS"); val != "" {
		cfg.Broker.Topics = strings.Split(val, ",")
	}
	if val := env("NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := env("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := env("SNAPSHOT_BACKEND"); val != "" {
		cfg.Snapshot.Backend = val
	}
	if val := env("SNAPSHOT_PATH"); val != "" {
		cfg.Snapshot.Path = val
	}
	if val := env("GATEWAY_ADDR"); val != "" {
		cfg.Gateway.Addr = val
	}
	if val := env("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// SaveToFile writes the configuration to path as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
