// Package main is the smartfarm gateway entry point: it wires the broker
// input, the aggregation engine, the snapshot store, and the HTTP gateway
// from configuration and runs them until a shutdown signal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/semibank/smartfarm/component"
	"github.com/semibank/smartfarm/config"
	"github.com/semibank/smartfarm/engine"
	gateway "github.com/semibank/smartfarm/gateway/http"
	mqttinput "github.com/semibank/smartfarm/input/mqtt"
	"github.com/semibank/smartfarm/metric"
	"github.com/semibank/smartfarm/pkg/buffer"
	"github.com/semibank/smartfarm/plausibility"
	"github.com/semibank/smartfarm/storage"
	"github.com/semibank/smartfarm/storage/badgerstore"
	"github.com/semibank/smartfarm/storage/natskv"
)

// Build information constants.
const (
	Version = "1.0.0"
	appName = "smartfarm"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	cfg, err := config.NewLoader().LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags override the config file's logging section.
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("starting",
		"version", Version,
		"org", cfg.Platform.Org,
		"platform", cfg.Platform.ID,
		"broker", cfg.Broker.URL,
		"config_path", cliCfg.ConfigPath)

	ctx := context.Background()

	var registry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
	}

	store, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("snapshot store close failed", "error", err)
		}
	}()

	components, err := buildComponents(cfg, store, registry, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, components, cliCfg.ShutdownTimeout)
}

// openSnapshotStore picks the persistence backend from configuration.
func openSnapshotStore(ctx context.Context, cfg *config.Config) (storage.SnapshotStore, error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendNone, "":
		slog.Info("snapshot persistence disabled")
		return storage.NewNoop(), nil
	case config.SnapshotBackendBadger:
		slog.Info("using badger snapshot store", "path", cfg.Snapshot.Path)
		return badgerstore.Open(cfg.Snapshot.Path)
	case config.SnapshotBackendNATS:
		slog.Info("using nats kv snapshot store", "bucket", cfg.NATS.Bucket)
		return natskv.Connect(ctx, cfg.NATS)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
	}
}

// buildComponents wires the pipeline in dependency order: buffer, engine,
// broker input, gateway. The returned slice is also the start order;
// shutdown walks it in reverse.
func buildComponents(
	cfg *config.Config,
	store storage.SnapshotStore,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) ([]component.Discoverable, error) {
	bufferSize := cfg.Broker.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	bufOpts := []buffer.Option[engine.Message]{
		buffer.WithOverflowPolicy[engine.Message](buffer.DropOldest),
	}
	if registry != nil {
		bufOpts = append(bufOpts, buffer.WithMetrics[engine.Message](registry, "ingest"))
	}
	buf, err := buffer.NewRing[engine.Message](bufferSize, bufOpts...)
	if err != nil {
		return nil, fmt.Errorf("create message buffer: %w", err)
	}

	var coreMetrics *metric.Metrics
	if registry != nil {
		coreMetrics = registry.CoreMetrics()
	}

	eng := engine.NewEngine(engine.Deps{
		Config:    cfg,
		Buffer:    buf,
		Store:     store,
		Validator: plausibility.NewValidator(nil),
		Metrics:   coreMetrics,
		Logger:    logger,
	})

	input := mqttinput.NewInput(mqttinput.InputDeps{
		Config:   cfg.Broker,
		Buffer:   buf,
		Registry: registry,
		Logger:   logger,
	})

	gw := gateway.NewServer(gateway.ServerDeps{
		Config:     cfg.Gateway,
		Engine:     eng,
		Publisher:  input,
		Registry:   registry,
		Components: []component.Discoverable{eng, input},
		Logger:     logger,
	})

	return []component.Discoverable{eng, input, gw}, nil
}

// runWithSignalHandling starts all lifecycle components and blocks until
// SIGINT or SIGTERM, then stops them in reverse order. Each component's
// lifecycle state is tracked so failures and shutdown logs show where in
// the lifecycle a component ended up.
func runWithSignalHandling(
	ctx context.Context,
	components []component.Discoverable,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	states := make(map[string]component.State, len(components))
	started := make([]component.LifecycleComponent, 0, len(components))
	for _, c := range components {
		name := c.Meta().Name
		lc, ok := component.AsLifecycleComponent(c)
		if !ok {
			slog.Warn("component has no lifecycle, skipping", "name", name)
			continue
		}
		states[name] = component.StateCreated

		if err := lc.Initialize(); err != nil {
			states[name] = component.StateFailed
			stopAll(started, states, shutdownTimeout)
			return fmt.Errorf("initialize %s: %w", name, err)
		}
		states[name] = component.StateInitialized

		if err := lc.Start(signalCtx); err != nil {
			states[name] = component.StateFailed
			stopAll(started, states, shutdownTimeout)
			return fmt.Errorf("start %s: %w", name, err)
		}
		states[name] = component.StateStarted
		started = append(started, lc)
		slog.Info("component started", "name", name, "state", states[name].String())
	}

	slog.Info("smartfarm gateway ready")
	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	stopAll(started, states, shutdownTimeout)
	slog.Info("shutdown complete")
	return nil
}

// stopAll stops components in reverse start order so downstream consumers
// outlive their producers: gateway first, broker input next, engine last.
func stopAll(
	components []component.LifecycleComponent,
	states map[string]component.State,
	timeout time.Duration,
) {
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		name := c.Meta().Name
		if err := c.Stop(timeout); err != nil {
			states[name] = component.StateFailed
			slog.Warn("component stop failed", "name", name,
				"state", states[name].String(), "error", err)
			continue
		}
		states[name] = component.StateStopped
		slog.Info("component stopped", "name", name, "state", states[name].String())
	}
}
