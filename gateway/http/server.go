// Package http implements the gateway surface: a chi-routed REST API over
// the engine's queries, a Prometheus metrics endpoint, component health,
// and a WebSocket live sample stream.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semibank/smartfarm/component"
	"github.com/semibank/smartfarm/config"
	"github.com/semibank/smartfarm/engine"
	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/metric"
)

// CommandPublisher relays actuator commands back to the broker.
type CommandPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ServerDeps carries the gateway's dependencies.
type ServerDeps struct {
	Config     config.GatewayConfig
	Engine     *engine.Engine
	Publisher  CommandPublisher
	Registry   *metric.MetricsRegistry
	Components []component.Discoverable
	Logger     *slog.Logger
}

// Server is the HTTP gateway component.
type Server struct {
	cfg        config.GatewayConfig
	engine     *engine.Engine
	publisher  CommandPublisher
	registry   *metric.MetricsRegistry
	components []component.Discoverable
	logger     *component.Logger
	metrics    *serverMetrics

	server *http.Server

	running    atomic.Bool
	startTime  time.Time
	mu         sync.Mutex
	errorCount atomic.Int64
	requests   atomic.Int64
}

var _ component.LifecycleComponent = (*Server)(nil)

// NewServer wires the gateway from its dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		cfg:        deps.Config,
		engine:     deps.Engine,
		publisher:  deps.Publisher,
		registry:   deps.Registry,
		components: deps.Components,
		logger:     component.NewLogger("gateway", deps.Logger),
		metrics:    newServerMetrics(deps.Registry),
	}
}

// Meta returns component information.
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "gateway",
		Type:        "gateway",
		Description: fmt.Sprintf("HTTP/WebSocket API on %s", s.cfg.Addr),
		Version:     "1.0.0",
	}
}

// Health reports whether the listener is up.
func (s *Server) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    s.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns request throughput.
func (s *Server) DataFlow() component.FlowMetrics {
	requests := s.requests.Load()

	var perSecond, errorRate float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 {
		perSecond = float64(requests) / uptime
	}
	if requests > 0 {
		errorRate = float64(s.errorCount.Load()) / float64(requests)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
	}
}

// Initialize validates dependencies and builds the router.
func (s *Server) Initialize() error {
	if s.engine == nil {
		return errors.WrapInvalid(fmt.Errorf("nil engine"),
			"gateway", "Initialize", "dependency validation")
	}
	if s.cfg.Addr == "" {
		s.cfg.Addr = ":8080"
	}

	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return nil
}

// router assembles the chi route tree.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tree", s.handleTree)
		r.Delete("/tree", s.handleClearTree)
		r.Get("/series", s.handleSeriesList)

		r.Get("/history", s.handleAllHistory)
		r.Delete("/history", s.handleClearAll)
		r.Get("/history/*", s.handleSeriesHistory)
		r.Delete("/history/*", s.handleClearSeries)

		r.Get("/statistics/*", s.handleStatistics)
		r.Get("/distribution", s.handleDistribution)
		r.Get("/resample", s.handleResample)

		r.Post("/command", s.handleCommand)
		r.Get("/components", s.handleComponents)
	})

	if s.cfg.EnableWebsocket {
		r.Get("/ws", s.handleWebSocket)
	}

	r.Get("/healthz", s.handleHealthz)

	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			s.registry.PrometheusRegistry(),
			promhttp.HandlerOpts{},
		))
	}

	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.record(route, r.Method, ww.Status(), time.Since(start))
	})
}

// Start binds the listener and serves in the background. Idempotent.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}
	if s.server == nil {
		return errors.WrapInvalid(fmt.Errorf("not initialized"),
			"gateway", "Start", "lifecycle check")
	}

	// Bind synchronously so Start fails fast on a taken port.
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "gateway", "Start", fmt.Sprintf("listen on %s", s.cfg.Addr))
	}

	s.running.Store(true)
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.errorCount.Add(1)
			s.logger.Error("server terminated", err)
		}
	}()

	s.logger.Info("started", "addr", listener.Addr().String())
	return nil
}

// Stop drains in-flight requests within the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "gateway", "Stop", "graceful shutdown")
	}
	return nil
}
