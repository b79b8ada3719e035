package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/autotrace/internal/api/http"
	"github.com/GriffinCanCode/autotrace/internal/api/middleware"
	"github.com/GriffinCanCode/autotrace/internal/demo"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/agent"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/instrument"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	agent    *agent.Agent
	store    *demo.Store
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
}

type options struct {
	logger    *logging.Logger
	agentOpts []agent.Option
}

// Option configures NewServer.
type Option func(*options)

// WithLogger replaces the logger built from configuration.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAgentOptions passes options through to agent.Start.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(o *options) { o.agentOpts = append(o.agentOpts, opts...) }
}

// NewServer creates a new server instance. Tracing and the demo
// dependencies degrade instead of failing: an unreachable collector or
// database is logged and the server still starts.
func NewServer(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.Logging, cfg.Tracing.ServiceName)
	}

	logger.Info("Initializing autotrace demo host",
		zap.String("port", cfg.Server.Port),
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("endpoint", cfg.Tracing.Endpoint),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	tracingAgent, err := agent.Start(ctx, cfg.Tracing, logger.Logger,
		append([]agent.Option{agent.WithMetrics(metrics)}, o.agentOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to start tracing: %w", err)
	}
	tracer := tracingAgent.Tracer()
	propagate := instrument.WithPropagation(cfg.Tracing.Propagation)

	var store *demo.Store
	if cfg.Database.Driver != "" {
		store, err = demo.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, tracer)
		if err != nil {
			logger.Warn("User store unavailable", zap.String("driver", cfg.Database.Driver), zap.Error(err))
			store = nil
		} else {
			logger.Info("User store ready", zap.String("driver", cfg.Database.Driver))
		}
	}

	var todos *demo.TodoClient
	if cfg.Demo.TodoAPIURL != "" {
		todos = demo.NewTodoClient(cfg.Demo.TodoAPIURL, cfg.Demo.Timeout, tracer, propagate)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Recovery sits outside the tracing middleware so a panic is recorded on
	// the span before it is turned into a 500.
	router.Use(gin.Recovery())
	router.Use(instrument.GinMiddleware(tracer, propagate))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.Server.RateLimit {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.Server.RateLimitRPS),
			zap.Int("burst", cfg.Server.RateLimitBurst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		}))
	}

	handlers := apihttp.NewHandlers(store, todos, tracingAgent, logger.Logger)
	registerRoutes(router, handlers, registry)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		http:     newHTTPServer(cfg.Server, router),
		agent:    tracingAgent,
		store:    store,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		registry: registry,
	}, nil
}

func registerRoutes(router *gin.Engine, h *apihttp.Handlers, registry *prometheus.Registry) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	// Users
	router.POST("/users", h.CreateUser)
	router.GET("/users", h.ListUsers)
	router.GET("/users/:id", h.GetUser)
	router.PATCH("/users/:id", h.UpdateUser)
	router.DELETE("/users/:id", h.DeleteUser)
	router.POST("/auth/login", h.Login)

	// External API
	router.GET("/external/todos", h.ListTodos)
	router.GET("/external/users/:id", h.GetRemoteUser)

	// Tracing
	router.GET("/debug/tracing", h.TracingStatus)
	router.GET("/debug/traces", h.ListTraces)
	router.GET("/debug/traces/:id", h.GetTrace)
	router.GET("/debug/spans/stream", h.StreamSpans)
	router.POST("/debug/flush", h.FlushSpans)

	router.GET("/metrics", gin.WrapH(monitoring.Handler(registry)))
}

func newHTTPServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newLogger(cfg config.LogConfig, service string) *logging.Logger {
	if cfg.Development {
		return logging.NewDevelopment()
	}
	l, err := logging.New(logging.Config{
		Level:       cfg.Level,
		OutputPaths: []string{"stderr"},
		Service:     service,
	})
	if err != nil {
		return logging.NewDefault()
	}
	return l
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Agent returns the tracing agent.
func (s *Server) Agent() *agent.Agent { return s.agent }

// Metrics returns the server metrics.
func (s *Server) Metrics() *monitoring.Metrics { return s.metrics }

// Run starts the HTTP server and blocks until it stops. A server stopped by
// Shutdown returns nil.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, closes the store and flushes every
// span still queued.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := s.agent.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush spans: %w", err))
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
