package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/lectern/internal/api/http"
	"github.com/GriffinCanCode/lectern/internal/api/middleware"
	"github.com/GriffinCanCode/lectern/internal/api/ws"
	"github.com/GriffinCanCode/lectern/internal/domain/lecture"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/config"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/logging"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/lectern/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/lectern/internal/providers/content"
	"github.com/GriffinCanCode/lectern/internal/providers/http/client"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	handler    http.Handler
	httpServer *http.Server
	manager    *lecture.Manager
	tracer     *tracing.Tracer
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	logger.Info("Initializing Lectern server",
		zap.String("port", cfg.Server.Port),
		zap.String("content_base_url", cfg.Content.BaseURL),
	)

	// Initialize metrics first (needed by other components)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)
	logger.Info("Performance monitoring initialized")

	tracer := tracing.New("lectern", logger.Logger)
	logger.Info("Tracing initialized")

	backend := client.NewClient(client.Options{
		BaseURL: cfg.Content.BaseURL,
		Timeout: cfg.Content.Timeout,
		RPS:     cfg.Content.RequestsPerSecond,
		OnBreakerChange: func(name string, from, to resilience.State) {
			logger.Warn("Content backend breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	loader := content.NewLoader(backend, logger.Named("loader"))
	loader.OnLoad = metrics.RecordLoad

	manager := lecture.NewManager(
		loader,
		func(token string) lecture.Fetcher { return loader.ScriptFetcher(token) },
		managerOptions(cfg),
		logger.Named("lecture"),
	).WithMetrics(metrics).WithTracer(tracer)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(manager, metrics, logger.Named("api"))
	wsHandler := ws.NewHandler(manager, metrics, logger.Named("ws"))

	// Register routes
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Lecture views
	router.POST("/lectures/:id/view", handlers.MountLecture)
	router.GET("/views/:viewId", handlers.GetView)
	router.POST("/views/:viewId/events", handlers.DispatchEvent)
	router.DELETE("/views/:viewId", handlers.UnmountView)

	// WebSocket
	router.GET("/views/:viewId/stream", wsHandler.HandleStream)

	// Metrics endpoints
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	router.GET("/metrics/json", handlers.MetricsJSON)

	handler := compress(router)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		handler: handler,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		manager: manager,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

func managerOptions(cfg *config.Config) lecture.Options {
	opts := lecture.DefaultOptions()
	opts.Executor.PollAttempts = cfg.Executor.PollAttempts
	opts.Executor.PollInterval = cfg.Executor.PollInterval
	opts.Executor.ExternalTimeout = cfg.Executor.ExternalTimeout

	opts.Sandbox = sandbox.DefaultConfig()
	opts.Sandbox.Timeout = cfg.Executor.ScriptTimeout
	opts.Sandbox.LegacyMirrors = cfg.Executor.LegacyMirrors
	opts.Sandbox.ConsoleLimit = cfg.Executor.ConsoleLimit
	return opts
}

// compress gzips responses (markup snapshots can be large). WebSocket
// upgrades bypass it since the stream needs the raw connection.
func compress(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler returns the complete HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Manager returns the lecture view manager
func (s *Server) Manager() *lecture.Manager {
	return s.manager
}

// Run starts the HTTP server and blocks until it stops. A graceful
// Shutdown makes Run return nil.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, tears down the active lecture view and
// flushes tracing and logs
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
	}

	s.manager.Close(ctx)
	s.logger.Info("Lecture views released")

	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
