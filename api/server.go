package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/egress-gateway/api/handlers"
	"github.com/OldStager01/egress-gateway/api/middleware"
	"github.com/OldStager01/egress-gateway/api/websocket"
	"github.com/OldStager01/egress-gateway/internal/extractor"
	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/database"
	"github.com/OldStager01/egress-gateway/pkg/database/queries"
	"github.com/OldStager01/egress-gateway/pkg/models"
	"github.com/OldStager01/egress-gateway/pkg/validation"
)

// maxBodyBytes bounds request bodies; no endpoint takes a large payload.
const maxBodyBytes = 1 << 20

// Gateway is everything the HTTP surface needs from the core.
type Gateway interface {
	handlers.Readiness
	handlers.StatusSource
	middleware.Doer
	SubscribeAllEvents() <-chan *models.Event
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     *config.Config
	gateway    Gateway
	extractor  extractor.Extractor
	db         *database.DB
	metrics    *metrics.Metrics
	wsHub      *websocket.Hub
	wsBridge   *websocket.EventBridge
}

type ServerOptions struct {
	Extractor extractor.Extractor
	// DB enables the history endpoints and the database health check.
	DB      *database.DB
	Metrics *metrics.Metrics
}

func NewServer(cfg *config.Config, gw Gateway, opts ServerOptions) *Server {
	if cfg.App.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Extractor == nil {
		opts.Extractor = extractor.NewHTTPExtractor(extractor.HTTPExtractorConfig{
			Endpoint: cfg.Extractor.Endpoint,
			Timeout:  cfg.Extractor.Timeout,
		})
	}

	s := &Server{
		router:    gin.New(),
		config:    cfg,
		gateway:   gw,
		extractor: opts.Extractor,
		db:        opts.DB,
		metrics:   opts.Metrics,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.CORS(middleware.CORSFromConfig(s.config.API.CORS)))
	s.router.Use(middleware.TraceID())
	s.router.Use(middleware.RequestLogger())
	s.router.Use(middleware.RequestSizeLimit(maxBodyBytes))
}

func (s *Server) setupRoutes() {
	var eventsRepo *queries.ScalingEventRepository
	var transitionsRepo *queries.TransitionRepository
	var samplesRepo *queries.PoolSampleRepository
	if s.db != nil {
		eventsRepo = queries.NewScalingEventRepository(s.db.DB)
		transitionsRepo = queries.NewTransitionRepository(s.db.DB)
		samplesRepo = queries.NewPoolSampleRepository(s.db.DB)
	}

	healthHandler := handlers.NewHealthHandler(s.gateway, s.db)
	statusHandler := handlers.NewStatusHandler(s.gateway)
	metricsHandler := handlers.NewMetricsHandler(s.metrics, eventsRepo, transitionsRepo, samplesRepo)
	videoHandler := handlers.NewVideoHandler(s.extractor)

	limiter := middleware.NewEndpointRateLimiter()
	limiter.AddEndpoint("/scaler/reconcile", 6, time.Minute)

	// Probes
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/health/ready", healthHandler.Ready)
	s.router.GET("/health/live", healthHandler.Live)

	// Observability
	s.router.GET("/status", statusHandler.Status)
	s.router.GET("/status/members", statusHandler.Members)
	s.router.GET("/metrics", metricsHandler.Prometheus)
	s.router.GET("/events/scaling", metricsHandler.GetScalingEvents)
	s.router.GET("/events/scaling/stats", metricsHandler.GetScalingStats)
	s.router.GET("/events/members/:id", metricsHandler.GetMemberTransitions)
	s.router.GET("/events/pool", metricsHandler.GetPoolHistory)
	s.router.POST("/scaler/reconcile", limiter.Middleware(), statusHandler.Reconcile)

	if s.config.WebSocket.Enabled {
		s.wsHub = websocket.NewHub(&s.config.WebSocket)
		go s.wsHub.Run()

		s.wsBridge = websocket.NewEventBridge(s.wsHub, s.gateway.SubscribeAllEvents(), s.gateway, 0)
		s.wsBridge.Start()

		s.router.GET("/ws", websocket.ServeWebSocket(s.wsHub))
	}

	// Admitted request path
	v1 := s.router.Group("/v1")
	{
		v1.GET("/video/:id", middleware.ValidParam("id", validation.ValidateVideoID), middleware.Admission(s.gateway), videoHandler.Get)
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.API.Port)

	idle := s.config.API.IdleTimeout
	if idle == 0 {
		idle = 60 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.API.ReadTimeout,
		WriteTimeout: s.config.API.WriteTimeout,
		IdleTimeout:  idle,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop the event bridge first
	if s.wsBridge != nil {
		s.wsBridge.Stop()
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) WebSocketHub() *websocket.Hub {
	return s.wsHub
}
