package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/aegisshield/citation-engine/internal/catalog"
	"github.com/aegisshield/citation-engine/internal/citation"
	"github.com/aegisshield/citation-engine/internal/clock"
	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/contest"
	"github.com/aegisshield/citation-engine/internal/database"
	"github.com/aegisshield/citation-engine/internal/events"
	"github.com/aegisshield/citation-engine/internal/handlers"
	"github.com/aegisshield/citation-engine/internal/lock"
	"github.com/aegisshield/citation-engine/internal/metrics"
	"github.com/aegisshield/citation-engine/internal/middleware"
	"github.com/aegisshield/citation-engine/internal/offense"
	"github.com/aegisshield/citation-engine/internal/repository"
	"github.com/aegisshield/citation-engine/internal/scheduler"
	"github.com/aegisshield/citation-engine/internal/sequence"
)

const redisKeyPrefix = "citation-engine:"

// Server represents the citation engine server
type Server struct {
	config *config.Config
	logger *zap.Logger
	db     *database.Database
	redis  redis.UniversalClient
	clock  clock.Clock

	// Observability
	registry *prometheus.Registry
	metrics  *metrics.Collector

	// Event delivery
	hub       *events.Hub
	kafka     *events.KafkaPublisher
	publisher events.Publisher

	// Domain services
	store     *repository.Store
	catalog   *catalog.Catalog
	citations *citation.Service
	contests  *contest.Service
	scheduler *scheduler.Scheduler

	// HTTP and gRPC servers
	router       *gin.Engine
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server
}

// New creates a new server instance. redisClient may be nil when neither
// locks nor sequences are configured to use Redis.
func New(cfg *config.Config, logger *zap.Logger, db *database.Database, redisClient redis.UniversalClient) *Server {
	return &Server{
		config: cfg,
		logger: logger.Named("server"),
		db:     db,
		redis:  redisClient,
		clock:  clock.System{},
	}
}

// Initialize sets up the server components
func (s *Server) Initialize() error {
	s.logger.Info("Initializing citation engine server")

	s.initMetrics()
	s.initPublishers()

	if err := s.initServices(); err != nil {
		return errors.Wrap(err, "failed to initialize services")
	}

	if err := s.initScheduler(); err != nil {
		return errors.Wrap(err, "failed to initialize scheduler")
	}

	s.healthServer = health.NewServer()
	s.initHTTPServer()
	s.initGRPCServer()

	s.logger.Info("Server initialized successfully")
	return nil
}

func (s *Server) initMetrics() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sqlDB, err := s.db.DB().DB()
	if err != nil {
		s.logger.Warn("Connection pool unavailable for metrics", zap.Error(err))
		sqlDB = nil
	}
	s.metrics = metrics.NewCollector(s.registry, s.logger, sqlDB)
}

func (s *Server) initPublishers() {
	s.hub = events.NewHub(s.logger)
	publishers := events.Fanout{s.hub}

	if s.config.Kafka.Enabled {
		s.kafka = events.NewKafkaPublisher(s.config.Kafka, s.logger)
		publishers = append(publishers, s.kafka)
		s.logger.Info("Publishing events to Kafka",
			zap.Strings("brokers", s.config.Kafka.Brokers),
			zap.String("topic", s.config.Kafka.Topic))
	}

	s.publisher = publishers
}

func (s *Server) initServices() error {
	s.logger.Info("Initializing services")

	s.store = repository.NewStore(s.db.DB())

	locker, err := s.locker()
	if err != nil {
		return err
	}
	sequencer, err := s.sequencer()
	if err != nil {
		return err
	}

	s.catalog = catalog.NewCatalog(s.store, s.clock, s.publisher, s.metrics, s.logger)
	s.citations = citation.NewService(
		s.config.Citation,
		s.store,
		s.catalog,
		offense.NewLookup(offense.PolicyFromConfig(s.config.Offense)),
		locker,
		sequencer,
		s.clock,
		s.publisher,
		s.metrics,
		s.logger,
	)
	s.contests = contest.NewService(s.config.Contest, s.store, sequencer, s.clock, s.publisher, s.metrics, s.logger)

	return nil
}

func (s *Server) locker() (lock.Locker, error) {
	switch s.config.Citation.LockBackend {
	case "redis":
		if s.redis == nil {
			return nil, errors.New("citation.lock_backend is redis but redis is not enabled")
		}
		s.logger.Info("Using Redis offense locks")
		return lock.NewRedisLocker(s.redis, redisKeyPrefix+"lock:", s.config.Citation.LockTTL, s.config.Citation.LockTimeout, s.logger), nil
	case "", "memory":
		return lock.NewKeyedMutex(s.config.Citation.LockTimeout), nil
	default:
		return nil, errors.Errorf("unknown lock backend %q", s.config.Citation.LockBackend)
	}
}

func (s *Server) sequencer() (sequence.Sequencer, error) {
	switch s.config.Citation.SequenceBackend {
	case "redis":
		if s.redis == nil {
			return nil, errors.New("citation.sequence_backend is redis but redis is not enabled")
		}
		s.logger.Info("Using Redis number sequences")
		return sequence.NewRedisSequencer(s.redis, redisKeyPrefix+"seq:"), nil
	case "", "database":
		return sequence.NewDatabaseSequencer(s.store.Sequences), nil
	default:
		return nil, errors.Errorf("unknown sequence backend %q", s.config.Citation.SequenceBackend)
	}
}

func (s *Server) initScheduler() error {
	s.scheduler = scheduler.NewScheduler(s.logger)
	if !s.config.Scheduler.OverdueSweepEnabled {
		return nil
	}
	sweep := scheduler.NewOverdueSweepHandler(s.citations, s.config.Scheduler, s.logger)
	return s.scheduler.AddTask(s.config.Scheduler.OverdueSweepSchedule, sweep)
}

// initHTTPServer initializes the HTTP server with Gin
func (s *Server) initHTTPServer() {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.CORS(),
		middleware.Logging(s.logger),
		middleware.Metrics(s.metrics),
	)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	checks := map[string]handlers.HealthChecker{"database": s.db}
	if s.redis != nil {
		checks["redis"] = redisHealth{s.redis}
	}
	healthHandler := handlers.NewHealthHandler(checks, s.logger)

	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/ready", healthHandler.Ready)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	s.router.GET("/ws/events", middleware.Auth(s.config.Security, s.logger), s.hub.HandleWebSocket)

	v1 := s.router.Group("/api/v1",
		middleware.Auth(s.config.Security, s.logger),
		middleware.RequireActor(),
	)
	handlers.RegisterRoutes(v1, handlers.Handlers{
		Rules:     handlers.NewRuleHandler(s.catalog, s.logger),
		Citations: handlers.NewCitationHandler(s.citations, s.contests, s.logger),
		Contests:  handlers.NewContestHandler(s.contests, s.logger),
		Registry:  handlers.NewRegistryHandler(s.store.Registry, s.logger),
	})
}

// initGRPCServer initializes the gRPC server carrying the health service
func (s *Server) initGRPCServer() {
	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)

	if s.config.Debug {
		reflection.Register(s.grpcServer)
	}
}

// Router exposes the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs every component until ctx is cancelled, then shuts down
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting citation engine server")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.hub.Run(runCtx)
	}()
	go s.metrics.Start(runCtx)
	s.scheduler.Start()

	errCh := make(chan error, 2)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.GRPCPort))
	if err != nil {
		return errors.Wrap(err, "failed to listen for gRPC")
	}
	go func() {
		s.logger.Info("gRPC server listening", zap.String("address", lis.Addr().String()))
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- errors.Wrap(err, "gRPC server failed")
		}
	}()

	go func() {
		s.logger.Info("HTTP server listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Wrap(err, "HTTP server failed")
		}
	}()

	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.logger.Info("Citation engine server started successfully")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		s.logger.Error("Server component failed", zap.Error(runErr))
	}

	cancel()
	<-hubDone
	return multierr.Append(runErr, s.Shutdown())
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down citation engine server")

	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, errors.Wrap(shutdownErr, "failed to shutdown HTTP server"))
	}

	s.grpcServer.GracefulStop()
	s.scheduler.Stop()

	if s.kafka != nil {
		err = multierr.Append(err, s.kafka.Close())
	}

	s.logger.Info("Citation engine server shutdown completed")
	return err
}

type redisHealth struct {
	client redis.UniversalClient
}

func (r redisHealth) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
