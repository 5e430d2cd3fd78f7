package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/services"
	httphandlers "streamgate/internal/handlers/http"
	"streamgate/internal/infrastructure/middleware"
	"streamgate/internal/infrastructure/monitoring"
	"streamgate/internal/infrastructure/push"
	repositories "streamgate/internal/infrastructure/repositories"
	"streamgate/pkg/config"
	"streamgate/pkg/distributed"
	"streamgate/pkg/logger"
	"streamgate/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/streamgate/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "streamgate",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("failed to initialize tracing", "error", err)
	}

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	userRepo := repoFactory.CreateUserRepository()
	permRepo := repoFactory.CreatePermissionRepository()
	sessionRepo := repoFactory.CreateSessionRepository()

	// Distributed locks only exist when Redis backs the repositories
	var lockManager *distributed.Manager
	if client := repoFactory.RedisClient(); client != nil {
		lockManager = distributed.NewManager(client, "streamgate:lock")
	}

	// Initialize services
	metricsService := services.NewMetricsService()
	profileCache := services.NewProfileCache(userRepo, cfg.Availability.ProfileCacheTTL)
	defer profileCache.Stop()

	availabilityService := services.NewAvailabilityService(permRepo, sessionRepo, profileCache, metricsService, log)
	sessionService := services.NewSessionService(sessionRepo, userRepo, lockManager, metricsService, log)
	userService := services.NewUserService(userRepo, profileCache, log)
	permissionService := services.NewPermissionService(permRepo, userRepo, log)
	authService := services.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
		metricsService,
		log,
	)
	tokenService := services.NewTokenService(
		services.MediaTokenConfig{
			AppID:  cfg.Media.AppID,
			Secret: cfg.Media.TokenSecret,
			TTL:    cfg.Media.TokenTTL,
		},
		services.ConferenceTokenConfig{
			Domain: cfg.Conference.Domain,
			AppID:  cfg.Conference.AppID,
			Secret: cfg.Conference.Secret,
			TTL:    cfg.Conference.TokenTTL,
		},
	)

	// Push channel for availability updates and forced logouts
	pushServer := push.NewWebSocketServer(
		authService,
		availabilityService,
		metricsService,
		cfg.Auth.SessionCheckInterval,
		log,
	)

	// Root context for background workers
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Reconciliation sweep for session exclusivity
	if cfg.Reconciler.Enabled {
		go services.RunReconciler(rootCtx, sessionService, cfg.Reconciler.Interval, log)
		log.Infow("reconciler started", "interval", cfg.Reconciler.Interval)
	}

	// Monitoring
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(sessionRepo, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 2*time.Second)
	}

	if cfg.Monitoring.PrometheusEnabled {
		collector := monitoring.NewPrometheusCollector()
		go collector.Run(rootCtx, metricsService, sessionService, pushServer, cfg.Monitoring.MetricsInterval)
	}

	// Initialize HTTP handlers
	authHandler := httphandlers.NewAuthHandler(authService)
	userHandler := httphandlers.NewUserHandler(userService)
	permissionHandler := httphandlers.NewPermissionHandler(permissionService)
	sessionHandler := httphandlers.NewSessionHandler(sessionService, availabilityService)
	tokenHandler := httphandlers.NewTokenHandler(tokenService)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	// Public routes
	public := router.Group("/api/v1")
	{
		public.POST("/auth/login", authHandler.Login)
		public.POST("/auth/refresh", authHandler.RefreshToken)
	}

	// Authenticated routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	{
		api.POST("/auth/logout", authHandler.Logout)
		api.GET("/auth/session", authHandler.Session)

		// Subscriber surface: the device session guard runs on every call
		subscriber := api.Group("")
		subscriber.Use(middleware.DeviceSessionMiddleware(authService))
		{
			subscriber.GET("/availability", sessionHandler.Availability)
			subscriber.POST("/tokens/rtc", tokenHandler.MintRTCToken)
			subscriber.POST("/tokens/conference", tokenHandler.MintConferenceToken)
		}

		// Publisher surface
		publisher := api.Group("")
		publisher.Use(middleware.RequireRole(domain.RolePublisher, domain.RoleAdmin))
		{
			publisher.POST("/sessions", sessionHandler.StartSession)
		}
		api.POST("/sessions/:id/end", sessionHandler.EndSession)
		api.GET("/sessions/:id", sessionHandler.GetSession)

		// Admin surface
		admin := api.Group("")
		admin.Use(middleware.RequireRole(domain.RoleAdmin))
		{
			admin.POST("/users", userHandler.CreateUser)
			admin.GET("/users", userHandler.ListUsers)
			admin.GET("/users/:id", userHandler.GetUser)
			admin.PATCH("/users/:id/active", userHandler.SetActive)

			admin.POST("/permissions", permissionHandler.Grant)
			admin.POST("/permissions/bulk", permissionHandler.GrantBulk)
			admin.PATCH("/permissions/:id", permissionHandler.SetFlags)
			admin.DELETE("/permissions/:id", permissionHandler.Revoke)
			admin.GET("/permissions/subscriber/:id", permissionHandler.ListBySubscriber)
			admin.GET("/permissions/publisher/:id", permissionHandler.ListByPublisher)

			admin.GET("/sessions", sessionHandler.ListActive)
			admin.POST("/sessions/reconcile", sessionHandler.Reconcile)
		}
	}

	// Push channel (token authenticated inside the handler)
	router.GET("/ws", gin.WrapF(pushServer.HandleWebSocket))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	// Readiness endpoint with real dependency checks
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := healthChecker.CheckAll(ctx)
		if status.Status != "healthy" {
			c.JSON(503, status)
			return
		}
		c.JSON(200, status)
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting StreamGate server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down StreamGate server...")
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error shutting down tracer", "error", err)
		}
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("StreamGate server stopped")
}
