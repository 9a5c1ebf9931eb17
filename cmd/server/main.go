package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/cache"
	"github.com/coachconnect/booking-engine/internal/config"
	"github.com/coachconnect/booking-engine/internal/database"
	"github.com/coachconnect/booking-engine/internal/handlers"
	"github.com/coachconnect/booking-engine/internal/middleware"
	"github.com/coachconnect/booking-engine/internal/models"
	"github.com/coachconnect/booking-engine/internal/services"
	"github.com/coachconnect/booking-engine/internal/utils"
	"github.com/coachconnect/booking-engine/pkg/jwt"
	"github.com/coachconnect/booking-engine/pkg/validator"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting trainer booking engine")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Database
	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Cache: Redis when configured, otherwise process-local
	var store cache.Cache
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Failed to configure redis: %v", err)
		}
		redisCache := cache.NewRedisCache(client)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisCache.Ping(pingCtx); err != nil {
			logger.Fatalf("Failed to ping redis: %v", err)
		}
		cancelPing()
		defer client.Close()
		store = redisCache
		logger.Info("Using redis cache")
	} else {
		store = cache.NewMemoryCache()
		logger.Warn("REDIS_URL not set, using in-memory cache (single instance only)")
	}

	// Repositories
	trainerRepo := database.NewTrainerRepository(db)
	availabilityRepo := database.NewAvailabilityRepository(db)
	bookingRepo := database.NewBookingRepository(db)
	groupRepo := database.NewGroupSessionRepository(db)
	accountRepo := database.NewAccountRepository(db)
	creditRepo := database.NewPackageCreditRepository(db)
	intentRepo := database.NewPaymentIntentRepository(db)
	reconciliationRepo := database.NewReconciliationRepository(db)
	auditRepo := database.NewPaymentAuditRepository(db, logger)
	notificationRepo := database.NewNotificationRepository(db)

	// Services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)

	dispatcher := services.NewQueueDispatcher(notificationRepo, cfg.Jobs.DispatcherWorkers, cfg.Jobs.DispatcherQueueSize, logger)
	dispatcher.Start()

	pricing := services.NewPricingPolicy(cfg.Booking)
	calc := services.SlotCalculator{SlotDuration: cfg.Booking.SlotDuration, HorizonDays: cfg.Booking.HorizonDays}

	availabilityService := services.NewAvailabilityService(
		trainerRepo,
		availabilityRepo,
		bookingRepo,
		store,
		calc,
		cfg.Booking.Location(),
		cfg.Cache.AvailabilityTTL,
		logger,
	)
	phoneValidator, err := validator.NewPhoneValidator(cfg.Booking.PhoneCountryCode)
	if err != nil {
		logger.Fatalf("Invalid PHONE_DEFAULT_COUNTRY_CODE: %v", err)
	}
	identityService := services.NewIdentityService(accountRepo, phoneValidator, cfg.Security.BcryptCost, logger)
	bookingService := services.NewBookingService(
		trainerRepo,
		bookingRepo,
		groupRepo,
		identityService,
		availabilityService,
		pricing,
		dispatcher,
		cfg.Booking.NumberPrefix,
		logger,
	)
	creditService := services.NewCreditService(creditRepo, bookingService, identityService, availabilityService, dispatcher, logger)

	gateway := services.NewHTTPGateway(&cfg.Payment, logger)
	if !gateway.IsConfigured() {
		logger.Warn("PAYMENT_SECRET_KEY not set, payment gateway calls will fail")
	}
	auditService := services.NewAuditService(auditRepo, logger)
	paymentService := services.NewPaymentService(services.PaymentServiceDeps{
		Bookings:        bookingRepo,
		Intents:         intentRepo,
		Reconciliations: reconciliationRepo,
		Trainers:        trainerRepo,
		Identity:        identityService,
		Credits:         creditService,
		Availability:    availabilityService,
		Gateway:         gateway,
		Audit:           auditService,
		Pricing:         pricing,
		Retry:           services.NewRetryPolicy(cfg.Payment),
		Dispatcher:      dispatcher,
		Currency:        cfg.Payment.Currency,
		PendingTTL:      cfg.Booking.PendingTTL,
		Logger:          logger,
	})
	rateLimitService := services.NewRateLimitService(store, cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)

	// Jobs can always be run from the admin API; the schedule is optional
	cronService := services.NewCronService(paymentService, cfg.Jobs, logger)
	if cfg.Jobs.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	}

	// Handlers
	availabilityHandler := handlers.NewAvailabilityHandler(availabilityService, logger)
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, logger)
	creditHandler := handlers.NewCreditHandler(creditService, logger)
	authHandler := handlers.NewAuthHandler(identityService, jwtService, logger)
	adminHandler := handlers.NewAdminHandler(cronService, auditService, logger)
	var jobs handlers.JobStatusReporter
	if cfg.Jobs.Enabled {
		jobs = cronService
	}
	healthHandler := handlers.NewHealthHandler(db, jobs, version, logger)

	// Router
	router := gin.New()
	if err := utils.ConfigureProxies(router, cfg.Server.TrustedProxies); err != nil {
		logger.WithError(err).Fatal("Invalid TRUSTED_PROXIES")
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestMeta())
	if cfg.Security.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     append(cfg.CORS.AllowedHeaders, middleware.RequestIDHeader),
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Check)

	limit := middleware.RateLimit(rateLimitService, logger)
	requireAuth := middleware.AuthMiddleware(jwtService)
	optionalAuth := middleware.OptionalAuth(jwtService)

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(limit)
		{
			auth.POST("/login", authHandler.Login)
		}

		// Public availability
		trainers := v1.Group("/trainers")
		{
			trainers.GET("/:id/availability", availabilityHandler.GetDay)
			trainers.GET("/:id/availability/month", availabilityHandler.GetMonth)
		}

		// Trainer schedule management
		me := v1.Group("/trainers/me")
		me.Use(requireAuth, middleware.RequireRole(models.RoleTrainer))
		{
			me.PUT("/schedule", availabilityHandler.SaveSchedule)
			me.POST("/exceptions", availabilityHandler.AddException)
			me.DELETE("/exceptions/:id", availabilityHandler.RemoveException)
		}

		// Bookings accept guests
		bookings := v1.Group("/bookings")
		bookings.Use(optionalAuth, limit)
		{
			bookings.POST("/quote", bookingHandler.Quote)
			bookings.POST("", bookingHandler.Create)
			bookings.GET("/:ref", bookingHandler.Get)
			bookings.POST("/:ref/cancel", bookingHandler.Cancel)
		}
		v1.POST("/bookings/:ref/complete", requireAuth, middleware.RequireRole(models.RoleTrainer), bookingHandler.Complete)

		payments := v1.Group("/payments")
		payments.Use(optionalAuth, limit)
		{
			payments.POST("/intents", paymentHandler.CreateIntent)
			payments.POST("/confirm", paymentHandler.Confirm)
		}

		packages := v1.Group("/packages")
		packages.Use(requireAuth, limit)
		{
			packages.POST("/intents", paymentHandler.CreatePackageIntent)
			packages.POST("/confirm", paymentHandler.ConfirmPackage)
		}

		credits := v1.Group("/credits")
		credits.Use(requireAuth, limit)
		{
			credits.GET("", creditHandler.List)
			credits.POST("/:id/redeem", creditHandler.Redeem)
		}

		groups := v1.Group("/group-sessions")
		{
			groups.POST("", requireAuth, middleware.RequireRole(models.RoleTrainer), bookingHandler.CreateGroupSession)
			groups.POST("/:id/join", optionalAuth, limit, bookingHandler.JoinGroupSession)
			groups.POST("/:id/leave", requireAuth, bookingHandler.LeaveGroupSession)
		}

		admin := v1.Group("/admin")
		admin.Use(requireAuth, middleware.RequireRole(models.RoleAdmin))
		{
			admin.GET("/jobs", adminHandler.JobStatus)
			admin.POST("/jobs/:job/run", adminHandler.RunJob)
			admin.GET("/payments/:intent/audit", adminHandler.PaymentTrail)
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Payment.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if cfg.Jobs.Enabled {
		cronService.Stop()
	}
	// Drain queued events after the last request that could enqueue one
	dispatcher.Stop(ctx)

	logger.Info("Server exited successfully")
}
