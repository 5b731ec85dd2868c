package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/gso-platform/maintenance-api/api/swagger"
	"github.com/gso-platform/maintenance-api/internal/handler"
	"github.com/gso-platform/maintenance-api/internal/middleware"
	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/internal/repository"
	"github.com/gso-platform/maintenance-api/internal/service"
	"github.com/gso-platform/maintenance-api/pkg/cache"
	"github.com/gso-platform/maintenance-api/pkg/config"
	"github.com/gso-platform/maintenance-api/pkg/database"
	"github.com/gso-platform/maintenance-api/pkg/logger"
	corsmiddleware "github.com/gso-platform/maintenance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/gso-platform/maintenance-api/pkg/middleware/requestid"
)

// @title GSO Maintenance API
// @version 1.0.0
// @description Facility maintenance request approval pipeline for the General Services Office
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	} else {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Listings.CacheTTL, logr, cfg.Listings.CacheEnabled)
		defer cacheRepo.Close() //nolint:errcheck
	}

	requestRepo := repository.NewRequestRepository(db)
	userRepo := repository.NewUserRepository(db)
	referenceRepo := repository.NewReferenceRepository(db)

	authSvc := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "gso-maintenance-api",
	})

	notificationSvc := service.NewNotificationService(logr, cfg.Notifications)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	referenceSvc := service.NewReferenceService(referenceRepo, logr,
		service.WithReferenceCache(cacheSvc))

	approvalSvc := service.NewApprovalService(requestRepo, userRepo, logr, cfg.Approval,
		service.WithNotifier(notificationSvc),
		service.WithViewInvalidator(cacheSvc),
		service.WithTransitionMetrics(metricsSvc),
		service.WithEscalationPolicy(referenceSvc.EscalationByCode(cfg.Approval.EscalationTypes)))

	requestSvc := service.NewRequestService(requestRepo, referenceSvc, logr,
		service.WithRequestNotifier(notificationSvc),
		service.WithRequestViewInvalidator(cacheSvc))

	listingSvc := service.NewListingService(requestRepo, logr, cfg.Listings,
		service.WithListingCache(cacheSvc),
		service.WithLabelResolver(referenceSvc))

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(requestSvc, approvalSvc, listingSvc)
	referenceHandler := handler.NewReferenceHandler(referenceSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/status", metricsHandler.Status)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	reference := api.Group("/reference", middleware.JWT(authSvc))
	{
		reference.GET("/offices", referenceHandler.ListOffices)
		reference.GET("/positions", referenceHandler.ListPositions)
		reference.GET("/maintenance-types", referenceHandler.ListMaintenanceTypes)

		adminOnly := middleware.RequireRoles(models.RoleAdmin)
		reference.POST("/offices", adminOnly, referenceHandler.CreateOffice)
		reference.POST("/positions", adminOnly, referenceHandler.CreatePosition)
		reference.POST("/maintenance-types", adminOnly, referenceHandler.CreateMaintenanceType)
	}

	requests := api.Group("/requests", middleware.JWT(authSvc))
	{
		reviewRoles := middleware.RequireRoles(models.RoleStaff, models.RoleHead, models.RoleDirector, models.RoleAdmin)

		requests.POST("", requestHandler.Create)
		requests.GET("", requestHandler.List)
		requests.GET("/pending", reviewRoles, requestHandler.ListPending)
		requests.GET("/approval-queue", reviewRoles, requestHandler.ListApprovalQueue)
		requests.GET("/schedule", requestHandler.Schedule)
		requests.GET("/export", reviewRoles, requestHandler.Export)
		requests.GET("/:id", requestHandler.Get)
		requests.PUT("/:id", requestHandler.UpdateDetails)
		requests.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionDelete, "maintenance_request"), requestHandler.Delete)

		requests.POST("/:id/verify", middleware.RequireRoles(models.RoleStaff, models.RoleHead, models.RoleAdmin), requestHandler.Verify)
		requests.POST("/:id/approve", middleware.RequireRoles(models.RoleHead, models.RoleAdmin), requestHandler.ApproveHead)
		requests.POST("/:id/approve-director", middleware.RequireRoles(models.RoleDirector, models.RoleAdmin), requestHandler.ApproveDirector)
		requests.POST("/:id/deny", reviewRoles, requestHandler.Deny)
		requests.POST("/:id/cancel", requestHandler.Cancel)
		requests.POST("/:id/urgent", middleware.RequireRoles(models.RoleStaff, models.RoleHead, models.RoleAdmin), requestHandler.MarkUrgent)
		requests.POST("/:id/hold", middleware.RequireRoles(models.RoleStaff, models.RoleHead, models.RoleAdmin), requestHandler.MarkOnHold)
		requests.POST("/:id/clear-flag", middleware.RequireRoles(models.RoleStaff, models.RoleHead, models.RoleAdmin), requestHandler.ClearFlag)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
