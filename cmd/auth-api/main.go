package main

import (
	"context"
	"errors"
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

	_ "github.com/mirelle-dev/authgate-api/api/swagger"
	"github.com/mirelle-dev/authgate-api/internal/handler"
	"github.com/mirelle-dev/authgate-api/internal/middleware"
	"github.com/mirelle-dev/authgate-api/internal/repository"
	"github.com/mirelle-dev/authgate-api/internal/service"
	"github.com/mirelle-dev/authgate-api/pkg/cache"
	"github.com/mirelle-dev/authgate-api/pkg/config"
	"github.com/mirelle-dev/authgate-api/pkg/database"
	"github.com/mirelle-dev/authgate-api/pkg/logger"
	corsmiddleware "github.com/mirelle-dev/authgate-api/pkg/middleware/cors"
	reqidmiddleware "github.com/mirelle-dev/authgate-api/pkg/middleware/requestid"
)

// @title AuthGate API
// @version 1.0.0
// @description Session and token lifecycle service with rotating refresh sessions
// @BasePath /
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

	// Redis is optional at startup: the denylist degrades to pure
	// signature+expiry checks without it.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, access-token denylist disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	codec, err := service.NewTokenCodec(service.TokenCodecConfig{
		Secret:    cfg.JWT.Secret,
		AccessTTL: cfg.JWT.Expiration,
		Issuer:    cfg.JWT.Issuer,
		Audience:  cfg.JWT.Audience,
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to init token codec", "error", err)
	}

	metricsSvc := service.NewMetricsService()

	auditSvc := service.NewAuditService(auditRepo, service.AuditConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
	}, logr)
	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	sessionSvc := service.NewSessionService(sessionRepo, userRepo, codec, service.SessionPolicy{
		RefreshTTL:   cfg.Session.RefreshExpiration,
		BindClientIP: cfg.Session.BindClientIP,
	}, logr, metricsSvc, auditSvc)
	if cfg.Session.SweepEnabled {
		sessionSvc.StartSweeper(ctx, cfg.Session.SweepInterval)
	}

	validate := validator.New()
	var authSvc *service.AuthService
	if redisClient != nil {
		authSvc = service.NewAuthService(userRepo, sessionSvc, codec, repository.NewDenylistRepository(redisClient), validate, logr, auditSvc)
	} else {
		authSvc = service.NewAuthService(userRepo, sessionSvc, codec, nil, validate, logr, auditSvc)
	}
	userSvc := service.NewUserService(userRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc, sessionSvc, userSvc, handler.CookieSettings{
		Domain:        cfg.Cookie.Domain,
		Secure:        cfg.Cookie.Secure,
		AccessMaxAge:  cfg.JWT.Expiration,
		SessionMaxAge: cfg.Session.RefreshExpiration,
	})
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.RequestLogger(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	r.POST("/users/register", authHandler.Register)
	r.POST("/users/login", authHandler.Login)
	r.POST("/auth/refresh", authHandler.Refresh)

	authRequired := r.Group("/", middleware.Auth(authSvc))
	authRequired.POST("/auth/logout", authHandler.Logout)
	authRequired.POST("/auth/change-password", authHandler.ChangePassword)
	authRequired.GET("/auth/me", authHandler.Me)
	authRequired.GET("/users", userHandler.List)
	authRequired.GET("/users/:id", userHandler.Get)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
