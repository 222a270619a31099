// Package main runs the classroom backend API server: auth, class meetings,
// door access control and Teams recording sync.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/artiefy/classroom-backend/config"
	"github.com/artiefy/classroom-backend/internal/access"
	"github.com/artiefy/classroom-backend/internal/auth"
	"github.com/artiefy/classroom-backend/internal/esp32"
	"github.com/artiefy/classroom-backend/internal/graph"
	"github.com/artiefy/classroom-backend/internal/meetings"
	"github.com/artiefy/classroom-backend/internal/middleware"
	"github.com/artiefy/classroom-backend/internal/videosync"
	"github.com/artiefy/classroom-backend/internal/worker"
	"github.com/artiefy/classroom-backend/pkg/database"
	"github.com/artiefy/classroom-backend/pkg/queue"
	"github.com/artiefy/classroom-backend/pkg/redis"
	"github.com/artiefy/classroom-backend/pkg/response"
	"github.com/artiefy/classroom-backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			VideoBucket:     cfg.AWS.VideoBucket,
			VideoPrefix:     cfg.AWS.VideoPrefix,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Door access
	doorClient := esp32.NewClient(esp32.Config{
		BaseURL:       cfg.ESP32.BaseURL,
		APIKey:        cfg.ESP32.APIKey,
		DoorTimeout:   cfg.ESP32.DoorTimeout,
		HealthTimeout: cfg.ESP32.HealthTimeout,
	}, logger)
	accessRepo := access.NewRepository(pool)
	accessService := access.NewService(authRepo, accessRepo, doorClient, logger)
	accessHandler := access.NewHandler(accessService, logger)

	// Class meetings
	meetingRepo := meetings.NewRepository(pool)
	meetingHandler := meetings.NewHandler(meetingRepo, logger)

	// Recording sync (Teams -> S3 -> meeting rows)
	graphClient := graph.NewClient(graph.Config{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
	}, rdb.Client, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	var syncHandler *videosync.Handler
	var syncProcessor *worker.VideoSyncProcessor
	if s3Client != nil {
		engine := videosync.NewEngine(meetingRepo, graphClient, s3Client, cfg.Sync.DownloadTimeout, logger)
		syncHandler = videosync.NewHandler(engine, jobQueue, logger)
		syncProcessor = worker.NewVideoSyncProcessor(engine, jobQueue, logger)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		// Users (super-admin only)
		api.GET("/users", middleware.RequireRole("super-admin"), authHandler.List)
		api.PUT("/users/:id/subscription", middleware.RequireRole("super-admin"), authHandler.UpdateSubscription)

		// Door access
		api.POST("/access/register", accessHandler.Register)
		api.GET("/access/logs", middleware.RequireRole("educator", "super-admin"), accessHandler.Logs)
		api.GET("/access/door/health", middleware.RequireRole("educator", "super-admin"), accessHandler.DoorHealth)

		// Class meetings
		api.POST("/meetings", middleware.RequireRole("educator", "super-admin"), meetingHandler.Create)
		api.GET("/meetings/:id", meetingHandler.GetByID)
		api.GET("/courses/:id/meetings", meetingHandler.ListByCourse)

		// Recording sync
		if syncHandler != nil {
			api.POST("/videos/sync", middleware.RequireRole("educator", "super-admin"), syncHandler.Sync)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (queued recording sync jobs)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if syncProcessor != nil {
		go syncProcessor.Run(workerCtx)
		logger.Info("video sync worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
