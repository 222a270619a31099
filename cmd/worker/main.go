// Package main runs the background job worker (Teams recording sync to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/artiefy/classroom-backend/config"
	"github.com/artiefy/classroom-backend/internal/graph"
	"github.com/artiefy/classroom-backend/internal/meetings"
	"github.com/artiefy/classroom-backend/internal/videosync"
	"github.com/artiefy/classroom-backend/internal/worker"
	"github.com/artiefy/classroom-backend/pkg/database"
	"github.com/artiefy/classroom-backend/pkg/queue"
	"github.com/artiefy/classroom-backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		VideoBucket:     cfg.AWS.VideoBucket,
		VideoPrefix:     cfg.AWS.VideoPrefix,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	meetingRepo := meetings.NewRepository(pool)
	graphClient := graph.NewClient(graph.Config{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
	}, rdb.Client, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	engine := videosync.NewEngine(meetingRepo, graphClient, s3Client, cfg.Sync.DownloadTimeout, logger)
	processor := worker.NewVideoSyncProcessor(engine, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
