package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kittypau/internal/config"
	"kittypau/internal/database"
	httpapi "kittypau/internal/http"
	"kittypau/internal/logger"
	"kittypau/internal/mqtt"
	"kittypau/internal/notify"
	"kittypau/internal/repository"
	"kittypau/internal/service"
	"kittypau/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "kittypau-fleet")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Redis 不可用时聚合缓存整体降级为直接计算
	var kv store.KV
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("Redis unavailable, overview cache disabled", zap.Error(err))
	} else {
		kv = store.NewRedisKV(redisClient)
	}

	heartbeatsRepo := repository.NewPostgresHeartbeatsRepo(db)
	devicesRepo := repository.NewPostgresDevicesRepo(db)
	auditRepo := repository.NewPostgresAuditEventsRepo(db, log)
	readingsRepo := repository.NewPostgresReadingsRepo(db)

	var notifier service.OutageNotifier
	if cfg.Webhook.OutageURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Webhook.OutageURL, cfg.Webhook.Timeout, log)
	}

	heartbeatService := service.NewHeartbeatService(heartbeatsRepo, log)
	healthCheckService := service.NewHealthCheckService(
		cfg.HealthCheck, heartbeatsRepo, devicesRepo, auditRepo, kv, notifier, log)
	timelineService := service.NewTimelineService(cfg.HealthCheck, devicesRepo, auditRepo, readingsRepo, log)
	overviewService := service.NewOverviewService(
		cfg.HealthCheck, cfg.Cache.TTL, cfg.DedupWindow,
		heartbeatsRepo, devicesRepo, auditRepo, timelineService, kv, log)
	auditService := service.NewAuditService(cfg.DedupWindow, auditRepo, log)

	router := httpapi.NewRouter(log)
	httpapi.RegisterRoutes(router, cfg.Auth, heartbeatService, healthCheckService, overviewService, auditService, log)

	var consumer *mqtt.HeartbeatConsumer
	if cfg.MQTT.Enabled {
		c, err := mqtt.NewHeartbeatConsumer(cfg.MQTT, heartbeatService, log)
		if err != nil {
			log.Warn("MQTT consumer unavailable, HTTP ingest only", zap.Error(err))
		} else if err := c.Start(); err != nil {
			log.Warn("MQTT subscribe failed, HTTP ingest only", zap.Error(err))
			c.Stop()
		} else {
			consumer = c
		}
	}

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if consumer != nil {
		consumer.Stop()
	}
}
