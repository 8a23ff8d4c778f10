package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/application/services"
	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/internal/infrastructure/messaging"
	"github.com/nexuscrm/mycrm/internal/infrastructure/ratelimit"
	"github.com/nexuscrm/mycrm/internal/infrastructure/ws"
	"github.com/nexuscrm/mycrm/internal/interfaces/rest"
	"github.com/nexuscrm/mycrm/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	cachePrefix   = "crm:cache:"
	limiterPrefix = "crm:rl:"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log, cfg.Server.IsRelease())
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Server.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(db, logger)
		if err != nil {
			return err
		}
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	checks := []rest.ReadinessCheck{{Name: "database", Check: db.PingContext}}

	var (
		store   cache.Cache
		limiter ratelimit.Limiter
		pruner  services.LimiterPruner
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("Connected to redis", zap.String("addr", cfg.Redis.Addr))
		store = cache.NewRedisCache(client, cachePrefix)
		limiter = ratelimit.NewRedisLimiter(client, limiterPrefix)
		checks = append(checks, rest.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	} else {
		local := ratelimit.NewLocalLimiter()
		store = cache.NewMemoryCache()
		limiter = local
		pruner = local
	}

	hub := ws.NewHub(logger, cfg.Server.CORSOrigins)
	defer hub.Close()

	var sink services.EventSink
	if cfg.Kafka.Enabled() {
		kafka := messaging.NewKafkaSink(cfg.Kafka, logger)
		defer kafka.Close()
		sink = kafka
		logger.Info("Publishing record events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	svcMgr := services.NewServiceManager(services.Dependencies{
		DB:       db,
		Config:   cfg,
		Cache:    store,
		Notifier: hub,
		Sink:     sink,
		Limiter:  pruner,
		Logger:   logger,
	})
	if err := svcMgr.StartWorkers(); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	router, err := rest.NewRouter(rest.RouterDeps{
		Config:   cfg,
		Services: svcMgr,
		Hub:      hub,
		Limiter:  limiter,
		Checks:   checks,
		Logger:   logger,
	})
	if err != nil {
		svcMgr.StopWorkers(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.Int("port", cfg.Server.Port), zap.String("mode", gin.Mode()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		svcMgr.StopWorkers(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	svcMgr.StopWorkers(shutdownCtx)
	logger.Info("Server exited")
	return nil
}
