package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deaddrop/backend/internal/auth"
	"deaddrop/backend/internal/config"
	"deaddrop/backend/internal/cursor"
	"deaddrop/backend/internal/health"
	"deaddrop/backend/internal/logger"
	"deaddrop/backend/internal/monitoring"
	"deaddrop/backend/internal/ratelimit"
	"deaddrop/backend/internal/reaper"
	"deaddrop/backend/internal/service"
	"deaddrop/backend/internal/storage"
	"deaddrop/backend/internal/storage/memory"
	redisstore "deaddrop/backend/internal/storage/redis"
	sqlstore "deaddrop/backend/internal/storage/sql"
	httptransport "deaddrop/backend/internal/transport/http"
)

const version = "1.0.0"

// main 启动投递箱中继的 HTTP 服务与过期清理任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting deaddrop relay",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	startedAt := time.Now()

	// 初始化存储层
	var (
		store storage.Store
		sqlDB *sqlstore.Store
	)
	if cfg.Database.Type != "" {
		sqlDB, err = sqlstore.NewStore(ctx, cfg.Database)
		if err != nil {
			log.Fatal("failed to initialize database storage", zap.String("type", cfg.Database.Type), zap.Error(err))
		}
		store = sqlDB
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Warn("using memory storage (development mode), messages are lost on restart")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close storage", zap.Error(err))
		}
	}()

	// 限流：配置了 Redis 时多实例共享计数，Redis 故障时退回进程内限流
	var (
		limiter     ratelimit.Limiter
		redisClient *redisstore.Client
	)
	if cfg.RateLimit.RequestsPerMinute > 0 {
		local := ratelimit.NewLocalLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		limiter = local

		if cfg.Redis.Address != "" {
			redisClient, err = redisstore.New(ctx, cfg.Redis, log)
			if err != nil {
				log.Warn("Redis unavailable, using in-process rate limiting", zap.Error(err))
			} else {
				limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, local, log)
				defer func() { _ = redisClient.Close() }()
			}
		}
	}

	var redisPinger health.Pinger
	if redisClient != nil {
		redisPinger = health.PingerFunc(redisClient.Ping)
	}
	healthChecker := health.NewHealthChecker(store, redisPinger, log)

	authority, err := auth.NewAuthority(cfg.Server.Secret)
	if err != nil {
		log.Fatal("failed to initialize token authority", zap.Error(err))
	}
	cursors := cursor.NewCodec(cfg.Server.Secret)

	mailboxService := service.NewMailboxService(store, authority, cfg.Relay, metrics)
	messageService := service.NewMessageService(store, authority, cursors, cfg.Relay, metrics)
	expiryReaper := reaper.New(store, cfg.Relay.ReapInterval, log, metrics)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		MessageService: messageService,
		HealthChecker:  healthChecker,
		Metrics:        metrics,
		Limiter:        limiter,
		Logger:         log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 过期消息清理 goroutine
	group.Go(func() error {
		return expiryReaper.Run(groupCtx)
	})

	// 系统指标 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateSystemUptime(time.Since(startedAt))
				if sqlDB != nil {
					metrics.UpdateDatabaseConnections(sqlDB.Stats().OpenConnections)
				}
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}
