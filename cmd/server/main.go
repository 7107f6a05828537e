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

	"userapikey/backend/internal/auth"
	jwtpkg "userapikey/backend/internal/auth/jwt"
	"userapikey/backend/internal/config"
	"userapikey/backend/internal/health"
	"userapikey/backend/internal/logger"
	"userapikey/backend/internal/middleware"
	"userapikey/backend/internal/monitoring"
	"userapikey/backend/internal/service"
	"userapikey/backend/internal/storage"
	"userapikey/backend/internal/storage/hybrid"
	"userapikey/backend/internal/storage/memory"
	"userapikey/backend/internal/storage/postgres"
	"userapikey/backend/internal/storage/redis"
	httptransport "userapikey/backend/internal/transport/http"
)

// closer 退出时需要释放的附加连接
type closer func()

// main 启动用户 API Key 签发服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting user api key server",
		zap.String("protocol_version", service.ProtocolVersion),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	metrics := monitoring.NewMetrics()

	store, readiness, cleanup, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		for _, c := range cleanup {
			c()
		}
		if err := store.Close(); err != nil {
			log.Warn("store close warning", zap.Error(err))
		}
	}()

	healthChecker := health.NewHealthChecker(store, metrics.Registry(), log)
	for name, check := range readiness {
		healthChecker.AddReadinessCheck(name, check)
	}

	// 站点设置首次启动时写入配置中的初始策略
	configService := service.NewConfigService(store, cfg.UserAPI.Policy)
	if err := configService.Bootstrap(); err != nil {
		log.Fatal("failed to bootstrap user api policy", zap.Error(err))
	}

	keyStore := service.NewKeyStore(store, cfg.UserAPI.MaxUpsertAttempts, cfg.UserAPI.RetryInterval, metrics, log)
	issuanceService := service.NewIssuanceService(
		configService,
		service.NewPolicyGate(log),
		keyStore,
		cfg.UserAPI.ClientIDMinLength,
		metrics,
		log,
	)

	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	authService := auth.NewService(store, jwtManager, log)
	sessions := auth.NewSessionResolver(jwtManager, store, log)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
	)

	var rateLimiter *middleware.RateLimiter
	if cfg.UserAPI.RateLimitPerMinute > 0 {
		rateLimiter = middleware.NewRateLimiter(cfg.UserAPI.RateLimitPerMinute, cfg.UserAPI.RateLimitBurst, 10*time.Minute, metrics)
		log.Info("issuance rate limit enabled",
			zap.Int("per_minute", cfg.UserAPI.RateLimitPerMinute),
			zap.Int("burst", cfg.UserAPI.RateLimitBurst),
		)
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		AuthService:     authService,
		Sessions:        sessions,
		IssuanceService: issuanceService,
		KeyStore:        keyStore,
		ConfigService:   configService,
		Store:           store,
		Metrics:         metrics,
		Health:          healthChecker,
		RateLimiter:     rateLimiter,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// 定时清理限流器中的闲置访客
	if rateLimiter != nil {
		group.Go(func() error {
			log.Info("starting rate limiter cleanup task", zap.Duration("interval", time.Minute))
			_ = rateLimiter.Run(groupCtx, time.Minute)
			log.Info("rate limiter cleanup task stopped")
			return nil
		})
	}

	// 运行时长指标
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateSystemUptime()
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

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储实现
//
// 返回值:
//   - storage.Store: 存储实例（启用 Redis 时为混合存储）
//   - map[string]func(context.Context) error: 额外的就绪检查
//   - []closer: 退出时需要关闭的附加连接
//   - error: 初始化失败
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, map[string]func(context.Context) error, []closer, error) {
	readiness := make(map[string]func(context.Context) error)
	var cleanup []closer

	var durable storage.Store
	switch cfg.Database.Type {
	case "postgres", "mysql":
		if cfg.Database.DSN == "" {
			return nil, nil, nil, fmt.Errorf("database.dsn is required for %s", cfg.Database.Type)
		}

		var sqlStore *postgres.Store
		var err error
		if cfg.Database.Type == "postgres" {
			sqlStore, err = postgres.NewStore(cfg.Database.DSN)
		} else {
			sqlStore, err = postgres.NewMySQLStore(cfg.Database.DSN)
		}
		if err != nil {
			return nil, nil, nil, err
		}
		if err := sqlStore.SetPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to configure connection pool: %w", err)
		}
		durable = sqlStore
		log.Info("using database storage", zap.String("type", cfg.Database.Type))

		// PostgreSQL 额外使用独立的小连接池做就绪探测
		if cfg.Database.Type == "postgres" {
			pgClient, err := postgres.New(&cfg.Database, log)
			if err != nil {
				_ = sqlStore.Close()
				return nil, nil, nil, err
			}
			readiness["postgres"] = pgClient.Ping
			cleanup = append(cleanup, pgClient.Close)
		}
	default:
		durable = memory.NewStore()
		log.Warn("using memory storage, data is lost on restart")
	}

	if !cfg.Redis.Enabled {
		return durable, readiness, cleanup, nil
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		for _, c := range cleanup {
			c()
		}
		_ = durable.Close()
		return nil, nil, nil, err
	}
	readiness["redis"] = redisClient.Ping
	cleanup = append(cleanup, func() {
		if err := redisClient.Close(); err != nil {
			log.Warn("redis close warning", zap.Error(err))
		}
	})

	cache := redis.NewCache(redisClient.Client(), cfg.Redis.CacheTTL)
	log.Info("user api key cache enabled", zap.Duration("ttl", cfg.Redis.CacheTTL))

	return hybrid.NewStore(durable, cache, log), readiness, cleanup, nil
}
