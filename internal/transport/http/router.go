package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"userapikey/backend/internal/auth"
	"userapikey/backend/internal/config"
	"userapikey/backend/internal/health"
	"userapikey/backend/internal/middleware"
	"userapikey/backend/internal/monitoring"
	"userapikey/backend/internal/service"
	"userapikey/backend/internal/storage"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	AuthService     *auth.Service
	Sessions        *auth.SessionResolver
	IssuanceService *service.IssuanceService
	KeyStore        *service.KeyStore
	ConfigService   *service.ConfigService
	Store           storage.Store
	Metrics         *monitoring.Metrics
	Health          *health.HealthChecker
	RateLimiter     *middleware.RateLimiter // 签发接口限流，nil 表示不限流
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "HEAD", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserAPIKey},
		ExposeHeaders:    []string{"Content-Length", HeaderAuthAPIVersion},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	userAPIKeyHandler := NewUserAPIKeyHandler(deps.IssuanceService, deps.KeyStore, deps.Sessions, deps.Logger)
	authHandler := NewAuthHandler(deps.AuthService, deps.Metrics, deps.Logger)
	configHandler := NewConfigHandler(deps.ConfigService, deps.Metrics, deps.Logger)

	// 创建中间件
	jwtAuth := middleware.NewJWTAuth(deps.Sessions, deps.Logger)
	keyAuth := middleware.NewUserAPIKeyAuth(deps.KeyStore, deps.Store, deps.Metrics, deps.Logger)

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		results, healthy := deps.Health.CheckHealth()
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, results)
	})
	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// ========== User API Key 签发握手 ==========
	router.HEAD("/user-api-key/new", userAPIKeyHandler.Probe)

	issueChain := []gin.HandlerFunc{middleware.BodySizeLimit(middleware.IssuanceBodyLimit)}
	if deps.RateLimiter != nil {
		issueChain = append(issueChain, deps.RateLimiter.Middleware("issuance"))
	}
	issueChain = append(issueChain, userAPIKeyHandler.Issue)
	router.POST("/user-api-key", issueChain...)

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/logout", authHandler.Logout)
			authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
			authRoutes.GET("/user-api-keys/:client_id", jwtAuth.RequireAuth(), userAPIKeyHandler.ForClient)
		}

		// ========== User API Key（客户端使用签发的密钥调用） ==========
		keyRoutes := v1.Group("/user-api-key")
		keyRoutes.Use(keyAuth.RequireUserAPIKey())
		{
			keyRoutes.GET("/me", userAPIKeyHandler.Current)
		}

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(jwtAuth.RequireAuth(), middleware.RequireAdmin())
		{
			adminRoutes.GET("/user-api/policy", configHandler.GetPolicy)
			adminRoutes.PUT("/user-api/policy", configHandler.UpdatePolicy)
			adminRoutes.POST("/user-api/policy/reset", configHandler.ResetPolicy)
		}
	}

	return router
}
