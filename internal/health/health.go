package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"userapikey/backend/internal/storage"
)

const (
	// checkTimeout 单项检查的超时时间
	checkTimeout = 3 * time.Second
	// maxGoroutines 存活检查的 goroutine 上限
	maxGoroutines = 10000
)

// HealthChecker 健康检查器
//
// 存活检查只关心进程本身；就绪检查覆盖存储以及可选的 Redis / 连接池。
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger

	mu     sync.RWMutex
	checks map[string]healthcheck.Check
}

// NewHealthChecker 创建健康检查器，检查状态同时导出到 Prometheus
func NewHealthChecker(store storage.Store, registry prometheus.Registerer, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewMetricsHandler(registry, "userapi"),
		logger: logger,
		checks: make(map[string]healthcheck.Check),
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	hc.AddReadinessCheck("store", func(context.Context) error {
		return store.Health()
	})

	return hc
}

// AddReadinessCheck 注册就绪检查，检查函数会收到带超时的上下文
func (hc *HealthChecker) AddReadinessCheck(name string, check func(ctx context.Context) error) {
	wrapped := healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return check(ctx)
	}, checkTimeout)

	hc.mu.Lock()
	hc.checks[name] = wrapped
	hc.mu.Unlock()

	hc.health.AddReadinessCheck(name, wrapped)
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部就绪检查并返回汇总结果
//
// 返回值:
//   - map[string]string: 检查名到 "OK" 或 "ERROR: ..." 的映射，附带 timestamp
//   - bool: 全部检查通过时为 true
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	healthy := true
	for _, name := range names {
		hc.mu.RLock()
		check := hc.checks[name]
		hc.mu.RUnlock()

		if err := check(); err != nil {
			healthy = false
			results[name] = fmt.Sprintf("ERROR: %v", err)
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "OK"
	}
	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return results, healthy
}
