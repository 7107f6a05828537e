package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 签发结果标签
const (
	OutcomeIssued      = "issued"
	OutcomeBadRequest  = "bad_request"
	OutcomeNotLoggedIn = "not_logged_in"
	OutcomeForbidden   = "forbidden"
	OutcomeError       = "error"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 用户 API Key 指标
	IssuanceTotal    *prometheus.CounterVec
	IssuanceDuration prometheus.Histogram
	UpsertConflicts  prometheus.Counter
	KeyAuthTotal     *prometheus.CounterVec
	UsersRegistered  prometheus.Counter
	PolicyUpdates    prometheus.Counter

	// 系统指标
	SystemUptime prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics 创建监控指标
//
// 每个实例使用独立的 Registry，测试中可以重复创建而不会重复注册。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userapi_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "userapi_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		IssuanceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userapi_issuance_total",
				Help: "Total number of user api key issuance attempts by outcome",
			},
			[]string{"outcome"},
		),

		IssuanceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "userapi_issuance_duration_seconds",
				Help:    "User api key issuance duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		UpsertConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "userapi_upsert_conflicts_total",
				Help: "Total number of retried key store write conflicts",
			},
		),

		KeyAuthTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userapi_key_auth_total",
				Help: "Total number of requests authenticated with a user api key",
			},
			[]string{"result"},
		),

		UsersRegistered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "userapi_users_registered_total",
				Help: "Total number of users registered",
			},
		),

		PolicyUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "userapi_policy_updates_total",
				Help: "Total number of user api policy updates",
			},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "userapi_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userapi_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "userapi_panics_total",
				Help: "Total number of panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userapi_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIssuance 记录一次签发请求的结果
func (m *Metrics) RecordIssuance(outcome string, duration time.Duration) {
	m.IssuanceTotal.WithLabelValues(outcome).Inc()
	m.IssuanceDuration.Observe(duration.Seconds())
}

// RecordUpsertConflict 记录一次写入冲突
func (m *Metrics) RecordUpsertConflict() {
	m.UpsertConflicts.Inc()
}

// RecordKeyAuth 记录 User-Api-Key 认证结果
func (m *Metrics) RecordKeyAuth(result string) {
	m.KeyAuthTotal.WithLabelValues(result).Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	m.UsersRegistered.Inc()
}

// RecordPolicyUpdate 记录策略更新
func (m *Metrics) RecordPolicyUpdate() {
	m.PolicyUpdates.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime() {
	m.SystemUptime.Set(time.Since(m.startTime).Seconds())
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
