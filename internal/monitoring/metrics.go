package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record/Update 方法对 nil 接收者安全，未启用监控时可直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 投递箱与令牌指标
	MailboxesCreated        prometheus.Counter
	DepositTokensRegistered prometheus.Counter
	DepositTokensRevoked    prometheus.Counter

	// 消息指标
	MessagesDeposited prometheus.Counter
	MessagesPolled    prometheus.Counter
	MessagesAcked     prometheus.Counter
	MessagesExpired   prometheus.Counter
	DepositBytes      prometheus.Histogram
	DepositsRejected  *prometheus.CounterVec

	// 过期清理指标
	ReaperRuns     *prometheus.CounterVec
	ReaperDuration prometheus.Histogram

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，注册到独立的注册表
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deaddrop_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deaddrop_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deaddrop_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deaddrop_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deaddrop_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		DepositTokensRegistered: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deaddrop_deposit_tokens_registered_total",
				Help: "Total number of newly registered deposit tokens",
			},
		),

		DepositTokensRevoked: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deaddrop_deposit_tokens_revoked_total",
				Help: "Total number of revoked deposit tokens",
			},
		),

		MessagesDeposited: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deaddrop_messages_deposited_total",
				Help: "Total number of messages accepted",
			},
		),

		MessagesPolled: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deaddrop_messages_polled_total",
				Help: "Total number of messages returned by poll",
			},
		),

		MessagesAcked: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deaddrop_messages_acked_total",
				Help: "Total number of messages deleted by ack",
			},
		),

		MessagesExpired: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deaddrop_messages_expired_total",
				Help: "Total number of expired messages purged by the reaper",
			},
		),

		DepositBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deaddrop_deposit_bytes",
				Help:    "Size of accepted message blobs in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 7),
			},
		),

		DepositsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deaddrop_deposits_rejected_total",
				Help: "Total number of rejected deposits by reason",
			},
			[]string{"reason"},
		),

		ReaperRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deaddrop_reaper_runs_total",
				Help: "Total number of reaper passes by result",
			},
			[]string{"result"},
		),

		ReaperDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deaddrop_reaper_duration_seconds",
				Help:    "Duration of reaper passes in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		SystemUptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "deaddrop_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		DatabaseConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "deaddrop_database_connections",
				Help: "Number of open database connections",
			},
		),

		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deaddrop_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deaddrop_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deaddrop_rate_limit_blocks_total",
				Help: "Total number of requests blocked by rate limiting",
			},
			[]string{"scope"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordMailboxCreated 记录投递箱创建
func (m *Metrics) RecordMailboxCreated() {
	if m == nil {
		return
	}
	m.MailboxesCreated.Inc()
}

// RecordDepositTokensRegistered 记录新登记的投递令牌数
func (m *Metrics) RecordDepositTokensRegistered(n int64) {
	if m == nil {
		return
	}
	m.DepositTokensRegistered.Add(float64(n))
}

// RecordDepositTokensRevoked 记录吊销的投递令牌数
func (m *Metrics) RecordDepositTokensRevoked(n int64) {
	if m == nil {
		return
	}
	m.DepositTokensRevoked.Add(float64(n))
}

// RecordMessageDeposited 记录一次成功投递
func (m *Metrics) RecordMessageDeposited(size int) {
	if m == nil {
		return
	}
	m.MessagesDeposited.Inc()
	m.DepositBytes.Observe(float64(size))
}

// RecordDepositRejected 记录投递被拒绝的原因
func (m *Metrics) RecordDepositRejected(reason string) {
	if m == nil {
		return
	}
	m.DepositsRejected.WithLabelValues(reason).Inc()
}

// RecordMessagesPolled 记录拉取返回的消息数
func (m *Metrics) RecordMessagesPolled(n int) {
	if m == nil {
		return
	}
	m.MessagesPolled.Add(float64(n))
}

// RecordMessagesAcked 记录确认删除的消息数
func (m *Metrics) RecordMessagesAcked(n int64) {
	if m == nil {
		return
	}
	m.MessagesAcked.Add(float64(n))
}

// RecordReaperRun 记录一次过期清理
func (m *Metrics) RecordReaperRun(deleted int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.ReaperDuration.Observe(duration.Seconds())
	if err != nil {
		m.ReaperRuns.WithLabelValues("error").Inc()
		m.ErrorsTotal.WithLabelValues("reap_failed", "reaper").Inc()
		return
	}
	m.ReaperRuns.WithLabelValues("ok").Inc()
	m.MessagesExpired.Add(float64(deleted))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(scope string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	if m == nil {
		return
	}
	m.DatabaseConnections.Set(float64(count))
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
