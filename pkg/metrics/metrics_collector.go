package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 支付网关指标
	gatewayRequestsTotal   *prometheus.CounterVec
	gatewayRequestDuration *prometheus.HistogramVec

	// 对账指标
	settlementsTotal        *prometheus.CounterVec
	partialSettlementsTotal prometheus.Counter
	sweeperOrdersTotal      *prometheus.CounterVec
	sweeperPassDuration     prometheus.Histogram

	// 锁 / 重试队列
	lockWaitDuration *prometheus.HistogramVec
	retryQueueTotal  *prometheus.CounterVec
}

// NewMetricsCollector 在给定 Registerer 上注册全部指标
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)

	return &MetricsCollector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint"},
		),

		gatewayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_gateway_requests_total",
				Help: "Total number of payment gateway calls",
			},
			[]string{"channel", "operation", "result"},
		),

		gatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_request_duration_seconds",
				Help:    "Payment gateway call duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"channel", "operation"},
		),

		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_settlements_total",
				Help: "Settlement attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		partialSettlementsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_partial_settlement_total",
				Help: "Settlements whose commit outcome is unknown",
			},
		),

		sweeperOrdersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_sweeper_orders_total",
				Help: "Expired orders examined by the sweeper",
			},
			[]string{"outcome"},
		),

		sweeperPassDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_sweeper_pass_duration_seconds",
				Help:    "Duration of one sweeper pass",
				Buckets: prometheus.DefBuckets,
			},
		),

		lockWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lock_wait_duration_seconds",
				Help:    "Time spent waiting for a lock",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"scope", "result"},
		),

		retryQueueTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_retry_tasks_total",
				Help: "Reconciliation retry tasks by result",
			},
			[]string{"result"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, getStatusCategory(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordGatewayCall 记录网关调用，result 为 ok / unavailable / rejected / error
func (m *MetricsCollector) RecordGatewayCall(channel, operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequestsTotal.WithLabelValues(channel, operation, result).Inc()
	m.gatewayRequestDuration.WithLabelValues(channel, operation).Observe(duration.Seconds())
}

// RecordSettlement source: push / poll / retry
func (m *MetricsCollector) RecordSettlement(source, outcome string) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(source, outcome).Inc()
}

func (m *MetricsCollector) RecordPartialSettlement() {
	if m == nil {
		return
	}
	m.partialSettlementsTotal.Inc()
}

// RecordSweep 记录一次扫描结果
func (m *MetricsCollector) RecordSweep(resolved, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweeperOrdersTotal.WithLabelValues("resolved").Add(float64(resolved))
	m.sweeperOrdersTotal.WithLabelValues("failed").Add(float64(failed))
	m.sweeperPassDuration.Observe(duration.Seconds())
}

func (m *MetricsCollector) RecordLockWait(scope string, acquired bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "acquired"
	if !acquired {
		result = "timeout"
	}
	m.lockWaitDuration.WithLabelValues(scope, result).Observe(duration.Seconds())
}

// RecordRetryTask result: enqueued / dropped / done / retried / dead
func (m *MetricsCollector) RecordRetryTask(result string) {
	if m == nil {
		return
	}
	m.retryQueueTotal.WithLabelValues(result).Inc()
}

// getStatusCategory 获取状态分类
func getStatusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

var (
	globalCollector *MetricsCollector
	globalOnce      sync.Once
)

// GetGlobalCollector 获取注册在默认 Registerer 上的全局指标收集器
func GetGlobalCollector() *MetricsCollector {
	globalOnce.Do(func() {
		globalCollector = NewMetricsCollector(prometheus.DefaultRegisterer)
	})
	return globalCollector
}
