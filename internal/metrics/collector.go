// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
// 所有 Record 方法对 nil 接收者安全，未启用指标时可直接传 nil
type Collector struct {
	// 渲染指标
	rendersTotal    *prometheus.CounterVec
	renderDuration  *prometheus.HistogramVec
	rendersInFlight prometheus.Gauge
	busyRejections  prometheus.Counter

	// Provider 调用指标
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	pollQueries             *prometheus.CounterVec

	// 下载指标
	transferAttempts *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	transferBytes    *prometheus.CounterVec

	// 预处理指标
	conditioning *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
// reg 为 nil 时注册到 prometheus 默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 渲染指标
	c.rendersTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Total number of render requests by outcome",
		},
		[]string{"provider", "status"},
	)

	c.renderDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "End-to-end render duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)

	c.rendersInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renders_in_flight",
			Help:      "Number of renders currently running",
		},
	)

	c.busyRejections = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_busy_rejections_total",
			Help:      "Render requests rejected because another render was in flight",
		},
	)

	// Provider 调用指标
	c.providerRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider HTTP calls",
		},
		[]string{"provider", "stage", "status"},
	)

	c.providerRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider HTTP call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"provider", "stage"},
	)

	c.pollQueries = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_queries_total",
			Help:      "Total number of job status queries by reported status",
		},
		[]string{"provider", "status"},
	)

	// 下载指标
	c.transferAttempts = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_attempts_total",
			Help:      "Total number of download attempts",
		},
		[]string{"strategy", "status"},
	)

	c.transferDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_attempt_duration_seconds",
			Help:      "Download attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	c.transferBytes = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Total bytes written by successful downloads",
		},
		[]string{"strategy"},
	)

	// 预处理指标
	c.conditioning = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conditioning_total",
			Help:      "Source image conditioning outcomes",
		},
		[]string{"outcome"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordRender 记录一次完整渲染
func (c *Collector) RecordRender(provider string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.rendersTotal.WithLabelValues(provider, outcome(err)).Inc()
	c.renderDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RenderStarted 标记渲染开始，返回的函数在结束时调用
func (c *Collector) RenderStarted() func() {
	if c == nil {
		return func() {}
	}
	c.rendersInFlight.Inc()
	return c.rendersInFlight.Dec
}

// RecordBusyRejection 记录一次并发拒绝
func (c *Collector) RecordBusyRejection() {
	if c == nil {
		return
	}
	c.busyRejections.Inc()
}

// RecordProviderRequest 记录一次 Provider HTTP 调用
func (c *Collector) RecordProviderRequest(provider string, stage types.Stage, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.providerRequestsTotal.WithLabelValues(provider, string(stage), statusClass(status)).Inc()
	c.providerRequestDuration.WithLabelValues(provider, string(stage)).Observe(duration.Seconds())
}

// RecordPollQuery 记录一次任务状态查询
func (c *Collector) RecordPollQuery(provider, status string) {
	if c == nil {
		return
	}
	c.pollQueries.WithLabelValues(provider, status).Inc()
}

// RecordTransferAttempt 记录一次下载尝试
func (c *Collector) RecordTransferAttempt(strategy string, bytes int64, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.transferAttempts.WithLabelValues(strategy, outcome(err)).Inc()
	c.transferDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if err == nil && bytes > 0 {
		c.transferBytes.WithLabelValues(strategy).Add(float64(bytes))
	}
}

// RecordConditioning 记录源图预处理结果: unchanged, corrected, failed
func (c *Collector) RecordConditioning(result string) {
	if c == nil {
		return
	}
	c.conditioning.WithLabelValues(result).Inc()
}

// outcome 将错误折叠为有限的标签集合
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return "error"
}

// statusClass 将 HTTP 状态码折叠为 2xx/4xx/5xx，0 表示未收到响应
func statusClass(code int) string {
	switch {
	case code == 0:
		return "none"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
