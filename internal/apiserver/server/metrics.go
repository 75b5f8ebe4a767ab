// Package server Prometheus 指标导出
package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resume-automation/internal/workflow"
)

// Metrics 包含所有 API Server 指标
//
// 使用独立 Registry 注册（而非全局默认 Registry），同进程可安全
// 构造多个实例。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// WebSocket 指标
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec
}

// NewMetrics 创建指标实例
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		WSConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
		WSMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "WebSocket messages sent by event type",
			},
			[]string{"event_type"},
		),
	}
}

// ObserveEngine 注册工作流引擎统计的拉取式指标
func (m *Metrics) ObserveEngine(engine *workflow.Engine) {
	for _, g := range []struct {
		name string
		help string
		get  func(workflow.EngineStats) float64
	}{
		{"workflows_created_total", "Workflows created since start",
			func(s workflow.EngineStats) float64 { return float64(s.Created) }},
		{"workflows_completed_total", "Workflows completed since start",
			func(s workflow.EngineStats) float64 { return float64(s.Completed) }},
		{"workflows_failed_total", "Workflows failed or cancelled since start",
			func(s workflow.EngineStats) float64 { return float64(s.Failed) }},
		{"workflows_active", "Workflows currently active",
			func(s workflow.EngineStats) float64 { return float64(s.Active) }},
	} {
		get := g.get
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "resume_automation",
				Subsystem: "engine",
				Name:      g.name,
				Help:      g.help,
			},
			func() float64 { return get(engine.Stats()) },
		))
	}
}

// HTTPHandler 返回 /metrics 的导出处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument HTTP 指标采集中间件
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := metricPath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// metricPath 把路径中的资源 ID 折叠为占位符，控制标签基数
func metricPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if i < 4 {
			continue
		}
		// /api/v1/<resource>/ 之后的段视为 ID
		if p != "" && p != "pause" && p != "resume" && p != "cancel" &&
			p != "events" && p != "workflows" {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// statusWriter 捕获响应状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack 透传底层连接劫持（WebSocket 升级需要）
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
