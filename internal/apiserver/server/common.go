// Package server 提供 HTTP API 处理器
//
// 本包实现简历自动化协调核心的 RESTful API，包括：
//   - 工作流管理接口（创建、查询、暂停/恢复/取消）
//   - 用户工作流汇总与引擎统计接口
//   - WebSocket 实时推送工作流生命周期事件
//   - 健康检查与 Prometheus 指标
//
// 文件组织：
//   - common.go: Handler 定义与通用工具函数
//   - workflows.go: 工作流相关接口
//   - events.go: WebSocket 事件网关
//   - metrics.go: Prometheus 指标
package server

import (
	"encoding/json"
	"net/http"

	"resume-automation/internal/apiserver/auth"
	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/storage"
	"resume-automation/internal/workflow"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到对应的处理函数
//   - 把工作流操作委托给执行引擎
//   - 协调 WebSocket 事件网关与指标采集
type Handler struct {
	engine *workflow.Engine
	store  storage.Store

	authCfg auth.Config

	eventGateway *EventGateway
	metrics      *Metrics
}

// NewHandler 创建 Handler 实例
//
// bus 用于事件网关订阅工作流生命周期事件；传 nil 则不启用
// WebSocket 推送（测试场景）。
func NewHandler(engine *workflow.Engine, store storage.Store, bus eventbus.Bus, cellID string, authCfg auth.Config) *Handler {
	h := &Handler{
		engine:  engine,
		store:   store,
		authCfg: authCfg,
		metrics: NewMetrics("resume_automation"),
	}
	h.metrics.ObserveEngine(engine)
	if bus != nil {
		h.eventGateway = NewEventGateway(bus, cellID, h.metrics)
	}
	return h
}

// Routes 组装完整路由与中间件链
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	auth.NewHandler(h.store, h.authCfg).RegisterRoutes(mux)

	mux.HandleFunc("POST /api/v1/workflows", h.CreateWorkflow)
	mux.HandleFunc("GET /api/v1/workflows", h.ListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.GetWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{id}/pause", h.PauseWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{id}/resume", h.ResumeWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancel", h.CancelWorkflow)
	mux.HandleFunc("GET /api/v1/users/{id}/workflows", h.GetUserWorkflows)
	mux.HandleFunc("GET /api/v1/stats", h.GetStats)
	mux.HandleFunc("GET /api/v1/templates", h.GetTemplates)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", h.metrics.HTTPHandler())

	if h.eventGateway != nil {
		mux.HandleFunc("GET /api/v1/workflows/{id}/events", h.eventGateway.ServeWS)
	}

	return auth.Middleware(h.authCfg)(h.metrics.Instrument(mux))
}

// Close 释放网关资源
func (h *Handler) Close() {
	if h.eventGateway != nil {
		h.eventGateway.Stop()
	}
}

// ============================================================================
// 响应工具
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
