// Package server 工作流管理接口
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"resume-automation/internal/apiserver/auth"
	"resume-automation/internal/workflow"
)

// ============================================================================
// 请求/响应类型
// ============================================================================

type createWorkflowRequest struct {
	WorkflowType string         `json:"workflow_type"`
	UserID       int64          `json:"user_id"`
	Params       map[string]any `json:"params"`
}

type cancelWorkflowRequest struct {
	Reason string `json:"reason"`
}

// ============================================================================
// Workflow 接口处理函数
// ============================================================================

// CreateWorkflow 创建并启动工作流
//
// 路由: POST /api/v1/workflows
//
// 请求体:
//
//	{
//	  "workflow_type": "job_application",
//	  "user_id": 42,
//	  "params": {"search_terms": ["golang developer"], "location": "Remote"}
//	}
//
// 认证开启时 user_id 取自令牌，忽略请求体中的值。
//
// 响应:
//   - 201 Created: {"workflow_id": "..."}
//   - 400 Bad Request: 请求体或工作流类型非法
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if user := auth.GetAuthUser(r.Context()); user != nil {
		req.UserID = user.ID
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	id, err := h.engine.CreateAndStartWorkflow(r.Context(), workflow.WorkflowType(req.WorkflowType), req.UserID, req.Params)
	if err != nil {
		if strings.Contains(err.Error(), "unknown workflow type") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start workflow")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"workflow_id": id})
}

// GetWorkflow 查询单个工作流状态
//
// 路由: GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.GetWorkflowStatus(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrWorkflowNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get workflow")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListWorkflows 按条件列出工作流
//
// 路由: GET /api/v1/workflows
//
// 查询参数:
//   - user_id: 按用户过滤
//   - status: 按状态过滤 (pending/running/paused/completed/failed/cancelled)
//   - type: 按工作流类型过滤
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	var filter workflow.ListFilter
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		filter.UserID = &id
	}
	filter.Status = workflow.WorkflowStatus(r.URL.Query().Get("status"))
	filter.Type = workflow.WorkflowType(r.URL.Query().Get("type"))

	views := h.engine.ListWorkflows(filter)
	writeJSON(w, http.StatusOK, map[string]any{"workflows": views, "count": len(views)})
}

// PauseWorkflow 暂停工作流
//
// 路由: POST /api/v1/workflows/{id}/pause
//
// 响应:
//   - 200 OK: 已暂停
//   - 409 Conflict: 当前状态不可暂停（或不存在）
func (h *Handler) PauseWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.engine.PauseWorkflow(id) {
		writeError(w, http.StatusConflict, "workflow is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id, "status": "paused"})
}

// ResumeWorkflow 恢复工作流
//
// 路由: POST /api/v1/workflows/{id}/resume
func (h *Handler) ResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.engine.ResumeWorkflow(id) {
		writeError(w, http.StatusConflict, "workflow is not paused")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id, "status": "running"})
}

// CancelWorkflow 取消工作流
//
// 路由: POST /api/v1/workflows/{id}/cancel
//
// 请求体（可选）: {"reason": "..."}
func (h *Handler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req cancelWorkflowRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if !h.engine.CancelWorkflow(id, req.Reason) {
		writeError(w, http.StatusConflict, "workflow cannot be cancelled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id, "status": "cancelled"})
}

// GetUserWorkflows 用户工作流汇总
//
// 路由: GET /api/v1/users/{id}/workflows
func (h *Handler) GetUserWorkflows(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, h.engine.GetUserWorkflows(userID))
}

// GetStats 引擎运行统计
//
// 路由: GET /api/v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// GetTemplates 工作流模板目录
//
// 路由: GET /api/v1/templates
func (h *Handler) GetTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": workflow.Templates()})
}

// Healthz 健康检查
//
// 路由: GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
