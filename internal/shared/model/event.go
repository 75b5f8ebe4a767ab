// Package model 定义核心数据模型
//
// event.go 包含事件相关的数据模型定义：
//   - EventType：事件类型枚举（封闭目录）
//   - Event：统一事件信封
//
// 设计理念：
//   - 事件是系统内组件间唯一的通信单元
//   - 事件一经发布不可变更，逻辑更新通过携带相同 correlation_id 的新事件表达
//   - 事件类型与 Topic 一一对应：Topic = 命名空间前缀 + 事件类型
package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TopicNamespace 事件 Topic 命名空间前缀
//
// Topic 命名规则：resume-automation.<event_type>
// 例如 job.discovered 事件对应 Topic "resume-automation.job.discovered"
const TopicNamespace = "resume-automation"

// DefaultCellID 默认单元标识（逻辑分片/租户分组）
const DefaultCellID = "cell-001"

// ============================================================================
// EventType - 事件类型枚举
// ============================================================================

// EventType 事件类型
//
// 封闭集合，按领域分组。新增类型必须同时更新 AllEventTypes。
type EventType string

const (
	// 职位发现领域

	// EventJobDiscovered 职位已发现
	EventJobDiscovered EventType = "job.discovered"

	// EventJobAnalyzed 职位已分析（同时作为分析请求被 Analyzer 订阅）
	EventJobAnalyzed EventType = "job.analyzed"

	// 简历生成领域

	// EventResumeGenerationRequested 简历生成请求
	EventResumeGenerationRequested EventType = "resume.generation.requested"

	// EventResumeGenerated 简历已生成
	EventResumeGenerated EventType = "resume.generated"

	// EventResumeOptimizationRequested 简历优化请求
	EventResumeOptimizationRequested EventType = "resume.optimization.requested"

	// EventResumeOptimized 简历已优化
	EventResumeOptimized EventType = "resume.optimized"

	// 投递状态领域

	// EventApplicationSubmitted 申请已投递
	EventApplicationSubmitted EventType = "application.submitted"

	// EventApplicationResponseReceived 收到雇主回复
	EventApplicationResponseReceived EventType = "application.response.received"

	// EventApplicationStatusUpdated 申请状态变更
	EventApplicationStatusUpdated EventType = "application.status.updated"

	// 工作流生命周期领域

	// EventWorkflowStarted 工作流已启动
	EventWorkflowStarted EventType = "workflow.started"

	// EventWorkflowStepCompleted 工作流步骤完成（含步骤失败/跳过的终态通知）
	EventWorkflowStepCompleted EventType = "workflow.step.completed"

	// EventWorkflowCompleted 工作流已完成
	EventWorkflowCompleted EventType = "workflow.completed"

	// EventWorkflowFailed 工作流已失败（取消也复用此类型，data 中区分）
	EventWorkflowFailed EventType = "workflow.failed"

	// 系统/健康领域

	// EventAgentHealthCheck Agent 健康检查（兼作 Agent 错误诊断通道）
	EventAgentHealthCheck EventType = "agent.health.check"

	// EventCellStatusUpdate 单元状态上报
	EventCellStatusUpdate EventType = "cell.status.update"
)

// AllEventTypes 全部事件类型（用于校验与 Topic 预建）
var AllEventTypes = []EventType{
	EventJobDiscovered,
	EventJobAnalyzed,
	EventResumeGenerationRequested,
	EventResumeGenerated,
	EventResumeOptimizationRequested,
	EventResumeOptimized,
	EventApplicationSubmitted,
	EventApplicationResponseReceived,
	EventApplicationStatusUpdated,
	EventWorkflowStarted,
	EventWorkflowStepCompleted,
	EventWorkflowCompleted,
	EventWorkflowFailed,
	EventAgentHealthCheck,
	EventCellStatusUpdate,
}

// Valid 检查事件类型是否属于封闭目录
func (t EventType) Valid() bool {
	for _, et := range AllEventTypes {
		if t == et {
			return true
		}
	}
	return false
}

// Topic 返回事件类型对应的 Topic 名
func (t EventType) Topic() string {
	return TopicNamespace + "." + string(t)
}

// ============================================================================
// Event - 事件信封
// ============================================================================

// Event 统一事件信封
//
// 不变式：
//   - EventID 全局唯一，构造时分配，之后不变
//   - EventType 构造后不可变更
//   - 事件发布后不再修改；逻辑更新通过携带相同 CorrelationID 的新事件表达
//
// 字段说明：
//   - EventID：唯一标识（UUID）
//   - EventType：事件类型（决定 Topic）
//   - Timestamp：构造时间（UTC）
//   - UserID：所属用户（决定分区键，保证单用户事件有序）
//   - CellID：逻辑单元标识
//   - CorrelationID：因果链关联 ID（可选）
//   - Data：开放负载
//   - Metadata：开放元数据（如 severity）
type Event struct {
	EventID       string         `json:"event_id"`
	EventType     EventType      `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        int64          `json:"user_id"`
	CellID        string         `json:"cell_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Data          map[string]any `json:"data"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEvent 构造事件
//
// 自动分配 EventID、UTC 时间戳和默认 CellID。
// data 可为 nil，将初始化为空 map。
func NewEvent(eventType EventType, userID int64, data map[string]any) *Event {
	if data == nil {
		data = map[string]any{}
	}
	return &Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		CellID:    DefaultCellID,
		Data:      data,
		Metadata:  map[string]any{},
	}
}

// WithCorrelation 设置因果链关联 ID（链式调用，仅在发布前使用）
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// WithCell 设置单元标识（链式调用，仅在发布前使用）
func (e *Event) WithCell(cellID string) *Event {
	e.CellID = cellID
	return e
}

// WithMetadata 追加元数据（链式调用，仅在发布前使用）
func (e *Event) WithMetadata(key string, value any) *Event {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata[key] = value
	return e
}

// PartitionKey 返回分区键
//
// 同一用户的事件共享分区键，保证单消费组成员内按发布顺序投递。
func (e *Event) PartitionKey() string {
	return PartitionKeyForUser(e.UserID)
}

// Topic 返回事件对应的 Topic 名
func (e *Event) Topic() string {
	return e.EventType.Topic()
}

// PartitionKeyForUser 构造用户分区键
func PartitionKeyForUser(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

// ============================================================================
// 常用事件构造函数
// ============================================================================

// NewJobDiscoveredEvent 构造职位发现事件
func NewJobDiscoveredEvent(userID int64, jobURL, company, position string, extra map[string]any) *Event {
	data := map[string]any{
		"job_url":  jobURL,
		"company":  company,
		"position": position,
	}
	for k, v := range extra {
		data[k] = v
	}
	return NewEvent(EventJobDiscovered, userID, data)
}

// NewJobAnalyzedEvent 构造职位分析完成事件
func NewJobAnalyzedEvent(userID int64, jobID int64, analysisResult map[string]any) *Event {
	return NewEvent(EventJobAnalyzed, userID, map[string]any{
		"job_id":          jobID,
		"analysis_result": analysisResult,
	})
}

// NewResumeGenerationRequestedEvent 构造简历生成请求事件
func NewResumeGenerationRequestedEvent(userID int64, jobID int64, template string) *Event {
	if template == "" {
		template = "modern_professional"
	}
	return NewEvent(EventResumeGenerationRequested, userID, map[string]any{
		"job_id":   jobID,
		"template": template,
	})
}

// NewResumeGeneratedEvent 构造简历生成完成事件
func NewResumeGeneratedEvent(userID int64, jobID int64, resumeURL, versionName string) *Event {
	return NewEvent(EventResumeGenerated, userID, map[string]any{
		"job_id":       jobID,
		"resume_url":   resumeURL,
		"version_name": versionName,
	})
}

// NewWorkflowStartedEvent 构造工作流启动事件
func NewWorkflowStartedEvent(userID int64, workflowID, workflowType string) *Event {
	return NewEvent(EventWorkflowStarted, userID, map[string]any{
		"workflow_id":   workflowID,
		"workflow_type": workflowType,
	})
}

// NewWorkflowCompletedEvent 构造工作流完成事件
func NewWorkflowCompletedEvent(userID int64, workflowID string, results map[string]any) *Event {
	return NewEvent(EventWorkflowCompleted, userID, map[string]any{
		"workflow_id": workflowID,
		"results":     results,
	})
}
