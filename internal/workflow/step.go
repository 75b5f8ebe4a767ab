// Package workflow 多步骤工作流状态机与执行引擎
//
// 工作流把多个 Agent 串成一条有序流水线（如：发现职位 → 分析 →
// 生成简历 → 优化）。每个步骤声明处理角色、超时、重试预算与
// 是否必需；必需步骤重试耗尽导致整个工作流失败，可选步骤失败
// 则被跳过，流水线继续。
package workflow

import (
	"time"
)

// StepStatus 步骤状态
//
// 转移规则：
//
//	pending → running → {completed | failed}
//	failed → retrying → running    （仅当 current_retry < retry_count）
//	failed → skipped               （重试耗尽且 required=false）
//
// 超时等同于处理失败，走同一条重试/必需性规则。
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepRetrying  StepStatus = "retrying"
)

// Terminal 步骤是否已达终态
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Step 工作流中的单个步骤
//
// 规格字段来自 StepSpec，运行时字段只由所属工作流的执行
// goroutine 写入；外部读取通过 Workflow.Snapshot。
type Step struct {
	// 规格（构造后不变）
	ID         string
	Name       string
	Handler    HandlerRole
	Fn         StepFunc
	InputData  map[string]any
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
	Required   bool

	// 运行时状态
	Status       StepStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	OutputData   map[string]any
	ErrorMessage string
	CurrentRetry int
}

// start 进入 running
func (s *Step) start() {
	now := time.Now().UTC()
	s.Status = StepRunning
	s.StartedAt = &now
}

// complete 进入 completed 并记录输出
func (s *Step) complete(output map[string]any) {
	now := time.Now().UTC()
	s.Status = StepCompleted
	s.CompletedAt = &now
	if output == nil {
		output = map[string]any{}
	}
	s.OutputData = output
}

// fail 进入 failed 并记录错误
func (s *Step) fail(errMsg string) {
	now := time.Now().UTC()
	s.Status = StepFailed
	s.CompletedAt = &now
	s.ErrorMessage = errMsg
}

// markRetrying 消耗一次重试预算并标记 retrying
func (s *Step) markRetrying() {
	s.CurrentRetry++
	s.Status = StepRetrying
	s.ErrorMessage = ""
	s.CompletedAt = nil
}

// skip 进入 skipped（可选步骤失败或工作流提前终止）
func (s *Step) skip(reason string) {
	now := time.Now().UTC()
	s.Status = StepSkipped
	s.CompletedAt = &now
	s.ErrorMessage = reason
}

// canRetry 重试预算未耗尽
func (s *Step) canRetry() bool {
	return s.CurrentRetry < s.RetryCount
}

// duration 步骤耗时（未结束返回 0）
func (s *Step) duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// StepView 步骤状态快照（对外只读投影）
type StepView struct {
	StepID          string         `json:"step_id"`
	Name            string         `json:"name"`
	Handler         string         `json:"handler"`
	Status          StepStatus     `json:"status"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	CurrentRetry    int            `json:"current_retry"`
	MaxRetries      int            `json:"max_retries"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
}

// view 生成快照
func (s *Step) view() StepView {
	return StepView{
		StepID:          s.ID,
		Name:            s.Name,
		Handler:         string(s.Handler),
		Status:          s.Status,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		DurationSeconds: s.duration().Seconds(),
		CurrentRetry:    s.CurrentRetry,
		MaxRetries:      s.RetryCount,
		ErrorMessage:    s.ErrorMessage,
		OutputData:      s.OutputData,
	}
}
