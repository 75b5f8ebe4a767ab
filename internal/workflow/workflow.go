package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus 工作流状态
//
// 转移规则：
//
//	pending → running → {completed | failed | cancelled}
//	running ⇄ paused                （非终态间双向）
//	{running, paused} → cancelled   （随时可取消，立即终态）
type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusRunning   WorkflowStatus = "running"
	StatusPaused    WorkflowStatus = "paused"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
	StatusCancelled WorkflowStatus = "cancelled"
)

// Terminal 工作流是否已达终态
func (s WorkflowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Workflow 单个工作流实例
//
// 一个 Workflow 类型承载全部工作流种类：差异完全由 StepSpec
// 表描述（步骤序列、超时、重试、必需性），不靠子类分化。
//
// 并发约定：规格字段构造后只读；运行时字段由执行 goroutine
// 写入，外部（查询/暂停/取消）通过 mu 同步。
type Workflow struct {
	ID        string
	Type      WorkflowType
	UserID    int64
	CreatedAt time.Time

	mu           sync.Mutex
	status       WorkflowStatus
	startedAt    *time.Time
	completedAt  *time.Time
	steps        []*Step
	currentIndex int
	context      map[string]any
	errorMessage string

	// cancelCh 在取消时关闭，打断执行路径中的等待
	cancelCh chan struct{}
}

// newWorkflow 按步骤规格表构造工作流实例
func newWorkflow(wtype WorkflowType, userID int64, specs []StepSpec) *Workflow {
	steps := make([]*Step, 0, len(specs))
	for _, spec := range specs {
		steps = append(steps, spec.build())
	}
	return &Workflow{
		ID:        uuid.NewString(),
		Type:      wtype,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		status:    StatusPending,
		steps:     steps,
		context:   map[string]any{},
		cancelCh:  make(chan struct{}),
	}
}

// Status 当前状态
func (w *Workflow) Status() WorkflowStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// mergeContext 合并上下文（后写覆盖）
func (w *Workflow) mergeContext(data map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range data {
		w.context[k] = v
	}
}

// contextSnapshot 上下文浅拷贝
func (w *Workflow) contextSnapshot() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]any, len(w.context))
	for k, v := range w.context {
		out[k] = v
	}
	return out
}

// markStarted pending → running；非 pending 返回 false
func (w *Workflow) markStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPending {
		return false
	}
	now := time.Now().UTC()
	w.status = StatusRunning
	w.startedAt = &now
	return true
}

// markCompleted running → completed
func (w *Workflow) markCompleted() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.Terminal() {
		return
	}
	now := time.Now().UTC()
	w.status = StatusCompleted
	w.completedAt = &now
}

// markFailed → failed 并记录错误
func (w *Workflow) markFailed(errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.Terminal() {
		return
	}
	now := time.Now().UTC()
	w.status = StatusFailed
	w.completedAt = &now
	w.errorMessage = errMsg
}

// markCancelled {running, paused} → cancelled；其余状态返回 false
func (w *Workflow) markCancelled(reason string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusRunning && w.status != StatusPaused {
		return false
	}
	now := time.Now().UTC()
	w.status = StatusCancelled
	w.completedAt = &now
	w.errorMessage = reason
	close(w.cancelCh)
	return true
}

// markPaused running → paused；其余状态返回 false（幂等拒绝）
func (w *Workflow) markPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusRunning {
		return false
	}
	w.status = StatusPaused
	return true
}

// markResumed paused → running；其余状态返回 false（幂等拒绝）
func (w *Workflow) markResumed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPaused {
		return false
	}
	w.status = StatusRunning
	return true
}

// updateStep 在工作流锁内变更步骤状态
//
// 步骤运行时字段与 Snapshot 共享 mu：执行 goroutine 的每次
// 状态转移都必须经由此方法。
func (w *Workflow) updateStep(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn()
}

// advance 步骤完成后推进游标
func (w *Workflow) advance() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentIndex++
}

// currentStep 当前待执行步骤；游标越界返回 nil
func (w *Workflow) currentStep() *Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentIndex < 0 || w.currentIndex >= len(w.steps) {
		return nil
	}
	return w.steps[w.currentIndex]
}

// progress 完成步骤占比（0–100）
func (w *Workflow) progress() float64 {
	if len(w.steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range w.steps {
		if s.Status == StepCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(w.steps)) * 100
}

// durationSeconds 工作流耗时（秒）
func (w *Workflow) durationSeconds() float64 {
	if w.startedAt == nil || w.completedAt == nil {
		return 0
	}
	return w.completedAt.Sub(*w.startedAt).Seconds()
}

// View 工作流状态快照（对外只读投影）
type View struct {
	WorkflowID         string         `json:"workflow_id"`
	WorkflowType       WorkflowType   `json:"workflow_type"`
	UserID             int64          `json:"user_id"`
	Status             WorkflowStatus `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds    float64        `json:"duration_seconds"`
	ProgressPercentage float64        `json:"progress_percentage"`
	CurrentStepIndex   int            `json:"current_step_index"`
	TotalSteps         int            `json:"total_steps"`
	Context            map[string]any `json:"context"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Steps              []StepView     `json:"steps"`
}

// Snapshot 生成完整状态快照
func (w *Workflow) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	steps := make([]StepView, 0, len(w.steps))
	for _, s := range w.steps {
		steps = append(steps, s.view())
	}
	ctx := make(map[string]any, len(w.context))
	for k, v := range w.context {
		ctx[k] = v
	}

	return View{
		WorkflowID:         w.ID,
		WorkflowType:       w.Type,
		UserID:             w.UserID,
		Status:             w.status,
		CreatedAt:          w.CreatedAt,
		StartedAt:          w.startedAt,
		CompletedAt:        w.completedAt,
		DurationSeconds:    w.durationSeconds(),
		ProgressPercentage: w.progress(),
		CurrentStepIndex:   w.currentIndex,
		TotalSteps:         len(w.steps),
		Context:            ctx,
		ErrorMessage:       w.errorMessage,
		Steps:              steps,
	}
}
