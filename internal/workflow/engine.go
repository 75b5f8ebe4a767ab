package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/pkg/logging"
)

// ErrWorkflowNotFound 工作流不存在（既不在活跃集也不在历史中）
var ErrWorkflowNotFound = errors.New("workflow not found")

// DiscoveryRunner 职位发现执行器
//
// 发现步骤不走事件往返：发现 Agent 不订阅任何事件，
// 引擎直接调用注入的执行器并拿到新入库的职位 ID。
type DiscoveryRunner interface {
	RunDiscovery(ctx context.Context, userID int64, searchTerms []string, location string) ([]int64, error)
}

const (
	// DefaultHistoryLimit 已结束工作流的默认保留条数
	DefaultHistoryLimit = 100

	// defaultPausePoll 暂停状态的轮询间隔
	defaultPausePoll = 200 * time.Millisecond
)

// Options 引擎构造参数
//
// Bus 必填；Discovery 为 nil 时 HandlerDiscovery 步骤按失败处理。
// Specs 缺省使用 DefaultStepSpecs，测试可注入短超时的自定义表。
type Options struct {
	CellID       string
	Bus          eventbus.Bus
	Discovery    DiscoveryRunner
	HistoryLimit int
	PausePoll    time.Duration
	Specs        map[WorkflowType][]StepSpec
}

// Engine 工作流执行引擎
//
// 每个工作流由独立的执行 goroutine 驱动；引擎自身维护活跃集、
// 历史环与挂起等待表。步骤结果通过关联事件回流：引擎以独立
// 消费组订阅结果 Topic，按 correlation_id 路由到等待中的步骤。
type Engine struct {
	cellID       string
	bus          eventbus.Bus
	discovery    DiscoveryRunner
	historyLimit int
	pausePoll    time.Duration
	specs        map[WorkflowType][]StepSpec
	logger       *logging.Logger

	mu             sync.Mutex
	active         map[string]*Workflow
	completed      map[string]*Workflow
	completedOrder []string
	pending        map[string]chan *model.Event
	createdTotal   int64
	completedTotal int64
	failedTotal    int64

	consumer eventbus.Consumer
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine 创建工作流引擎
func NewEngine(opts Options) *Engine {
	cellID := opts.CellID
	if cellID == "" {
		cellID = model.DefaultCellID
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	poll := opts.PausePoll
	if poll <= 0 {
		poll = defaultPausePoll
	}
	specs := opts.Specs
	if specs == nil {
		specs = DefaultStepSpecs()
	}
	return &Engine{
		cellID:       cellID,
		bus:          opts.Bus,
		discovery:    opts.Discovery,
		historyLimit: limit,
		pausePoll:    poll,
		specs:        specs,
		logger:       logging.Default("workflow.engine"),
		active:       map[string]*Workflow{},
		completed:    map[string]*Workflow{},
		pending:      map[string]chan *model.Event{},
		stopCh:       make(chan struct{}),
	}
}

// ============================================================
// 生命周期
// ============================================================

// Start 启动结果事件消费（注册同步完成，返回后即可接收结果）
func (e *Engine) Start(ctx context.Context) {
	resultTopics := []string{
		model.EventJobAnalyzed.Topic(),
		model.EventResumeGenerated.Topic(),
		model.EventResumeOptimized.Topic(),
	}
	e.consumer = e.bus.NewConsumer(e.cellID+"-engine-group", resultTopics)
	for _, et := range []model.EventType{
		model.EventJobAnalyzed,
		model.EventResumeGenerated,
		model.EventResumeOptimized,
	} {
		e.consumer.RegisterHandler(et, e.onResult)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.consumer.Run(ctx); err != nil {
			e.logger.WithError(err).Error("result consumer exited")
		}
	}()
	e.logger.Info("engine started", "cell_id", e.cellID, "history_limit", e.historyLimit)
}

// Stop 停止引擎：取消全部活跃工作流并等待执行 goroutine 退出
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})

	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.CancelWorkflow(id, "engine shutdown")
	}

	if e.consumer != nil {
		e.consumer.Stop()
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// onResult 按 correlation_id 把结果事件路由到等待中的步骤
func (e *Engine) onResult(ctx context.Context, event *model.Event) error {
	if event.CorrelationID == "" {
		return nil
	}
	e.mu.Lock()
	ch, ok := e.pending[event.CorrelationID]
	if ok {
		delete(e.pending, event.CorrelationID)
	}
	e.mu.Unlock()
	if !ok {
		// 非本引擎等待的事件（其他实例的结果、或步骤已超时放弃）
		return nil
	}
	select {
	case ch <- event:
	default:
	}
	return nil
}

// ============================================================
// 工作流操作
// ============================================================

// CreateWorkflow 按种类创建工作流（pending 状态，参数并入上下文）
func (e *Engine) CreateWorkflow(wtype WorkflowType, userID int64, params map[string]any) (string, error) {
	table, err := specsFor(e.specs, wtype)
	if err != nil {
		return "", err
	}
	wf := newWorkflow(wtype, userID, table)
	wf.mergeContext(params)

	e.mu.Lock()
	e.active[wf.ID] = wf
	e.createdTotal++
	e.mu.Unlock()

	e.logger.WithWorkflowID(wf.ID).Info("workflow created",
		"workflow_type", wtype, "user_id", userID, "steps", len(wf.steps))
	return wf.ID, nil
}

// StartWorkflow 启动 pending 工作流并派生执行 goroutine
func (e *Engine) StartWorkflow(ctx context.Context, workflowID string) error {
	e.mu.Lock()
	wf, ok := e.active[workflowID]
	e.mu.Unlock()
	if !ok {
		return ErrWorkflowNotFound
	}
	if !wf.markStarted() {
		return fmt.Errorf("workflow %s is not pending (status=%s)", workflowID, wf.Status())
	}

	started := model.NewWorkflowStartedEvent(wf.UserID, wf.ID, string(wf.Type)).WithCell(e.cellID)
	e.bus.Publish(ctx, started)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, wf)
	}()
	return nil
}

// CreateAndStartWorkflow 创建并立即启动
func (e *Engine) CreateAndStartWorkflow(ctx context.Context, wtype WorkflowType, userID int64, params map[string]any) (string, error) {
	id, err := e.CreateWorkflow(wtype, userID, params)
	if err != nil {
		return "", err
	}
	if err := e.StartWorkflow(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// PauseWorkflow 暂停运行中的工作流；非 running 返回 false
func (e *Engine) PauseWorkflow(workflowID string) bool {
	e.mu.Lock()
	wf, ok := e.active[workflowID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if !wf.markPaused() {
		return false
	}
	e.logger.WithWorkflowID(workflowID).Info("workflow paused")
	return true
}

// ResumeWorkflow 恢复已暂停的工作流；非 paused 返回 false
func (e *Engine) ResumeWorkflow(workflowID string) bool {
	e.mu.Lock()
	wf, ok := e.active[workflowID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if !wf.markResumed() {
		return false
	}
	e.logger.WithWorkflowID(workflowID).Info("workflow resumed")
	return true
}

// CancelWorkflow 取消工作流并立即移入历史；已终态或不存在返回 false
func (e *Engine) CancelWorkflow(workflowID string, reason string) bool {
	e.mu.Lock()
	wf, ok := e.active[workflowID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	if !wf.markCancelled(reason) {
		return false
	}

	failed := model.NewEvent(model.EventWorkflowFailed, wf.UserID, map[string]any{
		"workflow_id": wf.ID,
		"cancelled":   true,
		"reason":      reason,
	}).WithCell(e.cellID)
	e.bus.Publish(context.Background(), failed)

	e.moveToCompleted(wf, false)
	e.logger.WithWorkflowID(workflowID).Info("workflow cancelled", "reason", reason)
	return true
}

// GetWorkflowStatus 查询工作流状态（活跃集或历史）
func (e *Engine) GetWorkflowStatus(workflowID string) (View, error) {
	e.mu.Lock()
	wf, ok := e.active[workflowID]
	if !ok {
		wf, ok = e.completed[workflowID]
	}
	e.mu.Unlock()
	if !ok {
		return View{}, ErrWorkflowNotFound
	}
	return wf.Snapshot(), nil
}

// ListFilter 工作流列表过滤条件（零值字段不过滤）
type ListFilter struct {
	UserID *int64
	Status WorkflowStatus
	Type   WorkflowType
}

// ListWorkflows 按条件列出工作流（活跃 + 历史，按创建时间倒序）
func (e *Engine) ListWorkflows(filter ListFilter) []View {
	e.mu.Lock()
	all := make([]*Workflow, 0, len(e.active)+len(e.completed))
	for _, wf := range e.active {
		all = append(all, wf)
	}
	for _, wf := range e.completed {
		all = append(all, wf)
	}
	e.mu.Unlock()

	var out []View
	for _, wf := range all {
		v := wf.Snapshot()
		if filter.UserID != nil && v.UserID != *filter.UserID {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.Type != "" && v.WorkflowType != filter.Type {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UserWorkflowSummary 单用户工作流汇总
type UserWorkflowSummary struct {
	UserID             int64                  `json:"user_id"`
	Total              int                    `json:"total"`
	ByStatus           map[WorkflowStatus]int `json:"by_status"`
	AvgDurationSeconds float64                `json:"avg_duration_seconds"`
	Recent             []View                 `json:"recent"`
}

// GetUserWorkflows 汇总某用户的全部工作流（含最近 10 条明细）
func (e *Engine) GetUserWorkflows(userID int64) UserWorkflowSummary {
	views := e.ListWorkflows(ListFilter{UserID: &userID})

	summary := UserWorkflowSummary{
		UserID:   userID,
		Total:    len(views),
		ByStatus: map[WorkflowStatus]int{},
	}
	var durSum float64
	var durCount int
	for _, v := range views {
		summary.ByStatus[v.Status]++
		if v.Status == StatusCompleted {
			durSum += v.DurationSeconds
			durCount++
		}
	}
	if durCount > 0 {
		summary.AvgDurationSeconds = durSum / float64(durCount)
	}
	if len(views) > 10 {
		views = views[:10]
	}
	summary.Recent = views
	return summary
}

// EngineStats 引擎运行统计
type EngineStats struct {
	Created     int64                  `json:"created"`
	Completed   int64                  `json:"completed"`
	Failed      int64                  `json:"failed"`
	SuccessRate float64                `json:"success_rate"`
	Active      int                    `json:"active"`
	History     int                    `json:"history"`
	ByStatus    map[WorkflowStatus]int `json:"by_status"`
}

// Stats 返回引擎统计快照
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	stats := EngineStats{
		Created:   e.createdTotal,
		Completed: e.completedTotal,
		Failed:    e.failedTotal,
		Active:    len(e.active),
		History:   len(e.completedOrder),
		ByStatus:  map[WorkflowStatus]int{},
	}
	workflows := make([]*Workflow, 0, len(e.active)+len(e.completed))
	for _, wf := range e.active {
		workflows = append(workflows, wf)
	}
	for _, wf := range e.completed {
		workflows = append(workflows, wf)
	}
	e.mu.Unlock()

	for _, wf := range workflows {
		stats.ByStatus[wf.Status()]++
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished)
	}
	return stats
}

// ============================================================
// 执行
// ============================================================

// run 工作流执行主循环（每个工作流一个 goroutine，唯一写者）
func (e *Engine) run(ctx context.Context, wf *Workflow) {
	logger := e.logger.WithWorkflowID(wf.ID)

	for {
		if !e.waitWhileNotRunnable(wf) {
			// 已被取消或引擎停止；取消路径由 CancelWorkflow 收尾
			if wf.Status() != StatusCancelled {
				e.failWorkflow(ctx, wf, "engine stopped")
			}
			return
		}

		step := wf.currentStep()
		if step == nil {
			break
		}

		e.executeStep(ctx, wf, step)
		e.publishStepCompleted(ctx, wf, step)

		switch step.Status {
		case StepCompleted:
			wf.mergeContext(step.OutputData)
			wf.advance()
		case StepSkipped:
			wf.advance()
		case StepFailed:
			if wf.Status() == StatusCancelled {
				return
			}
			msg := fmt.Sprintf("required step %s failed: %s", step.ID, step.ErrorMessage)
			e.failWorkflow(ctx, wf, msg)
			return
		}
	}

	wf.markCompleted()
	completed := model.NewWorkflowCompletedEvent(wf.UserID, wf.ID, wf.contextSnapshot()).WithCell(e.cellID)
	e.bus.Publish(ctx, completed)
	e.moveToCompleted(wf, false)
	logger.Info("workflow completed",
		"workflow_type", wf.Type, "duration_s", wf.Snapshot().DurationSeconds)
}

// waitWhileNotRunnable 暂停时轮询等待；返回 false 表示取消或引擎停止
func (e *Engine) waitWhileNotRunnable(wf *Workflow) bool {
	for {
		switch wf.Status() {
		case StatusRunning:
			return true
		case StatusPaused:
			select {
			case <-time.After(e.pausePoll):
			case <-wf.cancelCh:
				return false
			case <-e.stopCh:
				return false
			}
		default:
			return false
		}
	}
}

// executeStep 执行单个步骤：重试循环 + 必需性裁决
//
// 结束时步骤处于 completed、skipped 或 failed（仅必需步骤）。
func (e *Engine) executeStep(ctx context.Context, wf *Workflow, step *Step) {
	logger := e.logger.WithWorkflowID(wf.ID)

	for {
		wf.updateStep(step.start)
		output, err := e.executeOnce(ctx, wf, step)
		if err == nil {
			wf.updateStep(func() { step.complete(output) })
			logger.Info("step completed", "step_id", step.ID, "attempt", step.CurrentRetry+1)
			return
		}

		logger.WithError(err).Warn("step attempt failed",
			"step_id", step.ID, "attempt", step.CurrentRetry+1, "retry_budget", step.RetryCount)

		if step.canRetry() && !wf.Status().Terminal() {
			wf.updateStep(step.markRetrying)
			select {
			case <-time.After(step.RetryDelay):
				continue
			case <-wf.cancelCh:
			case <-e.stopCh:
			}
			wf.updateStep(func() { step.fail("workflow interrupted during retry wait") })
		} else {
			wf.updateStep(func() { step.fail(err.Error()) })
		}

		if !step.Required {
			wf.updateStep(func() { step.skip(fmt.Sprintf("optional step failed: %s", step.ErrorMessage)) })
			logger.Info("optional step skipped", "step_id", step.ID)
		}
		return
	}
}

// executeOnce 执行步骤的单次尝试
func (e *Engine) executeOnce(ctx context.Context, wf *Workflow, step *Step) (map[string]any, error) {
	input := e.buildStepInput(wf, step)

	switch step.Handler {
	case HandlerFunc:
		return e.runLocalStep(ctx, wf, step, input)
	case HandlerDiscovery:
		return e.runDiscoveryStep(ctx, wf, step, input)
	case HandlerAnalyzer, HandlerGenerator, HandlerOptimizer:
		return e.runAgentStep(ctx, wf, step, input)
	default:
		return nil, fmt.Errorf("unknown handler role: %s", step.Handler)
	}
}

// buildStepInput 步骤输入 = 规格输入 ∪ 工作流上下文（上下文优先），
// 再叠加工作流/步骤标识
func (e *Engine) buildStepInput(wf *Workflow, step *Step) map[string]any {
	input := make(map[string]any, len(step.InputData)+4)
	for k, v := range step.InputData {
		input[k] = v
	}
	for k, v := range wf.contextSnapshot() {
		input[k] = v
	}
	input["workflow_id"] = wf.ID
	input["step_id"] = step.ID
	return input
}

// runLocalStep 执行本地函数步骤
func (e *Engine) runLocalStep(ctx context.Context, wf *Workflow, step *Step, input map[string]any) (map[string]any, error) {
	if step.Fn == nil {
		return nil, fmt.Errorf("step %s has handler=func but no function", step.ID)
	}
	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type result struct {
		output map[string]any
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := step.Fn(stepCtx, input)
		done <- result{output, err}
	}()

	select {
	case r := <-done:
		return r.output, r.err
	case <-stepCtx.Done():
		return nil, fmt.Errorf("step %s timed out after %s", step.ID, step.Timeout)
	case <-wf.cancelCh:
		return nil, errors.New("workflow cancelled")
	case <-e.stopCh:
		return nil, errors.New("engine stopped")
	}
}

// runDiscoveryStep 直接调用发现执行器
func (e *Engine) runDiscoveryStep(ctx context.Context, wf *Workflow, step *Step, input map[string]any) (map[string]any, error) {
	if e.discovery == nil {
		return nil, errors.New("no discovery runner configured")
	}
	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	terms := inputStrings(input, "search_terms")
	if len(terms) == 0 {
		terms = []string{"software engineer"}
	}
	location := inputString(input, "location")
	if location == "" {
		location = "Remote"
	}

	jobIDs, err := e.discovery.RunDiscovery(stepCtx, wf.UserID, terms, location)
	if err != nil {
		return nil, err
	}
	output := map[string]any{
		"jobs_discovered": len(jobIDs),
		"job_ids":         jobIDs,
	}
	if len(jobIDs) > 0 {
		// 下游单职位步骤默认处理第一个新职位
		output["job_id"] = jobIDs[0]
	}
	return output, nil
}

// runAgentStep 事件往返步骤：挂起等待 → 发布请求 → 等待关联结果
//
// 等待通道必须在发布之前注册：总线实现可能在 Publish 调用栈内
// 同步完成整条请求/结果链。
func (e *Engine) runAgentStep(ctx context.Context, wf *Workflow, step *Step, input map[string]any) (map[string]any, error) {
	request, err := e.buildRequestEvent(wf, step, input)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan *model.Event, 1)
	e.mu.Lock()
	e.pending[request.EventID] = resultCh
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, request.EventID)
		e.mu.Unlock()
	}()

	if !e.bus.Publish(ctx, request) {
		return nil, fmt.Errorf("publishing %s request failed", request.EventType)
	}

	select {
	case result := <-resultCh:
		return result.Data, nil
	case <-time.After(step.Timeout):
		return nil, fmt.Errorf("step %s timed out after %s waiting for %s result",
			step.ID, step.Timeout, step.Handler)
	case <-wf.cancelCh:
		return nil, errors.New("workflow cancelled")
	case <-e.stopCh:
		return nil, errors.New("engine stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// buildRequestEvent 按角色构造请求事件（携带工作流标识元数据）
func (e *Engine) buildRequestEvent(wf *Workflow, step *Step, input map[string]any) (*model.Event, error) {
	jobID := inputInt64(input, "job_id")

	var event *model.Event
	switch step.Handler {
	case HandlerAnalyzer:
		if jobID == 0 {
			return nil, fmt.Errorf("step %s requires job_id in workflow context", step.ID)
		}
		event = model.NewEvent(model.EventJobAnalyzed, wf.UserID, map[string]any{
			"job_id": jobID,
		})
	case HandlerGenerator:
		if jobID == 0 {
			return nil, fmt.Errorf("step %s requires job_id in workflow context", step.ID)
		}
		event = model.NewResumeGenerationRequestedEvent(wf.UserID, jobID, inputString(input, "template"))
	case HandlerOptimizer:
		data := map[string]any{
			"optimization_type": inputString(input, "optimization_type"),
		}
		if jobID != 0 {
			data["job_id"] = jobID
		}
		event = model.NewEvent(model.EventResumeOptimizationRequested, wf.UserID, data)
	default:
		return nil, fmt.Errorf("handler role %s has no request event", step.Handler)
	}

	return event.WithCell(e.cellID).
		WithMetadata("workflow_id", wf.ID).
		WithMetadata("step_id", step.ID), nil
}

// failWorkflow 标记失败、发布失败事件并移入历史
func (e *Engine) failWorkflow(ctx context.Context, wf *Workflow, errMsg string) {
	wf.markFailed(errMsg)
	failed := model.NewEvent(model.EventWorkflowFailed, wf.UserID, map[string]any{
		"workflow_id":   wf.ID,
		"error_message": errMsg,
	}).WithCell(e.cellID)
	e.bus.Publish(ctx, failed)
	e.moveToCompleted(wf, true)
	e.logger.WithWorkflowID(wf.ID).Error("workflow failed", "error_message", errMsg)
}

// publishStepCompleted 发布步骤终态通知
func (e *Engine) publishStepCompleted(ctx context.Context, wf *Workflow, step *Step) {
	data := map[string]any{
		"workflow_id": wf.ID,
		"step_id":     step.ID,
		"step_name":   step.Name,
		"status":      string(step.Status),
	}
	if step.ErrorMessage != "" {
		data["error_message"] = step.ErrorMessage
	}
	event := model.NewEvent(model.EventWorkflowStepCompleted, wf.UserID, data).WithCell(e.cellID)
	e.bus.Publish(ctx, event)
}

// moveToCompleted 工作流移入历史并同步执行保留上限淘汰
//
// 幂等：取消路径与执行 goroutine 可能先后到达。
func (e *Engine) moveToCompleted(wf *Workflow, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.active[wf.ID]; !ok {
		return
	}
	delete(e.active, wf.ID)
	e.completed[wf.ID] = wf
	e.completedOrder = append(e.completedOrder, wf.ID)
	if status := wf.Status(); failed || status == StatusFailed || status == StatusCancelled {
		e.failedTotal++
	} else {
		e.completedTotal++
	}

	for len(e.completedOrder) > e.historyLimit {
		oldest := e.completedOrder[0]
		e.completedOrder = e.completedOrder[1:]
		delete(e.completed, oldest)
	}
}

// ============================================================
// 输入取值辅助
// ============================================================

func inputString(input map[string]any, key string) string {
	if s, ok := input[key].(string); ok {
		return s
	}
	return ""
}

func inputInt64(input map[string]any, key string) int64 {
	switch v := input[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func inputStrings(input map[string]any, key string) []string {
	switch v := input[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
