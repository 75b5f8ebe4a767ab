// Package agent 事件驱动的专业化 Agent
//
// Agent 是订阅并处理特定事件类型的自治组件：
//   - 声明订阅的事件类型与消费组 ID
//   - 按领域逻辑处理事件
//   - 发布结果事件驱动下一环节
//   - 自行维护健康状态与错误隔离
//
// 具体 Agent（discovery/analyzer/generator/optimizer）只实现
// Agent 接口，消费循环、指标与错误上报由 Runner 承担。
package agent

import (
	"context"
	"sync"
	"time"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/pkg/logging"
)

// HealthStatus Agent 健康状态
type HealthStatus string

const (
	HealthInitializing HealthStatus = "initializing"
	HealthHealthy      HealthStatus = "healthy"
	HealthFailed       HealthStatus = "failed"
	HealthStopped      HealthStatus = "stopped"
)

// Agent 事件驱动的专业化处理单元
//
// 实现方只描述"订阅什么、如何处理"；订阅建立、错误隔离、
// 指标与诊断事件由 Runner 统一承担。
type Agent interface {
	// AgentID 返回 Agent 唯一标识（如 "scraper-agent"）
	AgentID() string

	// SubscribedEvents 返回订阅的事件类型（可为空，如纯外部触发的 Agent）
	SubscribedEvents() []model.EventType

	// ConsumerGroupID 返回消费组 ID
	//
	// 同一 Agent 的多个进程副本共享此组 ID，协作分摊消息。
	ConsumerGroupID() string

	// ProcessEvent 处理一条事件
	//
	// 返回错误表示该事件处理失败；Runner 负责记录并发布诊断事件，
	// 错误不会中断消费循环。
	ProcessEvent(ctx context.Context, event *model.Event) error
}

// Health Agent 健康快照
type Health struct {
	AgentID          string            `json:"agent_id"`
	CellID           string            `json:"cell_id"`
	Status           HealthStatus      `json:"status"`
	Running          bool              `json:"running"`
	EventsProcessed  int64             `json:"events_processed"`
	EventsFailed     int64             `json:"events_failed"`
	LastActivity     *time.Time        `json:"last_activity,omitempty"`
	SubscribedEvents []model.EventType `json:"subscribed_events"`
}

// ============================================================================
// Runner - Agent 运行时基座
// ============================================================================

// Runner 承载单个 Agent 的消费循环与运行时状态
//
// 职责：
//   - 建立消费组订阅并注册分发处理器
//   - 包装 ProcessEvent：活动时间、成功/失败计数
//   - 处理失败时发布 AGENT_HEALTH_CHECK 诊断事件
//     （correlation_id = 失败事件的 event_id，发布失败被吞掉）
type Runner struct {
	agent  Agent
	bus    eventbus.Bus
	cellID string
	logger *logging.Logger

	mu              sync.Mutex
	consumer        eventbus.Consumer
	running         bool
	status          HealthStatus
	eventsProcessed int64
	eventsFailed    int64
	lastActivity    *time.Time
}

// NewRunner 创建 Agent 运行时
func NewRunner(agent Agent, bus eventbus.Bus, cellID string) *Runner {
	if cellID == "" {
		cellID = model.DefaultCellID
	}
	return &Runner{
		agent:  agent,
		bus:    bus,
		cellID: cellID,
		status: HealthInitializing,
		logger: logging.Default("agent").WithAgentID(agent.AgentID()),
	}
}

// Agent 返回承载的 Agent
func (r *Runner) Agent() Agent { return r.agent }

// CellID 返回所属单元标识
func (r *Runner) CellID() string { return r.cellID }

// Start 启动消费循环（阻塞直到 ctx 取消或 Stop）
//
// 无订阅的 Agent（如 discovery）只阻塞等待取消，不建消费者。
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true

	subscribed := r.agent.SubscribedEvents()
	topics := make([]string, 0, len(subscribed))
	for _, et := range subscribed {
		topics = append(topics, et.Topic())
	}

	var consumer eventbus.Consumer
	if len(topics) > 0 {
		consumer = r.bus.NewConsumer(r.agent.ConsumerGroupID(), topics)
		for _, et := range subscribed {
			consumer.RegisterHandler(et, r.handleEvent)
		}
		r.consumer = consumer
	}
	r.status = HealthHealthy
	r.mu.Unlock()

	r.logger.Info("agent started",
		"group_id", r.agent.ConsumerGroupID(),
		"topics", topics)

	if consumer == nil {
		<-ctx.Done()
		return nil
	}

	err := consumer.Run(ctx)
	if err != nil {
		r.mu.Lock()
		r.status = HealthFailed
		r.mu.Unlock()
	}
	return err
}

// Stop 停止消费循环
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	r.status = HealthStopped
	if r.consumer != nil {
		r.consumer.Stop()
	}
	r.logger.Info("agent stopped")
}

// handleEvent ProcessEvent 的包装：指标 + 错误隔离 + 诊断事件
func (r *Runner) handleEvent(ctx context.Context, event *model.Event) error {
	now := time.Now().UTC()
	r.mu.Lock()
	r.lastActivity = &now
	r.mu.Unlock()

	if err := r.agent.ProcessEvent(ctx, event); err != nil {
		r.mu.Lock()
		r.eventsFailed++
		r.mu.Unlock()

		r.logger.WithEventID(event.EventID).WithError(err).Error("event processing failed",
			"event_type", event.EventType)
		r.publishDiagnostic(ctx, event, err)
		return err
	}

	r.mu.Lock()
	r.eventsProcessed++
	r.mu.Unlock()
	return nil
}

// publishDiagnostic 发布处理失败诊断事件
//
// AGENT_HEALTH_CHECK 兼作错误诊断通道；诊断发布失败不再上抛，
// 不允许监控通道故障放大为 Agent 故障。
func (r *Runner) publishDiagnostic(ctx context.Context, original *model.Event, procErr error) {
	diag := model.NewEvent(model.EventAgentHealthCheck, original.UserID, map[string]any{
		"agent_id":            r.agent.AgentID(),
		"error":               procErr.Error(),
		"original_event_id":   original.EventID,
		"original_event_type": string(original.EventType),
	}).
		WithCell(r.cellID).
		WithCorrelation(original.EventID).
		WithMetadata("severity", "error").
		WithMetadata("component", "agent")

	if ok := r.bus.Publish(ctx, diag); !ok {
		r.logger.Warn("diagnostic publish failed", "original_event_id", original.EventID)
	}
}

// Health 返回健康快照
func (r *Runner) Health() Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Health{
		AgentID:          r.agent.AgentID(),
		CellID:           r.cellID,
		Status:           r.status,
		Running:          r.running,
		EventsProcessed:  r.eventsProcessed,
		EventsFailed:     r.eventsFailed,
		LastActivity:     r.lastActivity,
		SubscribedEvents: r.agent.SubscribedEvents(),
	}
}
