// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
	"log"
	"sync"

	"resume-automation/internal/shared/model"
)

// ============================================================================
// MockBus - 进程内 EventBus 实现（用于测试）
// ============================================================================

// MockBus 进程内事件总线
//
// 投递语义与 Redis 实现一致：
//   - 不同消费组各自收到全量消息（扇出）
//   - 同一消费组只有一个成员收到消息（组内分摊，取最先创建的成员）
//   - 单成员内按发布顺序同步分发（保持单用户有序性）
//
// Publish 在调用方 goroutine 内同步分发，测试因此是确定性的。
// 处理器内再次 Publish 是允许的（事件链场景）。
type MockBus struct {
	mu        sync.Mutex
	consumers []*MockConsumer
	published []*model.Event
	failAll   bool
}

var _ Bus = (*MockBus)(nil)

// NewMockBus 创建进程内事件总线
func NewMockBus() *MockBus {
	return &MockBus{}
}

// FailPublishes 让后续 Publish 全部失败（测试发布失败路径）
func (b *MockBus) FailPublishes(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAll = fail
}

// Publish 发布事件并同步分发给订阅者
func (b *MockBus) Publish(ctx context.Context, event *model.Event) bool {
	b.mu.Lock()
	if b.failAll {
		b.mu.Unlock()
		return false
	}
	b.published = append(b.published, event)

	// 每个消费组只投递给最先创建的成员
	topic := event.Topic()
	seen := make(map[string]bool)
	var targets []*MockConsumer
	for _, c := range b.consumers {
		if seen[c.groupID] || !c.subscribes(topic) {
			continue
		}
		seen[c.groupID] = true
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.dispatch(ctx, event)
	}
	return true
}

// NewConsumer 创建消费者
func (b *MockBus) NewConsumer(groupID string, topics []string) Consumer {
	c := &MockConsumer{
		groupID:  groupID,
		topics:   topics,
		handlers: make(map[model.EventType][]Handler),
		stopCh:   make(chan struct{}),
	}
	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()
	return c
}

// Close 关闭事件总线
func (b *MockBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.consumers {
		c.Stop()
	}
	return nil
}

// Published 返回已发布事件的快照（按发布顺序）
func (b *MockBus) Published() []*model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.Event, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedOfType 返回指定类型的已发布事件
func (b *MockBus) PublishedOfType(eventType model.EventType) []*model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*model.Event
	for _, e := range b.published {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ============================================================================
// MockConsumer
// ============================================================================

// MockConsumer 进程内消费者
type MockConsumer struct {
	groupID string
	topics  []string

	mu       sync.Mutex
	handlers map[model.EventType][]Handler
	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ Consumer = (*MockConsumer)(nil)

// GroupID 返回消费组 ID
func (c *MockConsumer) GroupID() string { return c.groupID }

// Topics 返回订阅的 Topic 列表
func (c *MockConsumer) Topics() []string { return c.topics }

// RegisterHandler 注册事件处理器
func (c *MockConsumer) RegisterHandler(eventType model.EventType, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// Run 阻塞直到 Stop 或 ctx 取消（分发由 MockBus.Publish 同步完成）
func (c *MockConsumer) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-c.stopCh:
	}
	return nil
}

// Stop 停止消费者
func (c *MockConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *MockConsumer) subscribes(topic string) bool {
	for _, t := range c.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// dispatch 按注册顺序调用处理器，隔离 error 与 panic
func (c *MockConsumer) dispatch(ctx context.Context, event *model.Event) {
	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers[event.EventType]))
	copy(handlers, c.handlers[event.EventType])
	c.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[eventbus.mock.handler.panic] group=%s event_id=%s panic=%v",
						c.groupID, event.EventID, r)
				}
			}()
			if err := h(ctx, event); err != nil {
				log.Printf("[eventbus.mock.handler.failed] group=%s event_id=%s error=%v",
					c.groupID, event.EventID, err)
			}
		}()
	}
}
