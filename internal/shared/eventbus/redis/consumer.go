// Package redis 消费循环实现
package redis

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
)

// Consumer Redis Streams 消费者
//
// 一个实例对应消费组内的一个成员。组内成员名由 groupID 加随机
// 后缀构成，保证同组多进程部署时各成员身份唯一。
type Consumer struct {
	client       *redis.Client
	groupID      string
	consumerName string
	topics       []string

	mu       sync.Mutex
	handlers map[model.EventType][]eventbus.Handler
	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ eventbus.Consumer = (*Consumer)(nil)

func newConsumer(client *redis.Client, groupID string, topics []string) *Consumer {
	return &Consumer{
		client:       client,
		groupID:      groupID,
		consumerName: groupID + "-" + uuid.NewString()[:8],
		topics:       topics,
		handlers:     make(map[model.EventType][]eventbus.Handler),
		stopCh:       make(chan struct{}),
	}
}

// GroupID 返回消费组 ID
func (c *Consumer) GroupID() string {
	return c.groupID
}

// Topics 返回订阅的 Topic 列表
func (c *Consumer) Topics() []string {
	return c.topics
}

// RegisterHandler 注册事件处理器
func (c *Consumer) RegisterHandler(eventType model.EventType, handler eventbus.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// Stop 停止消费循环
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Run 阻塞消费循环
//
// 先为每个 Topic 幂等创建消费组，然后进入 XReadGroup 批量消费。
// 消息确认点在全部处理器调用之后（at-least-once）。
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroups(ctx); err != nil {
		// 启动阶段的 broker 故障对组件致命
		return err
	}

	log.Printf("[eventbus.consumer.start] group=%s consumer=%s topics=%v",
		c.groupID, c.consumerName, c.topics)

	// XReadGroup 的 streams 参数：先全部 key，再对应数量的 ">"
	streams := make([]string, 0, len(c.topics)*2)
	streams = append(streams, c.topics...)
	for range c.topics {
		streams = append(streams, ">")
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[eventbus.consumer.stop] group=%s reason=context_cancelled", c.groupID)
			return nil
		case <-c.stopCh:
			log.Printf("[eventbus.consumer.stop] group=%s reason=stop_signal", c.groupID)
			return nil
		default:
		}

		results, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.groupID,
			Consumer: c.consumerName,
			Streams:  streams,
			Count:    eventbus.DefaultReadCount,
			Block:    eventbus.DefaultReadTimeout,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			// 稳态消费失败：非致命，退避后重试
			log.Printf("[eventbus.consumer.read.failed] group=%s error=%v", c.groupID, err)
			time.Sleep(1 * time.Second)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, stream.Stream, msg)
			}
		}
	}
}

// ensureGroups 幂等创建各 Topic 的消费组
func (c *Consumer) ensureGroups(ctx context.Context) error {
	for _, topic := range c.topics {
		err := c.client.XGroupCreateMkStream(ctx, topic, c.groupID, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

// handleMessage 反序列化并分发单条消息
//
// 解析失败的消息记录日志后确认跳过，循环继续。
// 处理器错误被逐个隔离记录，全部调用完成后才确认。
func (c *Consumer) handleMessage(ctx context.Context, topic string, msg redis.XMessage) {
	defer c.ack(ctx, topic, msg.ID)

	raw, ok := msg.Values[eventbus.FieldEvent].(string)
	if !ok {
		log.Printf("[eventbus.consumer.parse.failed] group=%s msg_id=%s error=missing event field",
			c.groupID, msg.ID)
		return
	}

	var event model.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		log.Printf("[eventbus.consumer.parse.failed] group=%s msg_id=%s error=%v",
			c.groupID, msg.ID, err)
		return
	}

	c.mu.Lock()
	handlers := make([]eventbus.Handler, len(c.handlers[event.EventType]))
	copy(handlers, c.handlers[event.EventType])
	c.mu.Unlock()

	if len(handlers) == 0 {
		log.Printf("[eventbus.consumer.no_handler] group=%s event_type=%s", c.groupID, event.EventType)
		return
	}

	for _, h := range handlers {
		c.invoke(ctx, h, &event)
	}
}

// invoke 调用单个处理器，隔离 error 与 panic
func (c *Consumer) invoke(ctx context.Context, h eventbus.Handler, event *model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[eventbus.handler.panic] group=%s event_id=%s panic=%v",
				c.groupID, event.EventID, r)
		}
	}()

	if err := h(ctx, event); err != nil {
		log.Printf("[eventbus.handler.failed] group=%s event_id=%s event_type=%s error=%v",
			c.groupID, event.EventID, event.EventType, err)
	}
}

func (c *Consumer) ack(ctx context.Context, topic, msgID string) {
	if err := c.client.XAck(ctx, topic, c.groupID, msgID).Err(); err != nil {
		log.Printf("[eventbus.consumer.ack.failed] group=%s msg_id=%s error=%v", c.groupID, msgID, err)
	}
}
