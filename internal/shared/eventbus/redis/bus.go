// Package redis Redis Streams 事件总线实现
//
// 映射关系：
//   - Topic → Stream key（如 resume-automation.job.discovered）
//   - 消费组 → Redis 消费组（XGroupCreateMkStream / XReadGroup / XAck）
//   - 分区键 → 消息的 key 字段（单 Stream 天然全序，
//     同一用户的事件对组内单个成员保持发布顺序）
//
// 故障语义：
//   - 启动时 Ping 失败 → 致命，向调用方返回错误
//   - 稳态发布/消费失败 → 非致命，记录日志并退避重试
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
)

// Bus Redis Streams 事件总线
type Bus struct {
	client *redis.Client
}

var _ eventbus.Bus = (*Bus)(nil)

// NewBus 从 URL 创建事件总线
//
// 连接失败（Ping 超时）视为组件启动致命错误，直接返回。
func NewBus(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/EventBus] Connected to %s", opts.Addr)
	return &Bus{client: client}, nil
}

// NewBusFromClient 从已有客户端创建事件总线（连接已由调用方验证）
func NewBusFromClient(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// Publish 发布事件
//
// 任何失败记录日志并返回 false，永不向调用方抛错。
func (b *Bus) Publish(ctx context.Context, event *model.Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[eventbus.publish.failed] event_id=%s error=marshal: %v", event.EventID, err)
		return false
	}

	args := &redis.XAddArgs{
		Stream: event.Topic(),
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			eventbus.FieldKey:   event.PartitionKey(),
			eventbus.FieldEvent: string(payload),
		},
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		log.Printf("[eventbus.publish.failed] event_id=%s topic=%s error=%v",
			event.EventID, event.Topic(), err)
		return false
	}

	return true
}

// NewConsumer 创建消费者
func (b *Bus) NewConsumer(groupID string, topics []string) eventbus.Consumer {
	return newConsumer(b.client, groupID, topics)
}

// Close 关闭 Redis 连接
func (b *Bus) Close() error {
	return b.client.Close()
}
