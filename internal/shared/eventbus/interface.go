// Package eventbus 事件总线抽象接口
//
// 提供事件的发布/订阅能力，当前由 Redis Streams 消费组实现。
//
// 语义约定：
//   - Publish 永不向调用方抛错：传输失败记录日志并返回 false，
//     发布失败不允许拖垮任何发布方组件
//   - 同一 group_id 的消费者协作分摊消息（组内每条消息只处理一次）；
//     不同 group_id 各自独立收到全量消息（扇出）
//   - 投递保证为 at-least-once：确认点在处理之后，崩溃可能导致重投
//   - 分区键为 user_<user_id>：同一用户的事件对单个组内成员保持发布顺序
package eventbus

import (
	"context"

	"resume-automation/internal/shared/model"
)

// Handler 事件处理函数
//
// 返回的错误由消费循环记录日志，不会中断循环，也不影响同一
// 事件的其他处理器。
type Handler func(ctx context.Context, event *model.Event) error

// Consumer 命名订阅
//
// 一个 Consumer 绑定一个消费组和一组 Topic。
// 同一事件类型可注册多个处理器，按注册顺序独立调用。
type Consumer interface {
	// GroupID 返回消费组 ID
	GroupID() string

	// Topics 返回订阅的 Topic 列表
	Topics() []string

	// RegisterHandler 注册事件处理器（可多次，按注册顺序调用）
	RegisterHandler(eventType model.EventType, handler Handler)

	// Run 阻塞消费循环
	//
	// 创建消费组（幂等）、反序列化消息、按事件类型分发。
	// 单个处理器的错误被隔离记录，不中断循环。
	// 仅在 ctx 取消或 Stop 被调用后返回。
	Run(ctx context.Context) error

	// Stop 停止消费循环（从其他 goroutine 调用）
	Stop()
}

// Bus 进程级事件总线
//
// 每进程显式构造一个实例并注入到 Agent/Engine（不使用包级单例），
// 便于单测隔离和同进程多实例。
type Bus interface {
	// Publish 发布事件
	//
	// 序列化事件，按事件类型选择 Topic，按 user_id 选择分区键。
	// 任何传输失败记录日志并返回 false，永不 panic、永不返回 error。
	Publish(ctx context.Context, event *model.Event) bool

	// NewConsumer 创建消费者
	NewConsumer(groupID string, topics []string) Consumer

	// Close 关闭底层连接
	Close() error
}
