// Package eventbus 事件总线类型定义
package eventbus

import "time"

// ============================================================================
// Stream 常量
// ============================================================================

const (
	// MaxStreamLength 单 Topic Stream 最大长度（近似修剪）
	MaxStreamLength = 10000

	// DefaultReadCount 单次 XReadGroup 批量大小
	DefaultReadCount = 10

	// DefaultReadTimeout 消费阻塞等待时长
	DefaultReadTimeout = 5 * time.Second

	// FieldKey 消息分区键字段名
	FieldKey = "key"

	// FieldEvent 消息事件信封字段名（JSON 序列化的 model.Event）
	FieldEvent = "event"
)
