package agent

// 事件 Data 字段取值辅助
//
// 事件经 JSON 反序列化后数值统一为 float64；进程内直投的事件
// 则保留原始 Go 类型，两种来源都要兼容。

func dataString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func dataInt64(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func dataMap(data map[string]any, key string) map[string]any {
	if v, ok := data[key].(map[string]any); ok {
		return v
	}
	return nil
}

// copyWorkflowMetadata 将请求事件携带的工作流元数据转抄到结果事件
//
// 引擎用 correlation_id 路由步骤完成；workflow_id/step_id 元数据
// 用于日志与诊断定位。
func copyWorkflowMetadata(src, dst map[string]any) {
	for _, key := range []string{"workflow_id", "step_id"} {
		if v, ok := src[key]; ok {
			dst[key] = v
		}
	}
}
