// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	WorkflowIDKey ContextKey = "workflow_id"
	StepIDKey     ContextKey = "step_id"
	AgentIDKey    ContextKey = "agent_id"
	EventIDKey    ContextKey = "event_id"
	UserIDKey     ContextKey = "user_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr, or file path
	Component string `json:"component"`
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		Logger:    slog.New(handler),
		component: cfg.Component,
	}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// WithContext 从上下文提取追踪信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := []any{slog.String("component", l.component)}

	if wfID, ok := ctx.Value(WorkflowIDKey).(string); ok && wfID != "" {
		attrs = append(attrs, slog.String("workflow_id", wfID))
	}
	if stepID, ok := ctx.Value(StepIDKey).(string); ok && stepID != "" {
		attrs = append(attrs, slog.String("step_id", stepID))
	}
	if agentID, ok := ctx.Value(AgentIDKey).(string); ok && agentID != "" {
		attrs = append(attrs, slog.String("agent_id", agentID))
	}
	if eventID, ok := ctx.Value(EventIDKey).(string); ok && eventID != "" {
		attrs = append(attrs, slog.String("event_id", eventID))
	}

	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// WithWorkflowID 添加 Workflow ID
func (l *Logger) WithWorkflowID(workflowID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("workflow_id", workflowID)),
		component: l.component,
	}
}

// WithAgentID 添加 Agent ID
func (l *Logger) WithAgentID(agentID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("agent_id", agentID)),
		component: l.component,
	}
}

// WithEventID 添加 Event ID
func (l *Logger) WithEventID(eventID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("event_id", eventID)),
		component: l.component,
	}
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{
		Logger:    l.Logger.With(slog.String("error", err.Error())),
		component: l.component,
	}
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.Float64("duration_ms", float64(d.Milliseconds()))),
		component: l.component,
	}
}
