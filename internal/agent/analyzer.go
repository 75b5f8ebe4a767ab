// Package agent 职位分析 Agent
package agent

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/storage"
	"resume-automation/pkg/logging"
)

// AnalyzerAgent 职位分析 Agent
//
// 订阅 job.analyzed topic 上的分析请求（data 无 analysis_result
// 的事件），调用 JobAnalyzer 协作者产出结构化分析，落库，
// 并在同一 topic 上发布带 analysis_result 的结果事件。
//
// 分析结果按描述哈希做进程内缓存，同一职位描述只分析一次。
type AnalyzerAgent struct {
	cellID   string
	store    storage.Store
	bus      eventbus.Bus
	analyzer JobAnalyzer
	logger   *logging.Logger

	mu    sync.Mutex
	cache map[string]map[string]any
}

var _ Agent = (*AnalyzerAgent)(nil)

// NewAnalyzerAgent 创建职位分析 Agent
func NewAnalyzerAgent(store storage.Store, bus eventbus.Bus, analyzer JobAnalyzer, cellID string) *AnalyzerAgent {
	if cellID == "" {
		cellID = model.DefaultCellID
	}
	if analyzer == nil {
		analyzer = &KeywordAnalyzer{}
	}
	return &AnalyzerAgent{
		cellID:   cellID,
		store:    store,
		bus:      bus,
		analyzer: analyzer,
		cache:    make(map[string]map[string]any),
		logger:   logging.Default("agent").WithAgentID("analyzer-agent"),
	}
}

// AgentID 返回 Agent 标识
func (a *AnalyzerAgent) AgentID() string { return "analyzer-agent" }

// SubscribedEvents 订阅分析请求
func (a *AnalyzerAgent) SubscribedEvents() []model.EventType {
	return []model.EventType{model.EventJobAnalyzed}
}

// ConsumerGroupID 返回消费组 ID
func (a *AnalyzerAgent) ConsumerGroupID() string {
	return a.cellID + "-analyzer-group"
}

// ProcessEvent 处理分析请求
//
// 结果事件与请求共用一个 topic：data 携带 analysis_result 的
// 事件是结果通知，直接忽略（环路断点）。
func (a *AnalyzerAgent) ProcessEvent(ctx context.Context, event *model.Event) error {
	if _, done := event.Data["analysis_result"]; done {
		return nil
	}

	jobID := dataInt64(event.Data, "job_id")
	if jobID == 0 {
		a.logger.Warn("analysis request missing job_id", "event_id", event.EventID)
		return nil
	}

	description := dataString(event.Data, "job_description")
	company := dataString(event.Data, "company")
	position := dataString(event.Data, "position")

	// 请求未携带描述时回源读取
	if description == "" {
		app, err := a.store.GetJobApplication(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load job %d: %w", jobID, err)
		}
		description = app.JobDescription
		company = app.Company
		position = app.Position
	}
	if description == "" {
		a.logger.Warn("job has no description, skipping analysis", "job_id", jobID)
		return nil
	}

	result, err := a.analyzeJob(ctx, description, company, position)
	if err != nil {
		return fmt.Errorf("analyze job %d: %w", jobID, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	if err := a.store.UpdateJobApplicationAnalysis(ctx, jobID, raw); err != nil {
		return fmt.Errorf("store analysis for job %d: %w", jobID, err)
	}

	resultEvent := model.NewJobAnalyzedEvent(event.UserID, jobID, result).
		WithCell(a.cellID).
		WithCorrelation(event.EventID)
	copyWorkflowMetadata(event.Metadata, resultEvent.Metadata)
	a.bus.Publish(ctx, resultEvent)

	a.logger.Info("job analyzed", "job_id", jobID, "user_id", event.UserID)
	return nil
}

// analyzeJob 带缓存的分析
func (a *AnalyzerAgent) analyzeJob(ctx context.Context, description, company, position string) (map[string]any, error) {
	key := cacheKey(description)

	a.mu.Lock()
	if cached, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	result, err := a.analyzer.AnalyzeJob(ctx, AnalysisRequest{
		JobDescription: description,
		Company:        company,
		Position:       position,
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[key] = result
	a.mu.Unlock()
	return result, nil
}

// CacheSize 返回缓存条目数
func (a *AnalyzerAgent) CacheSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cache)
}

// ClearCache 清空分析缓存
func (a *AnalyzerAgent) ClearCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]map[string]any)
}

func cacheKey(description string) string {
	sum := md5.Sum([]byte(description))
	return hex.EncodeToString(sum[:])
}
