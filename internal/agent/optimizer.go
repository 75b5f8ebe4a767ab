// Package agent 简历优化 Agent
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/storage"
	"resume-automation/pkg/logging"
)

// defaultMinApplicationsForAnalysis 触发自动优化分析的最小申请数
const defaultMinApplicationsForAnalysis = 5

// SuccessPattern 从成功申请中学习到的模式
//
// 键为 "<job_type>_<experience_level>"，记录该类职位上
// 进入面试/拿到 Offer 的申请所共有的技能与模板。
type SuccessPattern struct {
	SuccessfulApplications int            `json:"successful_applications"`
	CommonSkills           map[string]int `json:"common_skills"`
	SuccessfulTemplates    map[string]int `json:"successful_templates"`
}

// OptimizerAgent 简历优化 Agent
//
// 订阅：
//   - resume.generated：登记新简历版本的表现追踪
//   - application.status.updated：从投递结果学习成功模式
//   - resume.optimization.requested：生成优化建议
type OptimizerAgent struct {
	cellID string
	store  storage.Store
	bus    eventbus.Bus
	logger *logging.Logger

	// 触发自动优化分析的最小申请数
	minApplications int

	mu                     sync.Mutex
	successPatterns        map[string]*SuccessPattern
	patternsDiscovered     int64
	optimizationsPerformed int64
}

var _ Agent = (*OptimizerAgent)(nil)

// NewOptimizerAgent 创建简历优化 Agent
func NewOptimizerAgent(store storage.Store, bus eventbus.Bus, cellID string) *OptimizerAgent {
	if cellID == "" {
		cellID = model.DefaultCellID
	}
	return &OptimizerAgent{
		cellID:          cellID,
		store:           store,
		bus:             bus,
		minApplications: defaultMinApplicationsForAnalysis,
		successPatterns: make(map[string]*SuccessPattern),
		logger:          logging.Default("agent").WithAgentID("optimizer-agent"),
	}
}

// AgentID 返回 Agent 标识
func (a *OptimizerAgent) AgentID() string { return "optimizer-agent" }

// SubscribedEvents 订阅优化相关事件
func (a *OptimizerAgent) SubscribedEvents() []model.EventType {
	return []model.EventType{
		model.EventResumeGenerated,
		model.EventApplicationStatusUpdated,
		model.EventResumeOptimizationRequested,
	}
}

// ConsumerGroupID 返回消费组 ID
func (a *OptimizerAgent) ConsumerGroupID() string {
	return a.cellID + "-optimizer-group"
}

// ProcessEvent 按事件类型分发
func (a *OptimizerAgent) ProcessEvent(ctx context.Context, event *model.Event) error {
	switch event.EventType {
	case model.EventResumeGenerated:
		return a.handleResumeGenerated(ctx, event)
	case model.EventApplicationStatusUpdated:
		return a.handleStatusUpdate(ctx, event)
	case model.EventResumeOptimizationRequested:
		return a.handleOptimizationRequest(ctx, event)
	default:
		a.logger.Warn("unexpected event type", "event_type", event.EventType)
		return nil
	}
}

// handleResumeGenerated 登记新简历的表现追踪，并检查是否值得触发优化
func (a *OptimizerAgent) handleResumeGenerated(ctx context.Context, event *model.Event) error {
	versionID := dataInt64(event.Data, "resume_version_id")
	if versionID > 0 {
		tracking, _ := json.Marshal(map[string]any{
			"tracking": map[string]any{
				"applications_sent":   0,
				"responses_received":  0,
				"interviews_received": 0,
			},
		})
		if err := a.store.UpdateResumeVersionMetrics(ctx, versionID, tracking); err != nil {
			a.logger.WithError(err).Warn("tracking init failed", "resume_version_id", versionID)
		}
	}

	// 申请数达到阈值时自动触发一轮优化分析
	apps, err := a.store.ListJobApplicationsByUser(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("count applications: %w", err)
	}
	if len(apps) >= a.minApplications {
		trigger := model.NewEvent(model.EventResumeOptimizationRequested, event.UserID, map[string]any{
			"optimization_type": "performance_analysis",
			"trigger":           "automatic",
		}).WithCell(a.cellID).WithCorrelation(event.EventID)
		a.bus.Publish(ctx, trigger)
	}
	return nil
}

// handleStatusUpdate 从申请状态变化中学习
func (a *OptimizerAgent) handleStatusUpdate(ctx context.Context, event *model.Event) error {
	jobID := dataInt64(event.Data, "job_id")
	newStatus := model.ApplicationStatus(dataString(event.Data, "new_status"))
	if jobID == 0 || newStatus == "" {
		a.logger.Warn("status update missing job_id or new_status", "event_id", event.EventID)
		return nil
	}

	// 只有进入面试或拿到 Offer 的申请携带可学习的信号
	if newStatus != model.StatusInterview && newStatus != model.StatusOffer {
		return nil
	}

	job, err := a.store.GetJobApplication(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}
	if len(job.Analysis) == 0 {
		return nil
	}

	var analysis map[string]any
	if err := json.Unmarshal(job.Analysis, &analysis); err != nil {
		return fmt.Errorf("decode analysis for job %d: %w", jobID, err)
	}

	a.learnPattern(analysis)
	a.logger.Info("success pattern learned", "job_id", jobID, "status", newStatus)
	return nil
}

// learnPattern 把成功申请的分析结果并入模式库
func (a *OptimizerAgent) learnPattern(analysis map[string]any) {
	jobType := dataString(analysis, "job_type")
	if jobType == "" {
		jobType = "unknown"
	}
	level := dataString(analysis, "experience_level")
	if level == "" {
		level = "unknown"
	}
	key := jobType + "_" + level

	a.mu.Lock()
	defer a.mu.Unlock()

	pattern, ok := a.successPatterns[key]
	if !ok {
		pattern = &SuccessPattern{
			CommonSkills:        make(map[string]int),
			SuccessfulTemplates: make(map[string]int),
		}
		a.successPatterns[key] = pattern
	}
	pattern.SuccessfulApplications++

	if skills, ok := analysis["required_skills"].([]any); ok {
		for _, s := range skills {
			if skill, ok := s.(string); ok {
				pattern.CommonSkills[skill]++
			}
		}
	}
	a.patternsDiscovered++
}

// handleOptimizationRequest 生成优化建议并发布结果
func (a *OptimizerAgent) handleOptimizationRequest(ctx context.Context, event *model.Event) error {
	optimizationType := dataString(event.Data, "optimization_type")
	if optimizationType == "" {
		optimizationType = "general"
	}

	recommendations, err := a.buildRecommendations(ctx, event.UserID, optimizationType)
	if err != nil {
		return fmt.Errorf("build recommendations for user %d: %w", event.UserID, err)
	}

	a.mu.Lock()
	a.optimizationsPerformed++
	a.mu.Unlock()

	resultEvent := model.NewEvent(model.EventResumeOptimized, event.UserID, map[string]any{
		"optimization_type": optimizationType,
		"recommendations":   recommendations,
	}).WithCell(a.cellID).WithCorrelation(event.EventID)
	copyWorkflowMetadata(event.Metadata, resultEvent.Metadata)
	a.bus.Publish(ctx, resultEvent)

	a.logger.Info("optimization completed", "user_id", event.UserID, "type", optimizationType)
	return nil
}

// buildRecommendations 基于申请历史与模式库产出建议
func (a *OptimizerAgent) buildRecommendations(ctx context.Context, userID int64, optimizationType string) (map[string]any, error) {
	apps, err := a.store.ListJobApplicationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := len(apps)
	var interviews, offers int
	for _, app := range apps {
		switch app.Status {
		case model.StatusInterview:
			interviews++
		case model.StatusOffer:
			offers++
		}
	}

	successRate := 0.0
	if total > 0 {
		successRate = float64(interviews+offers) / float64(total)
	}

	recommendations := map[string]any{
		"total_applications": total,
		"interviews":         interviews,
		"offers":             offers,
		"success_rate":       successRate,
		"suggested_skills":   a.topSkills(5),
	}

	if successRate < 0.1 && total >= a.minApplications {
		recommendations["advice"] = "low response rate: consider broadening search terms or revising resume keywords"
	}
	return recommendations, nil
}

// topSkills 返回模式库中命中次数最多的技能
func (a *OptimizerAgent) topSkills(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[string]int)
	for _, pattern := range a.successPatterns {
		for skill, c := range pattern.CommonSkills {
			counts[skill] += c
		}
	}

	skills := make([]string, 0, len(counts))
	for skill := range counts {
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool {
		if counts[skills[i]] != counts[skills[j]] {
			return counts[skills[i]] > counts[skills[j]]
		}
		return skills[i] < skills[j]
	})

	if len(skills) > n {
		skills = skills[:n]
	}
	return skills
}

// PatternCount 返回已学习的模式数
func (a *OptimizerAgent) PatternCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.successPatterns)
}
