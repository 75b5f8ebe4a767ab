// Package agent 简历生成 Agent
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/objstore"
	"resume-automation/internal/shared/storage"
	"resume-automation/pkg/logging"
)

// DefaultTemplate 默认简历模板
const DefaultTemplate = "modern_professional"

// DocumentStore 简历产物上传的窄接口
//
// 由 objstore.Client 实现；测试注入内存实现。
type DocumentStore interface {
	// UploadResume 上传文档并返回下载 URL
	UploadResume(ctx context.Context, key string, content []byte) (string, error)
}

// GeneratorAgent 简历生成 Agent
//
// 订阅：
//   - resume.generation.requested：显式生成请求
//   - job.analyzed：分析完成后自动生成（仅处理携带 analysis_result 的结果事件）
//
// 流程：读取职位 → 按分析结果选模板 → 渲染 → 上传对象存储 →
// 落库 ResumeVersion → 发布 resume.generated。
type GeneratorAgent struct {
	cellID   string
	store    storage.Store
	bus      eventbus.Bus
	renderer ResumeRenderer
	docs     DocumentStore
	logger   *logging.Logger
}

var _ Agent = (*GeneratorAgent)(nil)

// NewGeneratorAgent 创建简历生成 Agent
func NewGeneratorAgent(store storage.Store, bus eventbus.Bus, renderer ResumeRenderer, docs DocumentStore, cellID string) *GeneratorAgent {
	if cellID == "" {
		cellID = model.DefaultCellID
	}
	if renderer == nil {
		renderer = &PlainRenderer{}
	}
	return &GeneratorAgent{
		cellID:   cellID,
		store:    store,
		bus:      bus,
		renderer: renderer,
		docs:     docs,
		logger:   logging.Default("agent").WithAgentID("generator-agent"),
	}
}

// AgentID 返回 Agent 标识
func (a *GeneratorAgent) AgentID() string { return "generator-agent" }

// SubscribedEvents 订阅生成请求与分析结果
func (a *GeneratorAgent) SubscribedEvents() []model.EventType {
	return []model.EventType{
		model.EventResumeGenerationRequested,
		model.EventJobAnalyzed,
	}
}

// ConsumerGroupID 返回消费组 ID
func (a *GeneratorAgent) ConsumerGroupID() string {
	return a.cellID + "-generator-group"
}

// ProcessEvent 按事件类型分发
func (a *GeneratorAgent) ProcessEvent(ctx context.Context, event *model.Event) error {
	switch event.EventType {
	case model.EventResumeGenerationRequested:
		return a.handleGenerationRequest(ctx, event)
	case model.EventJobAnalyzed:
		return a.handleJobAnalyzed(ctx, event)
	default:
		a.logger.Warn("unexpected event type", "event_type", event.EventType)
		return nil
	}
}

// handleGenerationRequest 处理显式生成请求
func (a *GeneratorAgent) handleGenerationRequest(ctx context.Context, event *model.Event) error {
	jobID := dataInt64(event.Data, "job_id")
	if jobID == 0 {
		a.logger.Warn("generation request missing job_id", "event_id", event.EventID)
		return nil
	}

	template := dataString(event.Data, "template")
	if template == "" {
		template = DefaultTemplate
	}

	return a.generateForJob(ctx, event, jobID, template, nil)
}

// handleJobAnalyzed 分析结果到达后自动生成
//
// job.analyzed topic 同时承载请求与结果；无 analysis_result 的
// 事件是给 Analyzer 的请求，这里忽略。
func (a *GeneratorAgent) handleJobAnalyzed(ctx context.Context, event *model.Event) error {
	analysis := dataMap(event.Data, "analysis_result")
	if analysis == nil {
		return nil
	}

	jobID := dataInt64(event.Data, "job_id")
	if jobID == 0 {
		a.logger.Warn("job analyzed event missing job_id", "event_id", event.EventID)
		return nil
	}

	template := selectTemplate(analysis)
	return a.generateForJob(ctx, event, jobID, template, analysis)
}

// selectTemplate 按分析结果挑选模板
func selectTemplate(analysis map[string]any) string {
	jobType := dataString(analysis, "job_type")
	level := dataString(analysis, "experience_level")

	switch {
	case jobType == "management":
		return "executive_professional"
	case level == "senior" || level == "lead":
		return "senior_professional"
	default:
		return DefaultTemplate
	}
}

// generateForJob 渲染、上传并记录一个简历版本
func (a *GeneratorAgent) generateForJob(ctx context.Context, event *model.Event, jobID int64, template string, analysis map[string]any) error {
	job, err := a.store.GetJobApplication(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}

	// 请求未带分析结果时使用已落库的分析
	if analysis == nil && len(job.Analysis) > 0 {
		_ = json.Unmarshal(job.Analysis, &analysis)
	}

	content, err := a.renderer.Render(ctx, RenderRequest{
		UserID:   event.UserID,
		Company:  job.Company,
		Position: job.Position,
		Template: template,
		Analysis: analysis,
	})
	if err != nil {
		return fmt.Errorf("render resume for job %d: %w", jobID, err)
	}

	versionName := fmt.Sprintf("resume_job_%d_user_%d_%s_%d", jobID, event.UserID, template, time.Now().UTC().Unix())
	key := objstore.ResumeKey(event.UserID, jobID, versionName)

	resumeURL, err := a.docs.UploadResume(ctx, key, content)
	if err != nil {
		return fmt.Errorf("upload resume for job %d: %w", jobID, err)
	}

	rv := &model.ResumeVersion{
		UserID:      event.UserID,
		JobID:       jobID,
		VersionName: versionName,
		Template:    template,
		ObjectKey:   key,
		ResumeURL:   resumeURL,
	}
	if err := a.store.CreateResumeVersion(ctx, rv); err != nil {
		return fmt.Errorf("store resume version: %w", err)
	}

	if err := a.store.UpdateJobApplicationStatus(ctx, jobID, model.StatusResumeReady); err != nil {
		a.logger.WithError(err).Warn("status update failed", "job_id", jobID)
	}

	resultEvent := model.NewResumeGeneratedEvent(event.UserID, jobID, resumeURL, versionName).
		WithCell(a.cellID).
		WithCorrelation(event.EventID)
	resultEvent.Data["resume_version_id"] = rv.ID
	resultEvent.Data["template"] = template
	copyWorkflowMetadata(event.Metadata, resultEvent.Metadata)
	a.bus.Publish(ctx, resultEvent)

	a.logger.Info("resume generated", "job_id", jobID, "version", versionName, "template", template)
	return nil
}
