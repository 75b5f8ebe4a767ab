// Package agent 职位发现 Agent
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/storage"
	"resume-automation/pkg/logging"
)

// boardConfig 职位板配置
type boardConfig struct {
	Enabled bool
	Source  JobSource
}

// DiscoveryAgent 职位发现 Agent（抓取角色）
//
// 不订阅任何事件：职位发现由外部触发（工作流步骤或定时器
// 调用 RunDiscovery）。每个发现的职位：
//  1. 按 (user_id, url) 去重
//  2. 落库为 JobApplication（status=discovered）
//  3. 发布 job.discovered 事件
//  4. 发布携带职位描述的分析请求（job.analyzed topic）
type DiscoveryAgent struct {
	cellID string
	store  storage.Store
	bus    eventbus.Bus
	boards map[string]boardConfig
	logger *logging.Logger
}

var _ Agent = (*DiscoveryAgent)(nil)

// NewDiscoveryAgent 创建职位发现 Agent
//
// 职位板表：linkedin 启用，indeed/glassdoor 预留未启用。
func NewDiscoveryAgent(store storage.Store, bus eventbus.Bus, cellID string) *DiscoveryAgent {
	if cellID == "" {
		cellID = model.DefaultCellID
	}
	return &DiscoveryAgent{
		cellID: cellID,
		store:  store,
		bus:    bus,
		boards: map[string]boardConfig{
			"linkedin":  {Enabled: true, Source: &SampleJobSource{Board: "linkedin"}},
			"indeed":    {Enabled: false},
			"glassdoor": {Enabled: false},
		},
		logger: logging.Default("agent").WithAgentID("scraper-agent"),
	}
}

// AgentID 返回 Agent 标识
func (a *DiscoveryAgent) AgentID() string { return "scraper-agent" }

// SubscribedEvents 发现 Agent 不消费事件，只产生事件
func (a *DiscoveryAgent) SubscribedEvents() []model.EventType { return nil }

// ConsumerGroupID 返回消费组 ID
func (a *DiscoveryAgent) ConsumerGroupID() string {
	return a.cellID + "-scraper-group"
}

// ProcessEvent 无订阅，永不被调用
func (a *DiscoveryAgent) ProcessEvent(context.Context, *model.Event) error { return nil }

// SetBoardSource 替换职位板抓取源（测试/真实实现注入）
func (a *DiscoveryAgent) SetBoardSource(board string, source JobSource, enabled bool) {
	a.boards[board] = boardConfig{Enabled: enabled, Source: source}
}

// RunDiscovery 为用户执行一轮职位发现
//
// 遍历启用的职位板抓取职位，去重后落库并发布事件。
// 返回本轮新发现（非重复）职位的 ID 列表。单个职位的处理失败
// 记录日志并继续，不中断整轮发现。
func (a *DiscoveryAgent) RunDiscovery(ctx context.Context, userID int64, searchTerms []string, location string) ([]int64, error) {
	if location == "" {
		location = "Remote"
	}
	a.logger.Info("starting job discovery", "user_id", userID, "search_terms", searchTerms)

	var discovered []int64
	for board, cfg := range a.boards {
		if !cfg.Enabled || cfg.Source == nil {
			continue
		}

		jobs, err := cfg.Source.Scrape(ctx, searchTerms, location)
		if err != nil {
			a.logger.WithError(err).Warn("board scrape failed", "board", board)
			continue
		}
		a.logger.Info("board scraped", "board", board, "jobs", len(jobs))

		for _, job := range jobs {
			jobID, err := a.processDiscoveredJob(ctx, userID, board, job)
			if err != nil {
				a.logger.WithError(err).Warn("job processing failed", "url", job.URL)
				continue
			}
			if jobID > 0 {
				discovered = append(discovered, jobID)
			}
		}
	}
	return discovered, nil
}

// processDiscoveredJob 去重、落库、发布事件；新职位返回其 ID，重复返回 0
func (a *DiscoveryAgent) processDiscoveredJob(ctx context.Context, userID int64, board string, job DiscoveredJob) (int64, error) {
	// 去重：同一用户同一 URL 只处理一次
	_, err := a.store.GetJobApplicationByURL(ctx, userID, job.URL)
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("dedup lookup: %w", err)
	}

	extra, _ := json.Marshal(map[string]any{"requirements": job.Requirements})
	app := &model.JobApplication{
		UserID:         userID,
		Company:        job.Company,
		Position:       job.Title,
		URL:            job.URL,
		JobDescription: job.Description,
		Location:       job.Location,
		Remote:         job.Remote,
		Status:         model.StatusDiscovered,
		Source:         board,
		ExtraData:      extra,
	}
	if job.SalaryMin > 0 {
		app.SalaryMin = &job.SalaryMin
	}
	if job.SalaryMax > 0 {
		app.SalaryMax = &job.SalaryMax
	}

	if err := a.store.CreateJobApplication(ctx, app); err != nil {
		// 并发抓取下的竞态冲突视同重复
		if errors.Is(err, storage.ErrDuplicate) {
			return 0, nil
		}
		return 0, fmt.Errorf("store job: %w", err)
	}

	// job.discovered 通知
	discoveredEvent := model.NewJobDiscoveredEvent(userID, job.URL, job.Company, job.Title, map[string]any{
		"job_id":   app.ID,
		"location": job.Location,
		"remote":   job.Remote,
		"source":   board,
	}).WithCell(a.cellID)
	a.bus.Publish(ctx, discoveredEvent)

	// 分析请求：携带职位描述，Analyzer 据此直接分析
	analysisRequest := model.NewEvent(model.EventJobAnalyzed, userID, map[string]any{
		"job_id":          app.ID,
		"job_description": job.Description,
		"company":         job.Company,
		"position":        job.Title,
	}).WithCell(a.cellID).WithCorrelation(discoveredEvent.EventID)
	a.bus.Publish(ctx, analysisRequest)

	a.logger.Info("job discovered", "job_id", app.ID, "user_id", userID, "company", job.Company)
	return app.ID, nil
}
