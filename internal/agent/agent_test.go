package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/storage"
	"resume-automation/internal/shared/storage/driver/sqlite"
	"resume-automation/internal/shared/storage/repository"
)

// newTestStore 内存 SQLite 存储
func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlite.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return store
}

// memDocStore 内存文档存储
type memDocStore struct {
	uploads map[string][]byte
}

func newMemDocStore() *memDocStore {
	return &memDocStore{uploads: make(map[string][]byte)}
}

func (m *memDocStore) UploadResume(_ context.Context, key string, content []byte) (string, error) {
	m.uploads[key] = content
	return "https://docs.local/" + key, nil
}

// failingAgent 处理永远失败的 Agent（测试 Runner 错误路径）
type failingAgent struct{}

func (failingAgent) AgentID() string { return "failing-agent" }
func (failingAgent) SubscribedEvents() []model.EventType {
	return []model.EventType{model.EventJobDiscovered}
}
func (failingAgent) ConsumerGroupID() string { return "failing-group" }
func (failingAgent) ProcessEvent(context.Context, *model.Event) error {
	return errors.New("boom")
}

// ============================================================================
// Runner
// ============================================================================

func TestRunnerPublishesDiagnosticOnFailure(t *testing.T) {
	bus := eventbus.NewMockBus()
	runner := NewRunner(failingAgent{}, bus, "cell-001")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runner.Start(ctx)
	require.Eventually(t, func() bool {
		return runner.Health().Status == HealthHealthy
	}, time.Second, time.Millisecond)

	original := model.NewJobDiscoveredEvent(42, "https://example.com/j/1", "Acme", "Dev", nil)
	bus.Publish(ctx, original)

	diags := bus.PublishedOfType(model.EventAgentHealthCheck)
	require.Len(t, diags, 1)
	diag := diags[0]
	assert.Equal(t, original.EventID, diag.CorrelationID)
	assert.Equal(t, "failing-agent", diag.Data["agent_id"])
	assert.Equal(t, original.EventID, diag.Data["original_event_id"])
	assert.Equal(t, "error", diag.Metadata["severity"])

	health := runner.Health()
	assert.Equal(t, int64(1), health.EventsFailed)
	assert.Equal(t, int64(0), health.EventsProcessed)
	assert.NotNil(t, health.LastActivity)
}

func TestRunnerSwallowsDiagnosticPublishFailure(t *testing.T) {
	bus := eventbus.NewMockBus()
	runner := NewRunner(failingAgent{}, bus, "cell-001")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)
	require.Eventually(t, func() bool {
		return runner.Health().Status == HealthHealthy
	}, time.Second, time.Millisecond)

	original := model.NewJobDiscoveredEvent(42, "https://example.com/j/2", "Acme", "Dev", nil)

	// 诊断事件发布失败不拖垮 Agent：消费一条事件后依旧存活
	bus.Publish(ctx, original)
	bus.FailPublishes(true)
	bus.Publish(ctx, original) // 发布本身失败，事件不投递
	bus.FailPublishes(false)

	health := runner.Health()
	assert.Equal(t, HealthHealthy, health.Status)
	assert.True(t, health.Running)
}

// ============================================================================
// DiscoveryAgent
// ============================================================================

func TestDiscoveryStoresAndPublishes(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewDiscoveryAgent(store, bus, "cell-001")
	ctx := context.Background()

	ids, err := agent.RunDiscovery(ctx, 42, []string{"Go", "Python"}, "Remote")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	// 落库
	apps, err := store.ListJobApplicationsByUser(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, apps, 2)
	for _, app := range apps {
		assert.Equal(t, model.StatusDiscovered, app.Status)
		assert.Equal(t, "linkedin", app.Source)
		assert.True(t, app.Remote)
	}

	// job.discovered + 分析请求成对发布
	discovered := bus.PublishedOfType(model.EventJobDiscovered)
	requests := bus.PublishedOfType(model.EventJobAnalyzed)
	assert.Len(t, discovered, 2)
	assert.Len(t, requests, 2)
	for _, req := range requests {
		assert.NotZero(t, dataInt64(req.Data, "job_id"))
		assert.NotEmpty(t, dataString(req.Data, "job_description"))
	}
}

func TestDiscoveryDeduplicates(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewDiscoveryAgent(store, bus, "cell-001")
	ctx := context.Background()

	ids, err := agent.RunDiscovery(ctx, 42, []string{"Go"}, "Remote")
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	// 同一轮搜索重复执行：URL 稳定，应全部去重
	ids, err = agent.RunDiscovery(ctx, 42, []string{"Go"}, "Remote")
	require.NoError(t, err)
	assert.Empty(t, ids)

	apps, err := store.ListJobApplicationsByUser(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
	assert.Len(t, bus.PublishedOfType(model.EventJobDiscovered), 1)
}

func TestDiscoveryPerUserDedup(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewDiscoveryAgent(store, bus, "cell-001")
	ctx := context.Background()

	// 去重按 (user_id, url)：不同用户各自入库
	ids, err := agent.RunDiscovery(ctx, 42, []string{"Go"}, "Remote")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	ids, err = agent.RunDiscovery(ctx, 43, []string{"Go"}, "Remote")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

// ============================================================================
// AnalyzerAgent
// ============================================================================

var seedSeq atomic.Int64

func seedJob(t *testing.T, store storage.Store, userID int64, description string) *model.JobApplication {
	t.Helper()
	app := &model.JobApplication{
		UserID:         userID,
		Company:        "TechCorp",
		Position:       "Senior Go Developer",
		URL:            fmt.Sprintf("https://example.com/jobs/%d-%d", userID, seedSeq.Add(1)),
		JobDescription: description,
	}
	require.NoError(t, store.CreateJobApplication(context.Background(), app))
	return app
}

func TestAnalyzerProcessesRequest(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewAnalyzerAgent(store, bus, nil, "cell-001")
	ctx := context.Background()

	job := seedJob(t, store, 42, "Senior engineer role: go, docker, kubernetes, remote friendly")

	request := model.NewEvent(model.EventJobAnalyzed, 42, map[string]any{
		"job_id":          job.ID,
		"job_description": job.JobDescription,
		"company":         job.Company,
		"position":        job.Position,
	})
	require.NoError(t, agent.ProcessEvent(ctx, request))

	// 分析结果落库且状态推进
	updated, err := store.GetJobApplication(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAnalyzed, updated.Status)
	assert.NotEmpty(t, updated.Analysis)

	// 结果事件带因果关联
	results := bus.PublishedOfType(model.EventJobAnalyzed)
	require.Len(t, results, 1)
	assert.Equal(t, request.EventID, results[0].CorrelationID)
	assert.NotNil(t, dataMap(results[0].Data, "analysis_result"))
}

func TestAnalyzerIgnoresResultEvents(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewAnalyzerAgent(store, bus, nil, "cell-001")

	// 带 analysis_result 的事件是结果通知，不得再次分析（环路断点）
	result := model.NewJobAnalyzedEvent(42, 1, map[string]any{"match_score": 0.5})
	require.NoError(t, agent.ProcessEvent(context.Background(), result))
	assert.Empty(t, bus.Published())
}

func TestAnalyzerLoadsDescriptionFromStore(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewAnalyzerAgent(store, bus, nil, "cell-001")
	ctx := context.Background()

	job := seedJob(t, store, 42, "backend python and aws role")

	// 请求只带 job_id，描述回源读取
	request := model.NewEvent(model.EventJobAnalyzed, 42, map[string]any{"job_id": job.ID})
	require.NoError(t, agent.ProcessEvent(ctx, request))

	results := bus.PublishedOfType(model.EventJobAnalyzed)
	require.Len(t, results, 1)
}

func TestAnalyzerCachesByDescription(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()

	calls := 0
	counting := analyzerFunc(func(ctx context.Context, req AnalysisRequest) (map[string]any, error) {
		calls++
		return map[string]any{"match_score": 0.9}, nil
	})
	agent := NewAnalyzerAgent(store, bus, counting, "cell-001")
	ctx := context.Background()

	description := "identical description for two postings: go, sql"
	job1 := seedJob(t, store, 42, description)
	job2 := seedJob(t, store, 43, description)

	for _, job := range []*model.JobApplication{job1, job2} {
		request := model.NewEvent(model.EventJobAnalyzed, job.UserID, map[string]any{
			"job_id":          job.ID,
			"job_description": description,
		})
		require.NoError(t, agent.ProcessEvent(ctx, request))
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, agent.CacheSize())
}

// analyzerFunc JobAnalyzer 的函数适配器
type analyzerFunc func(ctx context.Context, req AnalysisRequest) (map[string]any, error)

func (f analyzerFunc) AnalyzeJob(ctx context.Context, req AnalysisRequest) (map[string]any, error) {
	return f(ctx, req)
}

// ============================================================================
// GeneratorAgent
// ============================================================================

func TestGeneratorHandlesExplicitRequest(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	docs := newMemDocStore()
	agent := NewGeneratorAgent(store, bus, nil, docs, "cell-001")
	ctx := context.Background()

	job := seedJob(t, store, 42, "go and kubernetes role")

	request := model.NewResumeGenerationRequestedEvent(42, job.ID, "")
	require.NoError(t, agent.ProcessEvent(ctx, request))

	// 简历版本落库并指向上传的对象
	versions, err := store.ListResumeVersionsByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, DefaultTemplate, versions[0].Template)
	assert.Contains(t, docs.uploads, versions[0].ObjectKey)

	// 状态推进为 resume_ready
	updated, err := store.GetJobApplication(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResumeReady, updated.Status)

	// 结果事件
	results := bus.PublishedOfType(model.EventResumeGenerated)
	require.Len(t, results, 1)
	assert.Equal(t, request.EventID, results[0].CorrelationID)
	assert.Equal(t, versions[0].ResumeURL, dataString(results[0].Data, "resume_url"))
}

func TestGeneratorAutoGeneratesAfterAnalysis(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewGeneratorAgent(store, bus, nil, newMemDocStore(), "cell-001")
	ctx := context.Background()

	job := seedJob(t, store, 42, "senior lead role")

	analyzed := model.NewJobAnalyzedEvent(42, job.ID, map[string]any{
		"job_type":         "technical",
		"experience_level": "senior",
	})
	require.NoError(t, agent.ProcessEvent(ctx, analyzed))

	versions, err := store.ListResumeVersionsByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "senior_professional", versions[0].Template)
}

func TestGeneratorIgnoresAnalysisRequests(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewGeneratorAgent(store, bus, nil, newMemDocStore(), "cell-001")

	// 无 analysis_result 的 job.analyzed 事件是给 Analyzer 的请求
	request := model.NewEvent(model.EventJobAnalyzed, 42, map[string]any{
		"job_id":          1,
		"job_description": "...",
	})
	require.NoError(t, agent.ProcessEvent(context.Background(), request))
	assert.Empty(t, bus.PublishedOfType(model.EventResumeGenerated))
}

func TestSelectTemplate(t *testing.T) {
	tests := []struct {
		name     string
		analysis map[string]any
		want     string
	}{
		{"management", map[string]any{"job_type": "management"}, "executive_professional"},
		{"senior", map[string]any{"experience_level": "senior"}, "senior_professional"},
		{"lead", map[string]any{"experience_level": "lead"}, "senior_professional"},
		{"default", map[string]any{"job_type": "technical", "experience_level": "mid"}, DefaultTemplate},
		{"empty", map[string]any{}, DefaultTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectTemplate(tt.analysis))
		})
	}
}

// ============================================================================
// OptimizerAgent
// ============================================================================

func TestOptimizerLearnsFromInterviews(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewOptimizerAgent(store, bus, "cell-001")
	ctx := context.Background()

	job := seedJob(t, store, 42, "go role")
	analysis := []byte(`{"job_type":"technical","experience_level":"senior","required_skills":["go","sql"]}`)
	require.NoError(t, store.UpdateJobApplicationAnalysis(ctx, job.ID, analysis))

	update := model.NewEvent(model.EventApplicationStatusUpdated, 42, map[string]any{
		"job_id":     job.ID,
		"old_status": "applied",
		"new_status": "interview",
	})
	require.NoError(t, agent.ProcessEvent(ctx, update))
	assert.Equal(t, 1, agent.PatternCount())

	// 非成功状态不产生模式
	rejected := model.NewEvent(model.EventApplicationStatusUpdated, 42, map[string]any{
		"job_id":     job.ID,
		"new_status": "rejected",
	})
	require.NoError(t, agent.ProcessEvent(ctx, rejected))
	assert.Equal(t, 1, agent.PatternCount())
}

func TestOptimizerRecommendations(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewOptimizerAgent(store, bus, "cell-001")
	ctx := context.Background()

	seedJob(t, store, 42, "go role one")
	seedJob(t, store, 42, "python role two")

	request := model.NewEvent(model.EventResumeOptimizationRequested, 42, map[string]any{
		"optimization_type": "ats_optimization",
	})
	require.NoError(t, agent.ProcessEvent(ctx, request))

	results := bus.PublishedOfType(model.EventResumeOptimized)
	require.Len(t, results, 1)
	assert.Equal(t, request.EventID, results[0].CorrelationID)
	recs := dataMap(results[0].Data, "recommendations")
	require.NotNil(t, recs)
	assert.Equal(t, 2, int(dataInt64(recs, "total_applications")))
}

func TestOptimizerAutoTriggersAtThreshold(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.NewMockBus()
	agent := NewOptimizerAgent(store, bus, "cell-001")
	agent.minApplications = 2
	ctx := context.Background()

	seedJob(t, store, 42, "role one")
	seedJob(t, store, 42, "role two")

	generated := model.NewResumeGeneratedEvent(42, 1, "https://docs.local/x", "v1")
	require.NoError(t, agent.ProcessEvent(ctx, generated))

	triggers := bus.PublishedOfType(model.EventResumeOptimizationRequested)
	require.Len(t, triggers, 1)
	assert.Equal(t, "automatic", dataString(triggers[0].Data, "trigger"))
}
