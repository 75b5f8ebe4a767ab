package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-automation/internal/agent"
	"resume-automation/internal/shared/eventbus"
	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/storage"
	"resume-automation/internal/shared/storage/driver/sqlite"
	"resume-automation/internal/shared/storage/repository"
)

const testType WorkflowType = "test_pipeline"

// newTestEngine 快速轮询、注入规格表的引擎
func newTestEngine(t *testing.T, bus eventbus.Bus, opts Options) *Engine {
	t.Helper()
	opts.Bus = bus
	if opts.PausePoll == 0 {
		opts.PausePoll = 2 * time.Millisecond
	}
	e := NewEngine(opts)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e
}

// funcStep 本地函数步骤规格（短超时短重试间隔）
func funcStep(id string, required bool, retries int, fn StepFunc) StepSpec {
	return StepSpec{
		ID:         id,
		Name:       id,
		Handler:    HandlerFunc,
		Fn:         fn,
		Timeout:    time.Second,
		RetryCount: retries,
		RetryDelay: time.Millisecond,
		Required:   required,
	}
}

func okStep(id string, output map[string]any) StepSpec {
	return funcStep(id, true, 0, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return output, nil
	})
}

func awaitStatus(t *testing.T, e *Engine, id string, want WorkflowStatus) View {
	t.Helper()
	require.Eventually(t, func() bool {
		v, err := e.GetWorkflowStatus(id)
		return err == nil && v.Status == want
	}, 2*time.Second, 2*time.Millisecond)
	v, err := e.GetWorkflowStatus(id)
	require.NoError(t, err)
	return v
}

// ============================================================================
// 状态机
// ============================================================================

func TestWorkflowAllStepsSucceed(t *testing.T) {
	bus := eventbus.NewMockBus()
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{
		testType: {
			okStep("one", map[string]any{"one_done": true}),
			okStep("two", map[string]any{"two_done": true}),
			okStep("three", map[string]any{"three_done": true}),
		},
	}})

	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, map[string]any{"seed": "x"})
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusCompleted)
	assert.Equal(t, 3, v.CurrentStepIndex)
	assert.Equal(t, float64(100), v.ProgressPercentage)
	assert.Empty(t, v.ErrorMessage)
	for _, s := range v.Steps {
		assert.Equal(t, StepCompleted, s.Status)
	}
	// 步骤输出并入上下文
	assert.Equal(t, true, v.Context["one_done"])
	assert.Equal(t, true, v.Context["three_done"])
	assert.Equal(t, "x", v.Context["seed"])

	assert.Len(t, bus.PublishedOfType(model.EventWorkflowStarted), 1)
	assert.Len(t, bus.PublishedOfType(model.EventWorkflowStepCompleted), 3)
	assert.Len(t, bus.PublishedOfType(model.EventWorkflowCompleted), 1)
}

func TestWorkflowRequiredStepFailure(t *testing.T) {
	bus := eventbus.NewMockBus()
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{
		testType: {
			funcStep("broken", true, 0, func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return nil, errors.New("no jobs matched")
			}),
			okStep("never", nil),
		},
	}})

	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, nil)
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusFailed)
	assert.Equal(t, 0, v.CurrentStepIndex)
	assert.NotEmpty(t, v.ErrorMessage)
	assert.Contains(t, v.ErrorMessage, "broken")
	assert.Equal(t, StepFailed, v.Steps[0].Status)
	assert.Equal(t, StepPending, v.Steps[1].Status)

	failures := bus.PublishedOfType(model.EventWorkflowFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, id, failures[0].Data["workflow_id"])
	assert.NotEmpty(t, failures[0].Data["error_message"])
}

func TestWorkflowOptionalStepSkipped(t *testing.T) {
	bus := eventbus.NewMockBus()
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{
		testType: {
			funcStep("flaky_optional", false, 0, func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return nil, errors.New("transient")
			}),
			okStep("required_after", map[string]any{"done": true}),
		},
	}})

	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, nil)
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusCompleted)
	assert.Equal(t, StepSkipped, v.Steps[0].Status)
	assert.Equal(t, StepCompleted, v.Steps[1].Status)
	assert.Equal(t, true, v.Context["done"])
	assert.Empty(t, v.ErrorMessage)
}

func TestStepRetryBudgetExhausted(t *testing.T) {
	bus := eventbus.NewMockBus()
	var attempts atomic.Int64
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{
		testType: {
			funcStep("always_fails", true, 2, func(ctx context.Context, input map[string]any) (map[string]any, error) {
				attempts.Add(1)
				return nil, errors.New("still broken")
			}),
		},
	}})

	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, nil)
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusFailed)
	// retry_count=2 → 首次尝试 + 2 次重试
	assert.Equal(t, int64(3), attempts.Load())
	assert.Equal(t, 2, v.Steps[0].CurrentRetry)
	assert.LessOrEqual(t, v.Steps[0].CurrentRetry, v.Steps[0].MaxRetries)
}

func TestStepRetrySucceeds(t *testing.T) {
	bus := eventbus.NewMockBus()
	var attempts atomic.Int64
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{
		testType: {
			funcStep("flaky", true, 3, func(ctx context.Context, input map[string]any) (map[string]any, error) {
				if attempts.Add(1) == 1 {
					return nil, errors.New("first attempt fails")
				}
				return map[string]any{"ok": true}, nil
			}),
		},
	}})

	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, nil)
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusCompleted)
	assert.Equal(t, int64(2), attempts.Load())
	assert.Equal(t, StepCompleted, v.Steps[0].Status)
	assert.Equal(t, 1, v.Steps[0].CurrentRetry)
	assert.Empty(t, v.Steps[0].ErrorMessage)
}

func TestStepTimeout(t *testing.T) {
	bus := eventbus.NewMockBus()
	spec := funcStep("slow", true, 0, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		select {
		case <-time.After(time.Second):
			return map[string]any{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	spec.Timeout = 10 * time.Millisecond
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{testType: {spec}}})

	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, nil)
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusFailed)
	assert.Contains(t, v.Steps[0].ErrorMessage, "timed out")
}

func TestPauseResumeIdempotence(t *testing.T) {
	bus := eventbus.NewMockBus()
	proceed := make(chan struct{})
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{
		testType: {
			funcStep("gate", true, 0, func(ctx context.Context, input map[string]any) (map[string]any, error) {
				<-proceed
				return map[string]any{}, nil
			}),
			okStep("after", nil),
		},
	}})

	// pending 状态不可暂停
	id, err := e.CreateWorkflow(testType, 7, nil)
	require.NoError(t, err)
	assert.False(t, e.PauseWorkflow(id))

	require.NoError(t, e.StartWorkflow(context.Background(), id))
	awaitStatus(t, e, id, StatusRunning)

	assert.True(t, e.PauseWorkflow(id))
	assert.False(t, e.PauseWorkflow(id), "pause on paused workflow must be rejected")

	// 暂停期间放行第一步：步骤完成但不推进到下一步执行
	close(proceed)
	require.Eventually(t, func() bool {
		v, err := e.GetWorkflowStatus(id)
		return err == nil && v.Steps[0].Status == StepCompleted
	}, 2*time.Second, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	v, err := e.GetWorkflowStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, v.Status)
	assert.Equal(t, StepPending, v.Steps[1].Status)

	assert.True(t, e.ResumeWorkflow(id))
	assert.False(t, e.ResumeWorkflow(id), "resume on running workflow must be rejected")

	awaitStatus(t, e, id, StatusCompleted)
	assert.False(t, e.PauseWorkflow(id), "terminal workflow cannot be paused")
	assert.False(t, e.ResumeWorkflow(id))
}

func TestCancelWorkflow(t *testing.T) {
	bus := eventbus.NewMockBus()
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{
		testType: {
			funcStep("stuck", true, 0, func(ctx context.Context, input map[string]any) (map[string]any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
			okStep("after", nil),
		},
	}})

	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, nil)
	require.NoError(t, err)
	awaitStatus(t, e, id, StatusRunning)

	assert.True(t, e.CancelWorkflow(id, "user changed their mind"))
	assert.False(t, e.CancelWorkflow(id, "again"), "cancel must not apply twice")

	v, err := e.GetWorkflowStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, v.Status)
	assert.Equal(t, "user changed their mind", v.ErrorMessage)

	failures := bus.PublishedOfType(model.EventWorkflowFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, true, failures[0].Data["cancelled"])
}

func TestUnknownWorkflowType(t *testing.T) {
	bus := eventbus.NewMockBus()
	e := newTestEngine(t, bus, Options{})

	_, err := e.CreateWorkflow("no_such_type", 7, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown workflow type")
}

func TestWorkflowNotFound(t *testing.T) {
	bus := eventbus.NewMockBus()
	e := newTestEngine(t, bus, Options{})

	_, err := e.GetWorkflowStatus("does-not-exist")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.ErrorIs(t, e.StartWorkflow(context.Background(), "does-not-exist"), ErrWorkflowNotFound)
	assert.False(t, e.PauseWorkflow("does-not-exist"))
	assert.False(t, e.CancelWorkflow("does-not-exist", ""))
}

// ============================================================================
// 历史保留
// ============================================================================

func TestHistoryRetentionLimit(t *testing.T) {
	bus := eventbus.NewMockBus()
	e := newTestEngine(t, bus, Options{
		HistoryLimit: 5,
		Specs: map[WorkflowType][]StepSpec{
			testType: {okStep("only", nil)},
		},
	})

	ids := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, nil)
		require.NoError(t, err)
		awaitStatus(t, e, id, StatusCompleted)
		ids = append(ids, id)
	}

	// 最早 2 条被淘汰，仅保留最近 5 条
	for _, id := range ids[:2] {
		_, err := e.GetWorkflowStatus(id)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	}
	for _, id := range ids[2:] {
		v, err := e.GetWorkflowStatus(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, v.Status)
	}

	stats := e.Stats()
	assert.Equal(t, int64(7), stats.Created)
	assert.Equal(t, int64(7), stats.Completed)
	assert.Equal(t, 5, stats.History)
}

// ============================================================================
// 查询与统计
// ============================================================================

func TestListWorkflowsFilters(t *testing.T) {
	bus := eventbus.NewMockBus()
	badStep := funcStep("bad", true, 0, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, errors.New("bad")
	})
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{
		testType:       {okStep("only", nil)},
		"other_type":   {okStep("only", nil)},
		"failing_type": {badStep},
	}})

	ctx := context.Background()
	id1, err := e.CreateAndStartWorkflow(ctx, testType, 1, nil)
	require.NoError(t, err)
	id2, err := e.CreateAndStartWorkflow(ctx, "other_type", 2, nil)
	require.NoError(t, err)
	id3, err := e.CreateAndStartWorkflow(ctx, "failing_type", 1, nil)
	require.NoError(t, err)
	awaitStatus(t, e, id1, StatusCompleted)
	awaitStatus(t, e, id2, StatusCompleted)
	awaitStatus(t, e, id3, StatusFailed)

	user1 := int64(1)
	assert.Len(t, e.ListWorkflows(ListFilter{UserID: &user1}), 2)
	assert.Len(t, e.ListWorkflows(ListFilter{Status: StatusFailed}), 1)
	assert.Len(t, e.ListWorkflows(ListFilter{Type: "other_type"}), 1)
	assert.Len(t, e.ListWorkflows(ListFilter{}), 3)

	summary := e.GetUserWorkflows(1)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByStatus[StatusCompleted])
	assert.Equal(t, 1, summary.ByStatus[StatusFailed])
	assert.Len(t, summary.Recent, 2)

	stats := e.Stats()
	assert.Equal(t, int64(3), stats.Created)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.001)
}

// ============================================================================
// Agent 事件往返
// ============================================================================

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

type memDocStore struct{}

func (memDocStore) UploadResume(_ context.Context, key string, _ []byte) (string, error) {
	return "https://docs.local/" + key, nil
}

func startAgent(t *testing.T, ctx context.Context, bus eventbus.Bus, a agent.Agent) {
	t.Helper()
	runner := agent.NewRunner(a, bus, model.DefaultCellID)
	go func() { _ = runner.Start(ctx) }()
	require.Eventually(t, func() bool {
		return runner.Health().Status == agent.HealthHealthy
	}, time.Second, time.Millisecond)
	t.Cleanup(runner.Stop)
}

func seedJob(t *testing.T, store storage.Store, userID int64, description string) int64 {
	t.Helper()
	app := &model.JobApplication{
		UserID:         userID,
		Company:        "Acme",
		Position:       "Backend Engineer",
		URL:            fmt.Sprintf("https://jobs.example.com/%d/%d", userID, time.Now().UnixNano()),
		JobDescription: description,
		Location:       "Remote",
		Remote:         true,
		Status:         model.StatusDiscovered,
		Source:         "test",
	}
	require.NoError(t, store.CreateJobApplication(context.Background(), app))
	return app.ID
}

func TestQuickResumeWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewMockBus()
	store := newTestStore(t)

	startAgent(t, ctx, bus, agent.NewAnalyzerAgent(store, bus, &agent.KeywordAnalyzer{}, model.DefaultCellID))
	startAgent(t, ctx, bus, agent.NewGeneratorAgent(store, bus, &agent.PlainRenderer{}, memDocStore{}, model.DefaultCellID))
	startAgent(t, ctx, bus, agent.NewOptimizerAgent(store, bus, model.DefaultCellID))

	e := newTestEngine(t, bus, Options{})

	jobID := seedJob(t, store, 42, "Senior Go engineer: Kubernetes, PostgreSQL, Redis, AWS")
	id, err := e.CreateAndStartWorkflow(ctx, TypeQuickResume, 42, map[string]any{"job_id": jobID})
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusCompleted)
	for _, s := range v.Steps {
		assert.Equal(t, StepCompleted, s.Status, "step %s", s.StepID)
	}

	// 分析持久化，简历落库，上下文聚合各步骤结果
	job, err := store.GetJobApplication(ctx, jobID)
	require.NoError(t, err)
	assert.NotEmpty(t, job.Analysis)
	var analysis map[string]any
	require.NoError(t, json.Unmarshal(job.Analysis, &analysis))
	assert.NotEmpty(t, analysis["required_skills"])

	versions, err := store.ListResumeVersionsByJob(ctx, jobID)
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Contains(t, v.Context, "resume_url")
	assert.Contains(t, v.Context, "recommendations")

	// 结果事件携带工作流元数据（由请求事件传播）
	generated := bus.PublishedOfType(model.EventResumeGenerated)
	require.NotEmpty(t, generated)
	assert.Equal(t, id, generated[len(generated)-1].Metadata["workflow_id"])
}

func TestJobApplicationWorkflowFullPipeline(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewMockBus()
	store := newTestStore(t)

	discovery := agent.NewDiscoveryAgent(store, bus, model.DefaultCellID)
	startAgent(t, ctx, bus, agent.NewAnalyzerAgent(store, bus, &agent.KeywordAnalyzer{}, model.DefaultCellID))
	startAgent(t, ctx, bus, agent.NewGeneratorAgent(store, bus, &agent.PlainRenderer{}, memDocStore{}, model.DefaultCellID))
	startAgent(t, ctx, bus, agent.NewOptimizerAgent(store, bus, model.DefaultCellID))

	e := newTestEngine(t, bus, Options{Discovery: discovery})

	id, err := e.CreateAndStartWorkflow(ctx, TypeJobApplication, 42, map[string]any{
		"search_terms": []string{"golang developer"},
	})
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusCompleted)
	for _, s := range v.Steps {
		assert.Equal(t, StepCompleted, s.Status, "step %s", s.StepID)
	}
	assert.Equal(t, float64(100), v.ProgressPercentage)

	// 发现步骤产出进入上下文并驱动后续单职位步骤
	discovered := inputInt64(v.Context, "jobs_discovered")
	assert.Greater(t, discovered, int64(0))
	assert.NotZero(t, inputInt64(v.Context, "job_id"))

	jobs, err := store.ListJobApplicationsByUser(ctx, 42)
	require.NoError(t, err)
	assert.NotEmpty(t, jobs)
}

func TestDiscoveryStepWithoutRunnerFails(t *testing.T) {
	bus := eventbus.NewMockBus()
	spec := StepSpec{
		ID:         "discover",
		Name:       "discover",
		Handler:    HandlerDiscovery,
		Timeout:    100 * time.Millisecond,
		RetryDelay: time.Millisecond,
		Required:   true,
	}
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{testType: {spec}}})

	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, nil)
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusFailed)
	assert.Contains(t, v.ErrorMessage, "no discovery runner")
}

func TestAgentStepPublishFailure(t *testing.T) {
	bus := eventbus.NewMockBus()
	spec := StepSpec{
		ID:         "analyze",
		Name:       "analyze",
		Handler:    HandlerAnalyzer,
		Timeout:    100 * time.Millisecond,
		RetryDelay: time.Millisecond,
		Required:   true,
	}
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{testType: {spec}}})

	bus.FailPublishes(true)
	id, err := e.CreateWorkflow(testType, 7, map[string]any{"job_id": int64(1)})
	require.NoError(t, err)
	require.NoError(t, e.StartWorkflow(context.Background(), id))

	v := awaitStatus(t, e, id, StatusFailed)
	assert.Contains(t, v.ErrorMessage, "failed")
	bus.FailPublishes(false)
}

func TestAgentStepTimesOutWithoutResult(t *testing.T) {
	bus := eventbus.NewMockBus()
	spec := StepSpec{
		ID:         "analyze",
		Name:       "analyze",
		Handler:    HandlerAnalyzer,
		Timeout:    20 * time.Millisecond,
		RetryDelay: time.Millisecond,
		Required:   true,
	}
	e := newTestEngine(t, bus, Options{Specs: map[WorkflowType][]StepSpec{testType: {spec}}})

	// 无 Analyzer 在线：请求发布成功但永远等不到关联结果
	id, err := e.CreateAndStartWorkflow(context.Background(), testType, 7, map[string]any{"job_id": int64(1)})
	require.NoError(t, err)

	v := awaitStatus(t, e, id, StatusFailed)
	assert.Contains(t, v.ErrorMessage, "timed out")
}
