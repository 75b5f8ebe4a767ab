package workflow

import (
	"context"
	"fmt"
	"time"
)

// ============================================================
// 处理角色与步骤函数
// ============================================================

// HandlerRole 步骤的处理角色（封闭枚举）
//
// 角色决定步骤如何执行：前四个角色由引擎映射到对应 Agent
// 的请求事件或直接调用；HandlerFunc 执行步骤内嵌的本地函数。
type HandlerRole string

const (
	HandlerDiscovery HandlerRole = "discovery" // 职位发现（直接调用 DiscoveryRunner）
	HandlerAnalyzer  HandlerRole = "analyzer"  // 职位分析（发布分析请求事件）
	HandlerGenerator HandlerRole = "generator" // 简历生成（发布生成请求事件）
	HandlerOptimizer HandlerRole = "optimizer" // 简历优化（发布优化请求事件）
	HandlerFunc      HandlerRole = "func"      // 本地函数步骤
)

// StepFunc HandlerFunc 角色步骤的执行体
type StepFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// ============================================================
// 工作流类型
// ============================================================

// WorkflowType 工作流种类
type WorkflowType string

const (
	TypeJobApplication  WorkflowType = "job_application"  // 完整求职流水线
	TypeQuickResume     WorkflowType = "quick_resume"     // 针对单个职位快速出简历
	TypeBulkApplication WorkflowType = "bulk_application" // 批量投递
	TypeOptimization    WorkflowType = "optimization"     // 存量简历优化
)

// ============================================================
// 步骤规格
// ============================================================

const (
	defaultStepTimeout = 300 * time.Second
	defaultRetryDelay  = 5 * time.Second
)

// StepSpec 步骤的声明式规格
//
// 工作流种类之间的全部差异都收敛在规格表里：同一个执行引擎
// 按表驱动，不为每种工作流写专门代码。
type StepSpec struct {
	ID         string
	Name       string
	Handler    HandlerRole
	Fn         StepFunc
	InputData  map[string]any
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
	Required   bool
}

// build 按规格实例化步骤（输入做浅拷贝，缺省值补齐）
func (s StepSpec) build() *Step {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	delay := s.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	input := make(map[string]any, len(s.InputData))
	for k, v := range s.InputData {
		input[k] = v
	}
	return &Step{
		ID:         s.ID,
		Name:       s.Name,
		Handler:    s.Handler,
		Fn:         s.Fn,
		InputData:  input,
		Timeout:    timeout,
		RetryCount: s.RetryCount,
		RetryDelay: delay,
		Required:   s.Required,
		Status:     StepPending,
	}
}

// deferredStep 尚未上线的步骤占位：记录意图并直接成功，
// 不阻塞流水线收敛。
func deferredStep(note string) StepFunc {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{
			"deferred": true,
			"note":     note,
		}, nil
	}
}

// DefaultStepSpecs 各工作流种类的内置步骤规格表
func DefaultStepSpecs() map[WorkflowType][]StepSpec {
	return map[WorkflowType][]StepSpec{
		TypeJobApplication: {
			{
				ID:      "discover_jobs",
				Name:    "Discover Jobs",
				Handler: HandlerDiscovery,
				InputData: map[string]any{
					"location": "Remote",
					"max_jobs": 10,
				},
				Timeout:    120 * time.Second,
				RetryCount: 2,
				Required:   true,
			},
			{
				ID:         "analyze_jobs",
				Name:       "Analyze Jobs",
				Handler:    HandlerAnalyzer,
				Timeout:    300 * time.Second,
				RetryCount: 3,
				Required:   true,
			},
			{
				ID:      "generate_resumes",
				Name:    "Generate Resumes",
				Handler: HandlerGenerator,
				InputData: map[string]any{
					"template":                   "modern_professional",
					"generate_multiple_versions": true,
				},
				Timeout:    180 * time.Second,
				RetryCount: 2,
				Required:   true,
			},
			{
				ID:      "optimize_resumes",
				Name:    "Optimize Resumes",
				Handler: HandlerOptimizer,
				InputData: map[string]any{
					"optimization_type": "ats_optimization",
				},
				Timeout:    120 * time.Second,
				RetryCount: 1,
				Required:   false,
			},
			{
				ID:      "submit_applications",
				Name:    "Submit Applications",
				Handler: HandlerFunc,
				Fn:      deferredStep("automated submission not yet enabled"),
				InputData: map[string]any{
					"auto_submit":      false,
					"submission_delay": 300,
				},
				Timeout:    600 * time.Second,
				RetryCount: 1,
				Required:   false,
			},
			{
				ID:      "setup_tracking",
				Name:    "Setup Tracking",
				Handler: HandlerFunc,
				Fn:      deferredStep("application tracking not yet enabled"),
				InputData: map[string]any{
					"follow_up_schedule":    "weekly",
					"status_check_interval": 3,
				},
				Timeout:    60 * time.Second,
				RetryCount: 1,
				Required:   false,
			},
		},
		TypeQuickResume: {
			{
				ID:         "analyze_job",
				Name:       "Analyze Job",
				Handler:    HandlerAnalyzer,
				Timeout:    180 * time.Second,
				RetryCount: 2,
				Required:   true,
			},
			{
				ID:      "generate_resume",
				Name:    "Generate Resume",
				Handler: HandlerGenerator,
				InputData: map[string]any{
					"template": "modern_professional",
				},
				Timeout:    120 * time.Second,
				RetryCount: 2,
				Required:   true,
			},
			{
				ID:      "optimize_resume",
				Name:    "Optimize Resume",
				Handler: HandlerOptimizer,
				InputData: map[string]any{
					"optimization_type": "job_specific",
				},
				Timeout:    90 * time.Second,
				RetryCount: 1,
				Required:   false,
			},
		},
		TypeBulkApplication: {
			{
				ID:      "bulk_discover_jobs",
				Name:    "Bulk Discover Jobs",
				Handler: HandlerDiscovery,
				InputData: map[string]any{
					"max_jobs":   50,
					"job_boards": []string{"linkedin", "indeed", "glassdoor"},
				},
				Timeout:    600 * time.Second,
				RetryCount: 2,
				Required:   true,
			},
			{
				ID:      "batch_analyze_jobs",
				Name:    "Batch Analyze Jobs",
				Handler: HandlerAnalyzer,
				InputData: map[string]any{
					"batch_mode":          true,
					"parallel_processing": true,
				},
				Timeout:    900 * time.Second,
				RetryCount: 1,
				Required:   true,
			},
			{
				ID:      "smart_generate_resumes",
				Name:    "Smart Generate Resumes",
				Handler: HandlerGenerator,
				InputData: map[string]any{
					"template_selection": "auto",
					"reuse_similar":      true,
					"batch_mode":         true,
				},
				Timeout:    1200 * time.Second,
				RetryCount: 1,
				Required:   true,
			},
			{
				ID:      "bulk_optimize",
				Name:    "Bulk Optimize",
				Handler: HandlerOptimizer,
				InputData: map[string]any{
					"optimization_type":     "bulk_ats",
					"prioritize_high_match": true,
				},
				Timeout:    600 * time.Second,
				RetryCount: 1,
				Required:   false,
			},
			{
				ID:      "staged_submission",
				Name:    "Staged Submission",
				Handler: HandlerFunc,
				Fn:      deferredStep("staged submission not yet enabled"),
				InputData: map[string]any{
					"submission_strategy": "staged",
					"daily_limit":         20,
					"submission_spacing":  900,
				},
				Timeout:    3600 * time.Second,
				RetryCount: 1,
				Required:   false,
			},
		},
		TypeOptimization: {
			{
				ID:      "analyze_performance",
				Name:    "Analyze Performance",
				Handler: HandlerOptimizer,
				InputData: map[string]any{
					"analysis_type":      "performance_review",
					"include_benchmarks": true,
				},
				Timeout:    180 * time.Second,
				RetryCount: 1,
				Required:   true,
			},
			{
				ID:      "identify_patterns",
				Name:    "Identify Patterns",
				Handler: HandlerOptimizer,
				InputData: map[string]any{
					"analysis_type":       "pattern_recognition",
					"cross_user_patterns": true,
				},
				Timeout:    120 * time.Second,
				RetryCount: 1,
				Required:   false,
			},
			{
				ID:      "generate_recommendations",
				Name:    "Generate Recommendations",
				Handler: HandlerOptimizer,
				InputData: map[string]any{
					"recommendation_type": "comprehensive",
					"include_examples":    true,
				},
				Timeout:    300 * time.Second,
				RetryCount: 2,
				Required:   true,
			},
			{
				ID:      "apply_improvements",
				Name:    "Apply Improvements",
				Handler: HandlerFunc,
				Fn:      deferredStep("automatic improvement application not yet enabled"),
				InputData: map[string]any{
					"improvement_mode":  true,
					"preserve_original": true,
				},
				Timeout:    180 * time.Second,
				RetryCount: 1,
				Required:   false,
			},
		},
	}
}

// ============================================================
// 工作流模板目录
// ============================================================

// Template 面向用户的工作流模板（种类 + 预置参数）
type Template struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	WorkflowType WorkflowType   `json:"workflow_type"`
	Parameters   map[string]any `json:"parameters"`
}

// Templates 内置模板目录
func Templates() map[string]Template {
	return map[string]Template{
		"new_job_search": {
			Name:         "New Job Search",
			Description:  "Full pipeline: discover jobs, analyze them, generate and optimize resumes",
			WorkflowType: TypeJobApplication,
			Parameters: map[string]any{
				"search_terms": []string{"software engineer"},
				"location":     "Remote",
				"max_jobs":     10,
			},
		},
		"single_job_application": {
			Name:         "Single Job Application",
			Description:  "Quick resume for one specific job posting",
			WorkflowType: TypeQuickResume,
			Parameters: map[string]any{
				"template": "modern_professional",
			},
		},
		"bulk_job_hunting": {
			Name:         "Bulk Job Hunting",
			Description:  "High-volume discovery and staged submissions across job boards",
			WorkflowType: TypeBulkApplication,
			Parameters: map[string]any{
				"max_jobs":    50,
				"daily_limit": 20,
			},
		},
		"resume_improvement": {
			Name:         "Resume Improvement",
			Description:  "Analyze application outcomes and improve existing resumes",
			WorkflowType: TypeOptimization,
			Parameters: map[string]any{
				"optimization_type": "comprehensive",
			},
		},
	}
}

// specsFor 取某工作流种类的规格表；未知种类报错
func specsFor(specs map[WorkflowType][]StepSpec, wtype WorkflowType) ([]StepSpec, error) {
	table, ok := specs[wtype]
	if !ok {
		return nil, fmt.Errorf("unknown workflow type: %s", wtype)
	}
	return table, nil
}
