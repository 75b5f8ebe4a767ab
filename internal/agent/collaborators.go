// Package agent 外部协作者的窄接口
//
// LLM 分析、简历渲染、职位抓取是协调核心之外的能力，
// 这里只定义 Agent 需要的最小接口，并提供确定性的内置实现
// （关键词启发式/模板渲染/样例职位源），供开发与测试使用。
// 真实实现通过依赖注入替换。
package agent

import (
	"context"
	"fmt"
	"strings"
)

// ============================================================================
// JobAnalyzer - 职位描述分析
// ============================================================================

// AnalysisRequest 职位分析请求
type AnalysisRequest struct {
	JobDescription string
	Company        string
	Position       string
}

// JobAnalyzer 职位描述分析器
//
// 返回结构化分析结果（required_skills、experience_level、
// match_keywords、summary 等开放字段）。
type JobAnalyzer interface {
	AnalyzeJob(ctx context.Context, req AnalysisRequest) (map[string]any, error)
}

// commonSkills 关键词启发式使用的技能表
var commonSkills = []string{
	"python", "javascript", "java", "go", "react", "node.js", "aws", "docker",
	"kubernetes", "sql", "postgresql", "mongodb", "redis", "git",
	"machine learning", "ai", "data science", "backend", "frontend",
	"full-stack", "devops", "cloud", "microservices", "api",
}

// KeywordAnalyzer 基于关键词启发式的内置分析器
//
// 无外部依赖、结果确定，用于开发环境和单元测试。
type KeywordAnalyzer struct{}

var _ JobAnalyzer = (*KeywordAnalyzer)(nil)

// AnalyzeJob 从职位描述中提取技能关键词
func (a *KeywordAnalyzer) AnalyzeJob(_ context.Context, req AnalysisRequest) (map[string]any, error) {
	text := strings.ToLower(req.JobDescription)

	var found []string
	for _, skill := range commonSkills {
		if strings.Contains(text, skill) {
			found = append(found, skill)
		}
	}

	required := found
	if len(required) > 5 {
		required = required[:5]
	}

	experienceLevel := "mid"
	switch {
	case strings.Contains(text, "senior") || strings.Contains(text, "lead"):
		experienceLevel = "senior"
	case strings.Contains(text, "junior") || strings.Contains(text, "entry"):
		experienceLevel = "junior"
	}

	jobType := "technical"
	if strings.Contains(text, "manager") || strings.Contains(text, "management") {
		jobType = "management"
	}

	// 粗略匹配度：命中技能数 / 技能表规模上限
	matchScore := float64(len(found)) / 10.0
	if matchScore > 1.0 {
		matchScore = 1.0
	}

	return map[string]any{
		"required_skills":  required,
		"technologies":     found,
		"experience_level": experienceLevel,
		"job_type":         jobType,
		"remote_friendly":  strings.Contains(text, "remote"),
		"match_keywords":   found,
		"match_score":      matchScore,
		"summary":          fmt.Sprintf("Keyword analysis for %s at %s", req.Position, req.Company),
	}, nil
}

// ============================================================================
// ResumeRenderer - 简历渲染
// ============================================================================

// RenderRequest 简历渲染请求
type RenderRequest struct {
	UserID   int64
	Company  string
	Position string
	Template string
	Analysis map[string]any
}

// ResumeRenderer 简历文档渲染器
//
// 输出渲染后的文档字节（生产实现产出 PDF）。
type ResumeRenderer interface {
	Render(ctx context.Context, req RenderRequest) ([]byte, error)
}

// PlainRenderer 内置纯文本渲染器（开发/测试用）
type PlainRenderer struct{}

var _ ResumeRenderer = (*PlainRenderer)(nil)

// Render 产出针对职位定制的纯文本简历
func (r *PlainRenderer) Render(_ context.Context, req RenderRequest) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Resume (template: %s)\n", req.Template)
	fmt.Fprintf(&b, "Target: %s @ %s\n", req.Position, req.Company)
	if keywords, ok := req.Analysis["match_keywords"].([]string); ok && len(keywords) > 0 {
		fmt.Fprintf(&b, "Highlighted skills: %s\n", strings.Join(keywords, ", "))
	}
	return []byte(b.String()), nil
}

// ============================================================================
// JobSource - 职位抓取源
// ============================================================================

// DiscoveredJob 职位抓取结果
type DiscoveredJob struct {
	Title        string
	Company      string
	Location     string
	URL          string
	Description  string
	Remote       bool
	SalaryMin    int64
	SalaryMax    int64
	Requirements []string
}

// JobSource 单个职位板的抓取接口
type JobSource interface {
	// Scrape 按搜索词抓取职位
	Scrape(ctx context.Context, searchTerms []string, location string) ([]DiscoveredJob, error)
}

// SampleJobSource 内置样例职位源（开发/测试用）
//
// 按搜索词生成确定性的样例职位，URL 对同一搜索词稳定，
// 保证去重逻辑可以被重复触发验证。
type SampleJobSource struct {
	Board string
}

var _ JobSource = (*SampleJobSource)(nil)

// Scrape 按搜索词生成样例职位（每个词一条，最多 3 条）
func (s *SampleJobSource) Scrape(_ context.Context, searchTerms []string, location string) ([]DiscoveredJob, error) {
	terms := searchTerms
	if len(terms) > 3 {
		terms = terms[:3]
	}

	jobs := make([]DiscoveredJob, 0, len(terms))
	for i, term := range terms {
		jobs = append(jobs, DiscoveredJob{
			Title:       fmt.Sprintf("Senior %s Engineer", term),
			Company:     "TechCorp Inc",
			Location:    location,
			URL:         fmt.Sprintf("https://%s.example.com/jobs/view/123456%d", s.Board, i),
			Description: fmt.Sprintf("We are looking for an experienced %s engineer to join our team...", term),
			Remote:      strings.EqualFold(location, "remote"),
			SalaryMin:   80000,
			SalaryMax:   120000,
			Requirements: []string{
				fmt.Sprintf("5+ years %s experience", term),
				"Bachelor's degree in Computer Science",
				"Strong problem-solving skills",
			},
		})
	}
	return jobs, nil
}
