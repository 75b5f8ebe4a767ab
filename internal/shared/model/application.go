// Package model 定义核心数据模型
//
// application.go 包含求职领域的数据模型定义：
//   - JobApplication：一次职位申请记录
//   - ApplicationStatus：申请状态枚举
//   - ResumeVersion：针对某职位生成的简历版本
//   - User：用户实体
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// ApplicationStatus - 申请状态
// ============================================================================

// ApplicationStatus 职位申请状态
//
// 典型生命周期：
//
//	discovered → analyzed → resume_ready → applied → interview → offer
//	                                              ↘ rejected
type ApplicationStatus string

const (
	// StatusDiscovered 已发现：刚从职位源抓取到
	StatusDiscovered ApplicationStatus = "discovered"

	// StatusAnalyzed 已分析：职位要求提取完成
	StatusAnalyzed ApplicationStatus = "analyzed"

	// StatusResumeReady 简历就绪：定制简历已生成
	StatusResumeReady ApplicationStatus = "resume_ready"

	// StatusApplied 已投递
	StatusApplied ApplicationStatus = "applied"

	// StatusInterview 进入面试
	StatusInterview ApplicationStatus = "interview"

	// StatusOffer 收到 Offer
	StatusOffer ApplicationStatus = "offer"

	// StatusRejected 已拒绝
	StatusRejected ApplicationStatus = "rejected"
)

// ============================================================================
// JobApplication - 职位申请
// ============================================================================

// JobApplication 表示用户对一个职位的申请记录
//
// 由 Discovery Agent 创建，后续 Agent 只更新分析结果与状态。
// (URL, UserID) 唯一，用于抓取去重。
type JobApplication struct {
	ID             int64             `json:"id" db:"id"`
	UserID         int64             `json:"user_id" db:"user_id"`
	Company        string            `json:"company" db:"company"`
	Position       string            `json:"position" db:"position"`
	URL            string            `json:"url" db:"url"`
	JobDescription string            `json:"job_description" db:"job_description"`
	Location       string            `json:"location" db:"location"`
	Remote         bool              `json:"remote" db:"remote"`
	SalaryMin      *int64            `json:"salary_min,omitempty" db:"salary_min"`
	SalaryMax      *int64            `json:"salary_max,omitempty" db:"salary_max"`
	Status         ApplicationStatus `json:"status" db:"status"`
	Source         string            `json:"source" db:"source"`
	Analysis       json.RawMessage   `json:"analysis,omitempty" db:"analysis"`     // LLM 分析结果（JSONB）
	ExtraData      json.RawMessage   `json:"extra_data,omitempty" db:"extra_data"` // 抓取附加信息（JSONB）
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// ============================================================================
// ResumeVersion - 简历版本
// ============================================================================

// ResumeVersion 针对某职位生成的一个简历版本
//
// 同一职位可生成多个版本用于 A/B 测试，Optimizer Agent
// 根据投递结果回写效果指标。
type ResumeVersion struct {
	ID          int64           `json:"id" db:"id"`
	UserID      int64           `json:"user_id" db:"user_id"`
	JobID       int64           `json:"job_id" db:"job_id"`
	VersionName string          `json:"version_name" db:"version_name"`
	Template    string          `json:"template" db:"template"`
	ObjectKey   string          `json:"object_key" db:"object_key"` // 对象存储中的文档路径
	ResumeURL   string          `json:"resume_url" db:"resume_url"`
	Metrics     json.RawMessage `json:"metrics,omitempty" db:"metrics"` // 效果指标（JSONB）
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// ============================================================================
// User - 用户
// ============================================================================

// User 用户实体
//
// PasswordHash 使用 bcrypt，永不出现在 JSON 输出中。
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	FullName     string    `json:"full_name" db:"full_name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
