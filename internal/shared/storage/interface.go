// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方（Agent、API Handler）只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/ + driver/{postgres,sqlite}
//   - 初始化时通过依赖注入传入实现
package storage

import (
	"context"
	"encoding/json"

	"resume-automation/internal/shared/model"
)

// Store 持久化存储接口
//
// 覆盖协调核心依赖的全部领域记录读写。Agent 通过事件 data 中
// 携带的 id 读写这些记录（窄调用边界）。
type Store interface {
	// 用户

	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListActiveUsers(ctx context.Context) ([]*model.User, error)

	// 职位申请

	CreateJobApplication(ctx context.Context, app *model.JobApplication) error
	GetJobApplication(ctx context.Context, id int64) (*model.JobApplication, error)
	GetJobApplicationByURL(ctx context.Context, userID int64, url string) (*model.JobApplication, error)
	UpdateJobApplicationStatus(ctx context.Context, id int64, status model.ApplicationStatus) error
	UpdateJobApplicationAnalysis(ctx context.Context, id int64, analysis json.RawMessage) error
	ListJobApplicationsByUser(ctx context.Context, userID int64) ([]*model.JobApplication, error)

	// 简历版本

	CreateResumeVersion(ctx context.Context, rv *model.ResumeVersion) error
	ListResumeVersionsByJob(ctx context.Context, jobID int64) ([]*model.ResumeVersion, error)
	UpdateResumeVersionMetrics(ctx context.Context, id int64, metrics json.RawMessage) error

	Close() error
}
