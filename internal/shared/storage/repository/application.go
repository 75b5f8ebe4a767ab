// Package repository 职位申请相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/storage"
)

const applicationColumns = `id, user_id, company, position, url, job_description, location, remote,
	salary_min, salary_max, status, source, analysis, extra_data, created_at, updated_at`

// CreateJobApplication 创建职位申请并回填 ID
func (s *Store) CreateJobApplication(ctx context.Context, app *model.JobApplication) error {
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	if app.Status == "" {
		app.Status = model.StatusDiscovered
	}

	id, err := s.insertWithID(ctx, `
		INSERT INTO job_applications (user_id, company, position, url, job_description, location, remote,
			salary_min, salary_max, status, source, analysis, extra_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		app.UserID, app.Company, app.Position, app.URL, app.JobDescription, app.Location, app.Remote,
		app.SalaryMin, app.SalaryMax, app.Status, app.Source,
		nullableJSON(app.Analysis), nullableJSON(app.ExtraData), app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return err
	}
	app.ID = id
	return nil
}

// GetJobApplication 按 ID 获取职位申请
func (s *Store) GetJobApplication(ctx context.Context, id int64) (*model.JobApplication, error) {
	query := s.rebind(`SELECT ` + applicationColumns + ` FROM job_applications WHERE id = $1`)
	return scanApplication(s.db.QueryRowContext(ctx, query, id))
}

// GetJobApplicationByURL 按 (user_id, url) 获取职位申请（抓取去重）
func (s *Store) GetJobApplicationByURL(ctx context.Context, userID int64, url string) (*model.JobApplication, error) {
	query := s.rebind(`SELECT ` + applicationColumns + ` FROM job_applications WHERE user_id = $1 AND url = $2`)
	return scanApplication(s.db.QueryRowContext(ctx, query, userID, url))
}

// UpdateJobApplicationStatus 更新申请状态
func (s *Store) UpdateJobApplicationStatus(ctx context.Context, id int64, status model.ApplicationStatus) error {
	query := s.rebind(`UPDATE job_applications SET status = $1, updated_at = $2 WHERE id = $3`)
	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateJobApplicationAnalysis 写入 LLM 分析结果并将状态推进为 analyzed
func (s *Store) UpdateJobApplicationAnalysis(ctx context.Context, id int64, analysis json.RawMessage) error {
	query := s.rebind(`UPDATE job_applications SET analysis = $1, status = $2, updated_at = $3 WHERE id = $4`)
	res, err := s.db.ExecContext(ctx, query, nullableJSON(analysis), model.StatusAnalyzed, time.Now().UTC(), id)
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListJobApplicationsByUser 列出用户的全部职位申请（新→旧）
func (s *Store) ListJobApplicationsByUser(ctx context.Context, userID int64) ([]*model.JobApplication, error) {
	query := s.rebind(`SELECT ` + applicationColumns + ` FROM job_applications WHERE user_id = $1 ORDER BY created_at DESC`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var apps []*model.JobApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// scanApplication 辅助函数
func scanApplication(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.JobApplication, error) {
	app := &model.JobApplication{}
	var analysis, extraData *[]byte
	err := scanner.Scan(
		&app.ID, &app.UserID, &app.Company, &app.Position, &app.URL, &app.JobDescription,
		&app.Location, &app.Remote, &app.SalaryMin, &app.SalaryMax, &app.Status, &app.Source,
		&analysis, &extraData, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if analysis != nil {
		app.Analysis = *analysis
	}
	if extraData != nil {
		app.ExtraData = *extraData
	}
	return app, nil
}

// nullableJSON 空 JSON 写为 NULL
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
