// Package repository 简历版本相关的存储操作
package repository

import (
	"context"
	"encoding/json"
	"time"

	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/storage"
)

const resumeColumns = `id, user_id, job_id, version_name, template, object_key, resume_url, metrics, created_at`

// CreateResumeVersion 创建简历版本记录并回填 ID
func (s *Store) CreateResumeVersion(ctx context.Context, rv *model.ResumeVersion) error {
	rv.CreatedAt = time.Now().UTC()
	id, err := s.insertWithID(ctx, `
		INSERT INTO resume_versions (user_id, job_id, version_name, template, object_key, resume_url, metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rv.UserID, rv.JobID, rv.VersionName, rv.Template, rv.ObjectKey, rv.ResumeURL,
		nullableJSON(rv.Metrics), rv.CreatedAt)
	if err != nil {
		return err
	}
	rv.ID = id
	return nil
}

// ListResumeVersionsByJob 列出某职位的全部简历版本, 按创建时间倒序
func (s *Store) ListResumeVersionsByJob(ctx context.Context, jobID int64) ([]*model.ResumeVersion, error) {
	query := s.rebind(`SELECT ` + resumeColumns + `
		FROM resume_versions WHERE job_id = $1 ORDER BY created_at DESC`)
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*model.ResumeVersion
	for rows.Next() {
		rv := &model.ResumeVersion{}
		var metrics []byte
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.JobID, &rv.VersionName, &rv.Template,
			&rv.ObjectKey, &rv.ResumeURL, &metrics, &rv.CreatedAt); err != nil {
			return nil, err
		}
		rv.Metrics = metrics
		versions = append(versions, rv)
	}
	return versions, rows.Err()
}

// UpdateResumeVersionMetrics 更新简历版本的质量指标
func (s *Store) UpdateResumeVersionMetrics(ctx context.Context, id int64, metrics json.RawMessage) error {
	query := s.rebind(`UPDATE resume_versions SET metrics = $1 WHERE id = $2`)
	result, err := s.db.ExecContext(ctx, query, []byte(metrics), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
