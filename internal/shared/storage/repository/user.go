// Package repository 用户相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"resume-automation/internal/shared/model"
	"resume-automation/internal/shared/storage"
)

// CreateUser 创建用户并回填 ID
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	user.CreatedAt = time.Now().UTC()
	id, err := s.insertWithID(ctx, `
		INSERT INTO users (email, full_name, password_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		user.Email, user.FullName, user.PasswordHash, user.Active, user.CreatedAt)
	if err != nil {
		return err
	}
	user.ID = id
	return nil
}

// GetUserByEmail 按邮箱获取用户
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := s.rebind(`SELECT id, email, full_name, password_hash, active, created_at
		FROM users WHERE email = $1`)
	user := &model.User{}
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.Active, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListActiveUsers 列出所有活跃用户（定时发现任务遍历用）
func (s *Store) ListActiveUsers(ctx context.Context) ([]*model.User, error) {
	query := s.rebind(`SELECT id, email, full_name, password_hash, active, created_at
		FROM users WHERE active = $1 ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		if err := rows.Scan(&user.ID, &user.Email, &user.FullName,
			&user.PasswordHash, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
