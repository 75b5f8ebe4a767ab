// Package repository 数据库无关的业务逻辑存储层
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
package repository

import (
	"context"
	"database/sql"
	"strings"

	"resume-automation/internal/shared/storage"
	"resume-automation/internal/shared/storage/dbutil"
)

// Store 通用存储实现
// 实现了 storage.Store 接口
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建通用存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// insertWithID 执行 INSERT 并回填自增主键
//
// PostgreSQL 走 RETURNING id；SQLite 走 LastInsertId。
// query 以 PG 风格编写且不含 RETURNING 子句。
func (s *Store) insertWithID(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if s.dialect.SupportsReturning() {
		var id int64
		err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, translateErr(err)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

// translateErr 将底层驱动错误转换为存储层领域错误
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	// pgx: "duplicate key value violates unique constraint"
	// sqlite: "UNIQUE constraint failed"
	if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint") {
		return storage.ErrDuplicate
	}
	return err
}
