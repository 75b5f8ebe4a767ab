// Package postgres PostgreSQL 数据库驱动
//
// 提供 PostgreSQL 连接管理、方言实现和自动 Schema 迁移。
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"resume-automation/internal/shared/storage/dbutil"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect PostgreSQL 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverPostgres
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.RebindToPositional(query)
}

func (d *Dialect) CurrentTimestamp() string {
	return "NOW()"
}

func (d *Dialect) SupportsReturning() bool {
	return true
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 PostgreSQL 数据库连接
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// NewDialect 创建 PostgreSQL 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema PostgreSQL 完整建表语句
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	full_name     TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS job_applications (
	id              BIGSERIAL PRIMARY KEY,
	user_id         BIGINT NOT NULL,
	company         TEXT NOT NULL,
	position        TEXT NOT NULL,
	url             TEXT NOT NULL,
	job_description TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	remote          BOOLEAN NOT NULL DEFAULT FALSE,
	salary_min      BIGINT,
	salary_max      BIGINT,
	status          TEXT NOT NULL DEFAULT 'discovered',
	source          TEXT NOT NULL DEFAULT '',
	analysis        JSONB,
	extra_data      JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, url)
);

CREATE INDEX IF NOT EXISTS idx_job_applications_user ON job_applications (user_id);
CREATE INDEX IF NOT EXISTS idx_job_applications_status ON job_applications (status);

CREATE TABLE IF NOT EXISTS resume_versions (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL,
	job_id       BIGINT NOT NULL,
	version_name TEXT NOT NULL,
	template     TEXT NOT NULL DEFAULT '',
	object_key   TEXT NOT NULL DEFAULT '',
	resume_url   TEXT NOT NULL DEFAULT '',
	metrics      JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_resume_versions_job ON resume_versions (job_id);
`
