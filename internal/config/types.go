package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
// api-server 和 agent-worker 共用同一 schema，通过章节区分
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`   // API Server
	Cell     CellConfig     `yaml:"cell"`     // 部署单元标识
	Database DatabaseConfig `yaml:"database"` // 数据库（postgres / sqlite）
	Redis    RedisConfig    `yaml:"redis"`    // Redis Streams 事件总线
	MinIO    MinIOConfig    `yaml:"minio"`    // 简历产物对象存储
	Auth     AuthConfig     `yaml:"auth"`     // 认证（API Server）
	Engine   EngineConfig   `yaml:"engine"`   // 工作流引擎
	Agents   AgentsConfig   `yaml:"agents"`   // Agent 运行时
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// CellConfig 部署单元（cell）标识配置
// 每个 cell 是一套独立部署的协调核心实例
type CellConfig struct {
	ID string `yaml:"id"`
}

type DatabaseConfig struct {
	Driver  string `yaml:"driver"` // "postgres" 或 "sqlite"
	Path    string `yaml:"path"`   // SQLite 文件路径
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// AuthConfig 认证配置
// JWTSecret 只从 JWT_SECRET 环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret      string        `yaml:"-"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"` // 例如 "15m"
}

// EngineConfig 工作流引擎配置
type EngineConfig struct {
	MonitorInterval time.Duration `yaml:"monitor_interval"` // 超时监控检查间隔
	HistoryLimit    int           `yaml:"history_limit"`    // 已完成工作流的内存保留上限
}

// AgentsConfig Agent 运行时配置
type AgentsConfig struct {
	DiscoveryInterval   time.Duration `yaml:"discovery_interval"`    // 定时职位发现间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval"` // 健康心跳间隔
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	CellID         string
	DatabaseDriver string // "postgres" 或 "sqlite"
	DatabaseURL    string
	RedisURL       string
	APIPort        string
	MinIO          MinIOConfig
	Auth           AuthConfig
	Engine         EngineConfig
	Agents         AgentsConfig
}

// defaultYAMLConfig 硬编码默认值（最低优先级）
func defaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Cell:     CellConfig{ID: "cell-001"},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, User: "resume", Name: "resume_automation", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: "resume-automation"},
		Auth:     AuthConfig{AccessTokenTTL: 15 * time.Minute},
		Engine:   EngineConfig{MonitorInterval: 30 * time.Second, HistoryLimit: 100},
		Agents:   AgentsConfig{DiscoveryInterval: 30 * time.Minute, HealthCheckInterval: 60 * time.Second},
	}
}

// validate 验证并填充引擎默认值
func (e *EngineConfig) validate() {
	if e.MonitorInterval == 0 {
		e.MonitorInterval = 30 * time.Second
	}
	if e.HistoryLimit <= 0 {
		e.HistoryLimit = 100
	}
}

// validate 验证并填充 Agent 默认值
func (a *AgentsConfig) validate() {
	if a.DiscoveryInterval == 0 {
		a.DiscoveryInterval = 30 * time.Minute
	}
	if a.HealthCheckInterval == 0 {
		a.HealthCheckInterval = 60 * time.Second
	}
}
