// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//	.env 文件同时被 Docker Compose（--env-file）、Go 应用（godotenv）、
//	systemd（EnvironmentFile=）共用，确保单一数据源。
//
// 配置路径确定策略：
//  1. --config 命令行参数（显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/missions-admin/
//     - dev/test → ./configs/
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml + .env.dev
//   - 测试: APP_ENV=test → configs/test.yaml + .env.test
//   - 生产: APP_ENV=prod → /etc/missions-admin/prod.yaml + prod.env
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer APIServerConfig `yaml:"api_server"` // API Server（端口 + URL）
	Database  DatabaseConfig  `yaml:"database"`   // 数据库
	Redis     RedisConfig     `yaml:"redis"`      // Redis（声明缓存 + 队列 + 事件总线）
	Etcd      EtcdConfig      `yaml:"etcd"`       // etcd（调度器选主，可选）
	MinIO     MinIOConfig     `yaml:"minio"`      // MinIO 对象存储（轨迹产物，可选）
	Scheduler SchedulerConfig `yaml:"scheduler"`  // 调度器
	Engine    EngineConfig    `yaml:"engine"`     // 执行引擎
	Auth      AuthConfig      `yaml:"auth"`       // 认证
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port string `yaml:"port"` // 监听端口
	URL  string `yaml:"url"`  // API Server 完整 URL（流式客户端连接用）
}

// AuthConfig 认证配置
// 注意：JWTSecret/AdminEmail/AdminPassword 只从环境变量读取，不存储在 YAML 中。
// JWTSecret 为空时服务以单用户模式运行（所有请求归属 userId="local"）。
type AuthConfig struct {
	JWTSecret       string `yaml:"-"`                 // 只从 JWT_SECRET 环境变量读取
	AccessTokenTTL  string `yaml:"access_token_ttl"`  // 例如 "15m"
	RefreshTokenTTL string `yaml:"refresh_token_ttl"` // 例如 "168h"
	AdminEmail      string `yaml:"-"`                 // 只从 ADMIN_EMAIL 环境变量读取
	AdminPassword   string `yaml:"-"`                 // 只从 ADMIN_PASSWORD 环境变量读取
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres", "sqlite", or "mongodb"
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从环境变量读取（DB_PASSWORD / MONGO_ROOT_PASSWORD）
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port，如 mongodb://localhost:27017）
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// EtcdConfig etcd 配置
// Endpoints 为空时调度器不参与选主，单实例直接持有调度权。
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`  // 是否使用 HTTPS
	Bucket    string `yaml:"bucket"`   // 默认 bucket 名称
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	NodeID       string                  `yaml:"node_id"`
	TickInterval time.Duration           `yaml:"tick_interval"` // 评估周期（调度精度为分钟，周期须 < 1m）
	Workers      int                     `yaml:"workers"`       // 执行工作者数量
	Redis        SchedulerRedisConfig    `yaml:"redis"`
	Fallback     SchedulerFallbackConfig `yaml:"fallback"`
}

type SchedulerRedisConfig struct {
	ReadTimeout time.Duration `yaml:"read_timeout"`
	ReadCount   int           `yaml:"read_count"`
}

// SchedulerFallbackConfig 兜底轮询配置
// 队列投递失败或工作者崩溃时，超过 StaleThreshold 仍处于 queued
// 状态的执行由兜底轮询直接拉起。
type SchedulerFallbackConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// EngineConfig 执行引擎配置
type EngineConfig struct {
	BaseDelayMs         int           `yaml:"base_delay_ms"`         // 重试退避基础延迟
	MaxDelayMs          int           `yaml:"max_delay_ms"`          // 重试退避延迟上限
	MaxAttempts         int           `yaml:"max_attempts"`          // 单个执行键的最大尝试次数（超限死信）
	StepRetryLimit      int           `yaml:"step_retry_limit"`      // 单步瞬时失败重试次数
	StepTimeout         time.Duration `yaml:"step_timeout"`          // 外部调用单步超时
	ArtifactInlineLimit int           `yaml:"artifact_inline_limit"` // 步骤负载内联上限（字节），超限转对象存储
	OccurrenceClaimTTL  time.Duration `yaml:"occurrence_claim_ttl"`  // 调度触发声明窗口
	TriggerClaimTTL     time.Duration `yaml:"trigger_claim_ttl"`     // 手动触发去重窗口
	BuildClaimTTL       time.Duration `yaml:"build_claim_ttl"`       // 构建请求去重窗口
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres", "sqlite", or "mongodb"
	DatabaseURL    string
	DatabaseDBName string // MongoDB 数据库名称
	RedisURL       string
	EtcdEndpoints  []string
	EtcdPrefix     string
	APIPort        string
	APIServer      APIServerConfig
	Scheduler      SchedulerConfig
	Engine         EngineConfig
	Auth           AuthConfig
	MinIO          MinIOConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
