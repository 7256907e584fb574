// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/（SQL）、mongostore/（MongoDB）
//   - 初始化时通过依赖注入传入实现
//
// 缓存、事件总线、队列在独立包：cache/、eventbus/、queue/。
package storage

import (
	"context"
	"time"

	"missions-admin/internal/shared/cache"
	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/queue"
	"missions-admin/internal/shared/storagetypes"
)

// 过滤条件类型重导出，调用方无需直接依赖 storagetypes
type (
	MissionFilter     = storagetypes.MissionFilter
	RunFilter         = storagetypes.RunFilter
	EngineEventFilter = storagetypes.EngineEventFilter
	VersionFilter     = storagetypes.VersionFilter
	DeadLetterFilter  = storagetypes.DeadLetterFilter
)

// ============================================================================
// 领域存储接口（由 repository.Store / mongostore.Store 实现）
// ============================================================================

// MissionStore 任务存储接口
type MissionStore interface {
	CreateMission(ctx context.Context, m *model.Mission) error
	GetMission(ctx context.Context, id string) (*model.Mission, error)
	ListMissions(ctx context.Context, filter MissionFilter) ([]*model.Mission, error)
	ListEnabledMissions(ctx context.Context) ([]*model.Mission, error)

	// UpsertMission 按提交的 ID 建或改：已存在则替换内容并递增版本号
	// （调度变更时清空触发水位），不存在则按该 ID 创建。编辑器的
	// 保存语义——客户端掉线重放同一份内容不会产生新任务。
	UpsertMission(ctx context.Context, m *model.Mission) (*model.Mission, error)

	// UpdateMissionContent 替换内容并递增版本号；rearm=true 同时清空
	// LastFiredAt（调度字段变更后重新武装触发资格）
	UpdateMissionContent(ctx context.Context, id string, content model.MissionContent, rearm bool) (*model.Mission, error)

	// UpdateMissionEnabled 切换启用开关（once 触发后停用也走这里）
	UpdateMissionEnabled(ctx context.Context, id string, enabled bool) error

	// UpdateMissionFired 推进触发水位（成功声明占用一个排期时刻后调用）
	UpdateMissionFired(ctx context.Context, id string, firedAt time.Time) error

	// ApplyRunOutcome 原子落账一次完成的运行：runCount+1、按 success
	// 递增对应计数、设置 lastRunAt。每次完成的运行恰好调用一次。
	ApplyRunOutcome(ctx context.Context, id string, success bool, endedAt time.Time) error

	DeleteMission(ctx context.Context, id string) error
}

// RunStore 运行记录存储接口
type RunStore interface {
	CreateRun(ctx context.Context, run *model.MissionRun) error
	GetRun(ctx context.Context, id string) (*model.MissionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*model.MissionRun, error)

	// ListStaleQueuedRuns 找出滞留在 queued 超过阈值的运行（兜底轮询）
	ListStaleQueuedRuns(ctx context.Context, threshold time.Duration) ([]*model.MissionRun, error)

	// MarkRunRunning 置为 running 并记录开始时间
	MarkRunRunning(ctx context.Context, id string, startedAt time.Time) error

	// FinishRun 写入终态（状态、成败、轨迹、结果、时长）
	FinishRun(ctx context.Context, run *model.MissionRun) error

	// UpdateRunAttempts 运行级重试后推进尝试计数
	UpdateRunAttempts(ctx context.Context, id string, attempts int) error
}

// VersionStore 版本记录存储接口
//
// 记录只追加：没有 Update/Delete 方法是有意为之。
type VersionStore interface {
	// AppendVersion 追加一条版本记录（snapshot 专用）
	AppendVersion(ctx context.Context, rec *model.VersionRecord) error

	GetVersion(ctx context.Context, missionID, versionID string) (*model.VersionRecord, error)
	ListVersions(ctx context.Context, filter VersionFilter) ([]*model.VersionRecord, error)

	// RestoreVersion 执行恢复：同一事务内先落 pre_restore_backup
	// （sourceMissionVersion = 恢复前任务版本），再替换活动内容、
	// 递增版本号、追加 restore 记录
	RestoreVersion(ctx context.Context, missionID, versionID, reason, actorID string) (*model.RestoreOutcome, error)
}

// DeadLetterStore 死信存储接口
type DeadLetterStore interface {
	CreateDeadLetter(ctx context.Context, dl *model.DeadLetter) error
	GetDeadLetter(ctx context.Context, id string) (*model.DeadLetter, error)
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]*model.DeadLetter, error)
}

// EngineEventStore 引擎事件日志存储接口
type EngineEventStore interface {
	AppendEngineEvent(ctx context.Context, ev *model.EngineEvent) error
	ListEngineEvents(ctx context.Context, filter EngineEventFilter) ([]*model.EngineEvent, error)
	CountEngineEvents(ctx context.Context, since time.Time) (int, error)
}

// UserStore 用户存储接口
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	MissionStore
	RunStore
	VersionStore
	DeadLetterStore
	EngineEventStore
	UserStore
	Close() error
}

// CacheStore 缓存存储组合接口
//
// Redis 基础设施聚合实现；需要完整 Redis 能力面的调用方
// （健康检查、主装配）用它，只需要单一能力的调用方依赖
// cache.Cache / eventbus.EventBus / queue.Queue 之一。
type CacheStore interface {
	cache.Cache
	eventbus.EventBus
	queue.Queue
}
