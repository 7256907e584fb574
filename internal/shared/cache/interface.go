// Package cache 缓存层抽象接口
//
// 提供幂等声明和临时状态的存取能力，当前由 Redis 实现。
package cache

import (
	"context"
	"time"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// ClaimCache 幂等声明缓存接口
//
// Claim 对 (scope, userContextID, key) 三元组做一次原子占位：
// 首个调用者获得 true，TTL 窗口内的重复调用获得 false。
// 调度器靠它保证同一触发时刻只产生一次执行，手动触发靠它去重。
type ClaimCache interface {
	Claim(ctx context.Context, scope, userContextID, key string, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, scope, userContextID, key string) error
}

// BuildResultCache 构建结果缓存接口
//
// 以请求指纹为键缓存最近完成的构建结果，窗口内的重复提交直接命中缓存。
type BuildResultCache interface {
	SetBuildResult(ctx context.Context, userContextID, fingerprint string, result *BuildResult) error
	GetBuildResult(ctx context.Context, userContextID, fingerprint string) (*BuildResult, error)
	DeleteBuildResult(ctx context.Context, userContextID, fingerprint string) error
}

// RunStateCache 执行进度缓存接口
//
// 执行器在步骤切换时写入，查询接口据此返回进行中任务的实时进度。
type RunStateCache interface {
	SetRunState(ctx context.Context, runID string, state *RunState) error
	GetRunState(ctx context.Context, runID string) (*RunState, error)
	DeleteRunState(ctx context.Context, runID string) error
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	ClaimCache
	BuildResultCache
	RunStateCache
	Close() error
}
