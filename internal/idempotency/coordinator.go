// Package idempotency 幂等与重试协调器
//
// 所有"最多执行一次"的去重都经过这里：调度触发、手动触发、
// 构建请求。声明本体存放在 Redis（SET NX PX），进程重启后
// TTL 窗口内的声明依然有效，崩溃恢复不会重复投递。
package idempotency

import (
	"context"
	"fmt"
	"time"

	"missions-admin/internal/config"
	"missions-admin/internal/shared/cache"
)

// 声明作用域。同一字面 key 在不同作用域、不同用户之间互不碰撞。
const (
	// ScopeOccurrence 调度触发：key 内嵌触发时刻，同一槽位只放行一次
	ScopeOccurrence = "occurrence"

	// ScopeManual 手动触发：key 为任务 ID，TTL 即去重窗口
	ScopeManual = "manual"

	// ScopeBuild 构建请求：key 为规范化指纹
	ScopeBuild = "build"
)

// Coordinator 幂等协调器
type Coordinator struct {
	claims      cache.ClaimCache
	baseDelayMs int
	maxDelayMs  int
	maxAttempts int
}

// NewCoordinator 创建协调器，退避参数取自引擎配置
func NewCoordinator(claims cache.ClaimCache, cfg config.EngineConfig) *Coordinator {
	return &Coordinator{
		claims:      claims,
		baseDelayMs: cfg.BaseDelayMs,
		maxDelayMs:  cfg.MaxDelayMs,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Claim 尝试占位
//
// TTL 窗口内对 (key, scope, userContextID) 三元组的首个调用者
// 获得 true 并可以执行副作用；其余调用者获得 false，必须跳过。
func (c *Coordinator) Claim(ctx context.Context, key, userContextID, scope string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("idempotency key is empty")
	}
	return c.claims.Claim(ctx, scope, userContextID, key, ttl)
}

// Release 提前释放占位（验证失败等需要立即允许重试的场景）
func (c *Coordinator) Release(ctx context.Context, key, userContextID, scope string) error {
	return c.claims.ReleaseClaim(ctx, scope, userContextID, key)
}

// RetryDelay 按配置返回第 attempt 次重试前的等待时长
func (c *Coordinator) RetryDelay(attempt int) time.Duration {
	return time.Duration(ComputeRetryDelayMs(attempt, c.baseDelayMs, c.maxDelayMs)) * time.Millisecond
}

// MaxAttempts 单个执行键允许的最大尝试次数
func (c *Coordinator) MaxAttempts() int {
	return c.maxAttempts
}

// ComputeRetryDelayMs 指数退避延迟
//
// baseDelayMs << (attempt-1)，夹在 [baseDelayMs, maxDelayMs]。
// attempt 从 1 起；对 attempt 单调非减，永不低于基础延迟。
func ComputeRetryDelayMs(attempt, baseDelayMs, maxDelayMs int) int {
	if baseDelayMs <= 0 {
		baseDelayMs = 1
	}
	if maxDelayMs < baseDelayMs {
		maxDelayMs = baseDelayMs
	}
	if attempt < 1 {
		attempt = 1
	}
	// 移位超过 30 位必然越过任何合理上限，直接封顶
	if attempt-1 > 30 {
		return maxDelayMs
	}
	delay := baseDelayMs << (attempt - 1)
	if delay > maxDelayMs || delay < baseDelayMs {
		return maxDelayMs
	}
	return delay
}

// OccurrenceKey 调度触发的幂等键：任务 ID + UTC 分钟级触发时刻。
// 同一槽位在多次评估、进程重启、多实例并发下得到同一个键。
func OccurrenceKey(missionID string, occurrence time.Time) string {
	return fmt.Sprintf("%s@%s", missionID, occurrence.UTC().Format("2006-01-02T15:04"))
}
