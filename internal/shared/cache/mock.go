// Package cache 缓存层 mock 实现
package cache

import (
	"context"
	"time"
)

// ============================================================================
// NoOpCache - 空操作的 Cache 实现（用于测试）
// ============================================================================

// NoOpCache 是一个不做任何操作的 Cache 实现
//
// Claim 恒返回 true：无缓存时每次调用都视为首次占位，
// 依赖去重的调用方在测试中总是走"被接受"的路径。
type NoOpCache struct{}

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Close 关闭缓存
func (c *NoOpCache) Close() error {
	return nil
}

// ClaimCache 方法

func (c *NoOpCache) Claim(ctx context.Context, scope, userContextID, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (c *NoOpCache) ReleaseClaim(ctx context.Context, scope, userContextID, key string) error {
	return nil
}

// BuildResultCache 方法

func (c *NoOpCache) SetBuildResult(ctx context.Context, userContextID, fingerprint string, result *BuildResult) error {
	return nil
}
func (c *NoOpCache) GetBuildResult(ctx context.Context, userContextID, fingerprint string) (*BuildResult, error) {
	return nil, nil
}
func (c *NoOpCache) DeleteBuildResult(ctx context.Context, userContextID, fingerprint string) error {
	return nil
}

// RunStateCache 方法

func (c *NoOpCache) SetRunState(ctx context.Context, runID string, state *RunState) error {
	return nil
}
func (c *NoOpCache) GetRunState(ctx context.Context, runID string) (*RunState, error) {
	return nil, nil
}
func (c *NoOpCache) DeleteRunState(ctx context.Context, runID string) error {
	return nil
}

// 确保 NoOpCache 实现了 Cache 接口
var _ Cache = (*NoOpCache)(nil)
