// Package redis 幂等声明缓存操作
package redis

import (
	"context"
	"fmt"
	"time"

	"missions-admin/internal/shared/cache"
)

func claimKey(scope, userContextID, key string) string {
	return fmt.Sprintf("%s%s:%s:%s", cache.KeyIdemClaim, scope, userContextID, key)
}

// Claim 原子占位
//
// SET NX PX：键不存在时写入并返回 true，已存在则返回 false。
// 值记录占位时间，方便人工排查时判断窗口归属。
func (s *Store) Claim(ctx context.Context, scope, userContextID, key string, ttl time.Duration) (bool, error) {
	claimedAt := time.Now().UTC().Format(time.RFC3339Nano)
	return s.client.SetNX(ctx, claimKey(scope, userContextID, key), claimedAt, ttl).Result()
}

// ReleaseClaim 提前释放占位
//
// 正常路径靠 TTL 过期；只有验证失败需要立即重试时才显式释放。
func (s *Store) ReleaseClaim(ctx context.Context, scope, userContextID, key string) error {
	return s.client.Del(ctx, claimKey(scope, userContextID, key)).Err()
}
