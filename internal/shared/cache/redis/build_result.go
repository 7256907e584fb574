// Package redis 构建结果缓存操作
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"missions-admin/internal/shared/cache"
)

func buildResultKey(userContextID, fingerprint string) string {
	return cache.KeyBuildResult + userContextID + ":" + fingerprint
}

// SetBuildResult 缓存构建结果
func (s *Store) SetBuildResult(ctx context.Context, userContextID, fingerprint string, result *cache.BuildResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, buildResultKey(userContextID, fingerprint), data, cache.TTLBuildResult).Err()
}

// GetBuildResult 获取缓存的构建结果，未命中返回 nil
func (s *Store) GetBuildResult(ctx context.Context, userContextID, fingerprint string) (*cache.BuildResult, error) {
	data, err := s.client.Get(ctx, buildResultKey(userContextID, fingerprint)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result cache.BuildResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// DeleteBuildResult 删除缓存的构建结果
func (s *Store) DeleteBuildResult(ctx context.Context, userContextID, fingerprint string) error {
	return s.client.Del(ctx, buildResultKey(userContextID, fingerprint)).Err()
}
