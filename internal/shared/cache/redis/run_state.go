// Package redis RunState 缓存操作
package redis

import (
	"context"
	"strconv"

	"missions-admin/internal/shared/cache"
)

// SetRunState 设置执行进度
func (s *Store) SetRunState(ctx context.Context, runID string, state *cache.RunState) error {
	key := cache.KeyRunState + runID

	data := map[string]interface{}{
		"state":        state.State,
		"step_index":   state.StepIndex,
		"current_step": state.CurrentStep,
		"error":        state.Error,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, cache.TTLRunState)
	_, err := pipe.Exec(ctx)

	return err
}

// GetRunState 获取执行进度
func (s *Store) GetRunState(ctx context.Context, runID string) (*cache.RunState, error) {
	key := cache.KeyRunState + runID

	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, nil
	}

	state := &cache.RunState{
		State:       result["state"],
		CurrentStep: result["current_step"],
		Error:       result["error"],
	}

	if idx, err := strconv.Atoi(result["step_index"]); err == nil {
		state.StepIndex = idx
	}

	return state, nil
}

// DeleteRunState 删除执行进度缓存
func (s *Store) DeleteRunState(ctx context.Context, runID string) error {
	key := cache.KeyRunState + runID
	return s.client.Del(ctx, key).Err()
}
