// Package redis RunQueue 操作
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"missions-admin/internal/shared/queue"
)

// EnqueueRun 将执行加入分发队列
func (s *Store) EnqueueRun(ctx context.Context, runID, missionID, userContextID string) (string, error) {
	args := &redis.XAddArgs{
		Stream: queue.KeyMissionRuns,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"run_id":          runID,
			"mission_id":      missionID,
			"user_context_id": userContextID,
			"enqueued_at":     time.Now().Format(time.RFC3339Nano),
		},
	}

	return s.client.XAdd(ctx, args).Result()
}

// CreateRunConsumerGroup 创建执行工作者消费者组
func (s *Store) CreateRunConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.KeyMissionRuns, queue.RunnerConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// ConsumeRuns 消费分发队列中的执行
func (s *Store) ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.RunMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.RunnerConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{queue.KeyMissionRuns, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []*queue.RunMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &queue.RunMessage{
				ID: msg.ID,
			}
			if runID, ok := msg.Values["run_id"].(string); ok {
				m.RunID = runID
			}
			if missionID, ok := msg.Values["mission_id"].(string); ok {
				m.MissionID = missionID
			}
			if userContextID, ok := msg.Values["user_context_id"].(string); ok {
				m.UserContextID = userContextID
			}
			if enqueuedAt, ok := msg.Values["enqueued_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
					m.EnqueuedAt = t
				}
			}
			messages = append(messages, m)
		}
	}

	return messages, nil
}

// AckRun 确认执行消息已处理
func (s *Store) AckRun(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, queue.KeyMissionRuns, queue.RunnerConsumerGroup, messageID).Err()
}

// GetRunQueueLength 获取分发队列长度
func (s *Store) GetRunQueueLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, queue.KeyMissionRuns).Result()
}

// GetRunPendingCount 获取未确认消息数量
func (s *Store) GetRunPendingCount(ctx context.Context) (int64, error) {
	pending, err := s.client.XPending(ctx, queue.KeyMissionRuns, queue.RunnerConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}
