// Package redis TraceEvents 事件总线操作
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/model"
)

func traceEventsKey(runID string) string {
	return eventbus.KeyTraceEvents + runID
}

func decodeTraceMessage(msg redis.XMessage) *eventbus.TraceEvent {
	event := &eventbus.TraceEvent{
		ID: msg.ID,
	}

	if typ, ok := msg.Values["type"].(string); ok {
		event.Type = typ
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = t
		}
	}
	if payload, ok := msg.Values["payload"].(string); ok {
		var se model.StreamEvent
		if err := json.Unmarshal([]byte(payload), &se); err == nil {
			event.Event = &se
		}
	}

	return event
}

// PublishTraceEvent 发布轨迹事件
func (s *Store) PublishTraceEvent(ctx context.Context, runID string, event *model.StreamEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trace event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: traceEventsKey(runID),
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"type":      string(event.Type),
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(payload),
		},
	}

	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish trace event: %w", err)
	}

	return nil
}

// GetTraceEvents 获取轨迹事件列表
//
// fromID 为空从头读取；续传时传 "(<lastID>" 可做开区间排除。
func (s *Store) GetTraceEvents(ctx context.Context, runID string, fromID string, count int64) ([]*eventbus.TraceEvent, error) {
	if fromID == "" {
		fromID = "0"
	}

	msgs, err := s.client.XRange(ctx, traceEventsKey(runID), fromID, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get trace events: %w", err)
	}

	var events []*eventbus.TraceEvent
	for i, msg := range msgs {
		event := decodeTraceMessage(msg)
		event.Seq = i + 1
		events = append(events, event)

		if count > 0 && int64(len(events)) >= count {
			break
		}
	}

	return events, nil
}

// GetTraceEventCount 获取轨迹事件数量
func (s *Store) GetTraceEventCount(ctx context.Context, runID string) (int64, error) {
	return s.client.XLen(ctx, traceEventsKey(runID)).Result()
}

// SubscribeTraceEvents 订阅轨迹事件
//
// 先回放 fromID 之后的历史事件再切换到实时投递，两段共用一个
// XRead 游标，不存在回放与订阅之间的漏读窗口。fromID 为空从头
// 回放。调用方取消 ctx 结束订阅。
func (s *Store) SubscribeTraceEvents(ctx context.Context, runID string, fromID string) (<-chan *eventbus.TraceEvent, error) {
	key := traceEventsKey(runID)
	ch := make(chan *eventbus.TraceEvent, 100)

	go func() {
		defer close(ch)
		lastID := fromID
		if lastID == "" {
			lastID = "0"
		}
		seq := 0

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Redis/EventBus] Trace subscription error: run=%s %v", runID, err)
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					event := decodeTraceMessage(msg)
					seq++
					event.Seq = seq

					select {
					case ch <- event:
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// DeleteTraceEvents 删除轨迹事件流
func (s *Store) DeleteTraceEvents(ctx context.Context, runID string) error {
	return s.client.Del(ctx, traceEventsKey(runID)).Err()
}
