package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"missions-admin/internal/shared/queue"
)

// ============================================================================
// 队列消费工作协程
// ============================================================================

// workerLoop 消费运行队列直到 ctx 取消
//
// 同一消费者组内的多个 worker 竞争消费，一条消息只会被一个
// worker 领到。消费出错退避一秒再试，避免 Redis 故障时空转。
func (s *Scheduler) workerLoop(ctx context.Context, consumerID string) {
	defer s.wg.Done()

	log.Printf("[Scheduler/Worker] consumer started: id=%s", consumerID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := s.queue.ConsumeRuns(ctx, consumerID, int64(s.cfg.Redis.ReadCount), s.cfg.Redis.ReadTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Printf("[Scheduler/Worker] consume failed: id=%s err=%v", consumerID, err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			s.processRun(ctx, consumerID, msg)
		}
	}
}

// processRun 执行一条队列消息并确认
//
// 无论执行结果如何都 Ack：失败的运行已经由执行器落成终态（或
// 死信），留在 pending 列表只会造成毒消息循环。真正丢失的运行
// （执行器崩溃在落账之前）保持 queued，由兜底轮询重新入列。
func (s *Scheduler) processRun(ctx context.Context, consumerID string, msg *queue.RunMessage) {
	start := time.Now()

	result, err := s.executor.ExecuteQueuedRun(ctx, msg.RunID)
	switch {
	case err != nil:
		log.Printf("[Scheduler/Worker] run execution failed: run=%s mission=%s err=%v",
			msg.RunID, msg.MissionID, err)
	case result != nil:
		log.Printf("[Scheduler/Worker] run executed: run=%s ok=%v delay_ms=%d duration_ms=%d",
			msg.RunID, result.OK, time.Since(msg.EnqueuedAt).Milliseconds(), time.Since(start).Milliseconds())
	}

	if err := s.queue.AckRun(ctx, msg.ID); err != nil {
		log.Printf("[Scheduler/Worker] ack failed: run=%s msg=%s err=%v", msg.RunID, msg.ID, err)
	}
}
