package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"missions-admin/internal/config"
	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/queue"
)

// ============================================================================
// 指标
// ============================================================================

var (
	missionsFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "missions",
		Subsystem: "scheduler",
		Name:      "fired_total",
		Help:      "Missions fired by the schedule evaluator.",
	})

	staleRunsRescuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "missions",
		Subsystem: "scheduler",
		Name:      "stale_runs_rescued_total",
		Help:      "Queued runs re-enqueued by the fallback sweep.",
	})
)

// ============================================================================
// 依赖能力面
// ============================================================================

// Store 调度器所需的持久化能力面
type Store interface {
	ListEnabledMissions(ctx context.Context) ([]*model.Mission, error)
	CreateRun(ctx context.Context, run *model.MissionRun) error
	ListStaleQueuedRuns(ctx context.Context, threshold time.Duration) ([]*model.MissionRun, error)
	UpdateMissionFired(ctx context.Context, id string, firedAt time.Time) error
	UpdateMissionEnabled(ctx context.Context, id string, enabled bool) error
}

// RunExecutor 工作协程领取运行后的执行入口（engine.Engine 满足）
type RunExecutor interface {
	ExecuteQueuedRun(ctx context.Context, runID string) (*model.TriggerResult, error)
}

// ============================================================================
// Scheduler
// ============================================================================

// Scheduler 排期调度器
//
// 三组协程：tick 循环评估排期并触发到期任务；工作协程消费运行
// 队列（主路径，实时）；兜底轮询重新入列滞留的 queued 运行（入列
// 丢失或工作者崩溃时的补救路径）。多副本部署时 tick 与兜底只在
// 领导者上执行，工作协程在所有副本上消费。
type Scheduler struct {
	store    Store
	coord    *idempotency.Coordinator
	queue    queue.RunQueue
	executor RunExecutor
	leader   LeaderGate
	cfg      config.SchedulerConfig
	claimTTL time.Duration

	wg sync.WaitGroup
}

// New 创建调度器
//
// claimTTL 是排期占位声明的存活期，应大于一次运行的最长耗时，
// 否则声明过期后同一排期时刻可能被再次触发。
func New(store Store, coord *idempotency.Coordinator, q queue.RunQueue, executor RunExecutor, cfg config.SchedulerConfig, claimTTL time.Duration) *Scheduler {
	if cfg.NodeID == "" {
		cfg.NodeID = generateID("node")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Redis.ReadTimeout <= 0 {
		cfg.Redis.ReadTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadCount <= 0 {
		cfg.Redis.ReadCount = 10
	}
	if cfg.Fallback.Interval <= 0 {
		cfg.Fallback.Interval = 5 * time.Minute
	}
	if cfg.Fallback.StaleThreshold <= 0 {
		cfg.Fallback.StaleThreshold = 5 * time.Minute
	}
	if claimTTL <= 0 {
		claimTTL = 10 * time.Minute
	}
	return &Scheduler{
		store:    store,
		coord:    coord,
		queue:    q,
		executor: executor,
		leader:   AlwaysLeader{},
		cfg:      cfg,
		claimTTL: claimTTL,
	}
}

// SetLeaderGate 注册领导者判定（默认单副本恒为领导者）
func (s *Scheduler) SetLeaderGate(g LeaderGate) {
	if g != nil {
		s.leader = g
	}
}

// Start 启动调度协程，ctx 取消后各协程退出，用 Wait 等待收尾
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.queue.CreateRunConsumerGroup(ctx); err != nil {
		return fmt.Errorf("create run consumer group: %w", err)
	}

	s.wg.Add(2 + s.cfg.Workers)
	go s.tickLoop(ctx)
	go s.fallbackLoop(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		go s.workerLoop(ctx, fmt.Sprintf("%s-w%d", s.cfg.NodeID, i))
	}

	log.Printf("[Scheduler] started: node=%s tick=%s workers=%d", s.cfg.NodeID, s.cfg.TickInterval, s.cfg.Workers)
	return nil
}

// Wait 阻塞到所有调度协程退出
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// ============================================================================
// tick 循环
// ============================================================================

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick 评估全部启用任务的排期并触发到期者
func (s *Scheduler) tick(ctx context.Context) {
	if !s.leader.IsLeader() {
		return
	}

	missions, err := s.store.ListEnabledMissions(ctx)
	if err != nil {
		log.Printf("[Scheduler/Tick] list enabled missions failed: %v", err)
		return
	}

	now := time.Now()
	fired := 0
	for _, m := range missions {
		if ctx.Err() != nil {
			return
		}
		ev, err := Evaluate(m, now)
		if err != nil {
			log.Printf("[Scheduler/Tick] evaluate failed, skipping: %v", err)
			continue
		}
		if !ev.Due {
			continue
		}
		if s.fire(ctx, m, ev.Occurrence) {
			fired++
		}
	}
	if fired > 0 {
		log.Printf("[Scheduler/Tick] fired %d of %d enabled missions", fired, len(missions))
	}
}

// fire 为一个到期的排期时刻触发运行
//
// 顺序：先声明占位（跨副本对同一排期时刻只有一个赢家），再落
// 运行记录，随后推进触发水位并入列。运行创建失败会释放占位让
// 下一轮重试；入列失败不回滚——运行已落账，兜底轮询会把它捞回
// 队列。
func (s *Scheduler) fire(ctx context.Context, m *model.Mission, occurrence time.Time) bool {
	key := idempotency.OccurrenceKey(m.ID, occurrence)

	claimed, err := s.coord.Claim(ctx, key, m.UserID, idempotency.ScopeOccurrence, s.claimTTL)
	if err != nil {
		log.Printf("[Scheduler/Fire] claim failed: mission=%s key=%s err=%v", m.ID, key, err)
		return false
	}
	if !claimed {
		// 其他副本或手动触发已占用本排期时刻
		return false
	}

	run := &model.MissionRun{
		ID:             generateID("run"),
		MissionID:      m.ID,
		UserID:         m.UserID,
		Status:         model.RunStatusQueued,
		Trigger:        model.RunTriggerSchedule,
		Occurrence:     occurrence,
		MissionVersion: m.Version,
		Attempts:       1,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		log.Printf("[Scheduler/Fire] create run failed: mission=%s err=%v", m.ID, err)
		if rerr := s.coord.Release(ctx, key, m.UserID, idempotency.ScopeOccurrence); rerr != nil {
			log.Printf("[Scheduler/Fire] release claim failed: key=%s err=%v", key, rerr)
		}
		return false
	}

	if err := s.store.UpdateMissionFired(ctx, m.ID, occurrence); err != nil {
		// 水位推进失败不致命：占位声明在 TTL 内挡住重复触发
		log.Printf("[Scheduler/Fire] advance fired watermark failed: mission=%s err=%v", m.ID, err)
	}
	if m.Schedule.Mode == model.ScheduleOnce {
		if err := s.store.UpdateMissionEnabled(ctx, m.ID, false); err != nil {
			log.Printf("[Scheduler/Fire] disable once mission failed: mission=%s err=%v", m.ID, err)
		}
	}

	if _, err := s.queue.EnqueueRun(ctx, run.ID, m.ID, m.UserID); err != nil {
		log.Printf("[Scheduler/Fire] enqueue failed, fallback sweep will rescue: run=%s err=%v", run.ID, err)
	}

	missionsFiredTotal.Inc()
	log.Printf("[Scheduler/Fire] mission fired: mission=%s run=%s occurrence=%s",
		m.ID, run.ID, occurrence.UTC().Format(time.RFC3339))
	return true
}

// ============================================================================
// 兜底轮询
// ============================================================================

func (s *Scheduler) fallbackLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Fallback.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rescueStaleRuns(ctx)
		}
	}
}

// rescueStaleRuns 把滞留在 queued 的运行重新入列
//
// 捞到的运行可能已经在队列里（工作者崩溃留下的 pending 消息），
// 重复投递由执行器的终态/执行中去重消化。
func (s *Scheduler) rescueStaleRuns(ctx context.Context) {
	if !s.leader.IsLeader() {
		return
	}

	runs, err := s.store.ListStaleQueuedRuns(ctx, s.cfg.Fallback.StaleThreshold)
	if err != nil {
		log.Printf("[Scheduler/Fallback] list stale runs failed: %v", err)
		return
	}
	for _, r := range runs {
		if _, err := s.queue.EnqueueRun(ctx, r.ID, r.MissionID, r.UserID); err != nil {
			log.Printf("[Scheduler/Fallback] re-enqueue failed: run=%s err=%v", r.ID, err)
			continue
		}
		staleRunsRescuedTotal.Inc()
		log.Printf("[Scheduler/Fallback] stale run re-enqueued: run=%s mission=%s", r.ID, r.MissionID)
	}
}

// ============================================================================
// 工具函数
// ============================================================================

// generateID 生成带前缀的随机 ID
func generateID(prefix string) string {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(bytes))
}
