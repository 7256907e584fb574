package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missions-admin/internal/config"
	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/queue"
)

// ============================================================================
// 测试替身
// ============================================================================

// memoryClaims 内存版声明缓存，语义与 Redis SET NX PX 一致
type memoryClaims struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{entries: make(map[string]time.Time)}
}

func (m *memoryClaims) Claim(ctx context.Context, scope, userContextID, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := scope + ":" + userContextID + ":" + key
	if exp, ok := m.entries[k]; ok && time.Now().Before(exp) {
		return false, nil
	}
	m.entries[k] = time.Now().Add(ttl)
	return true, nil
}

func (m *memoryClaims) ReleaseClaim(ctx context.Context, scope, userContextID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, scope+":"+userContextID+":"+key)
	return nil
}

// fakeSchedStore 内存版调度存储
type fakeSchedStore struct {
	mu               sync.Mutex
	missions         []*model.Mission
	runs             []*model.MissionRun
	stale            []*model.MissionRun
	listCalls        int
	createErr        error
	dropFiredUpdates bool
	enabled          map[string]bool
}

func newFakeSchedStore(missions ...*model.Mission) *fakeSchedStore {
	return &fakeSchedStore{missions: missions, enabled: make(map[string]bool)}
}

func (s *fakeSchedStore) ListEnabledMissions(ctx context.Context) ([]*model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	out := make([]*model.Mission, 0, len(s.missions))
	for _, m := range s.missions {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeSchedStore) CreateRun(ctx context.Context, run *model.MissionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeSchedStore) ListStaleQueuedRuns(ctx context.Context, threshold time.Duration) ([]*model.MissionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale, nil
}

func (s *fakeSchedStore) UpdateMissionFired(ctx context.Context, id string, firedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropFiredUpdates {
		return nil
	}
	for _, m := range s.missions {
		if m.ID == id {
			t := firedAt
			m.LastFiredAt = &t
		}
	}
	return nil
}

func (s *fakeSchedStore) UpdateMissionEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[id] = enabled
	for _, m := range s.missions {
		if m.ID == id {
			m.Enabled = enabled
		}
	}
	return nil
}

func (s *fakeSchedStore) createdRuns() []*model.MissionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.MissionRun(nil), s.runs...)
}

// fakeRunQueue 内存版运行队列
type fakeRunQueue struct {
	mu         sync.Mutex
	enqueued   []string
	acked      []string
	batches    [][]*queue.RunMessage
	enqueueErr error
	groupErr   error
}

func (q *fakeRunQueue) EnqueueRun(ctx context.Context, runID, missionID, userContextID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	q.enqueued = append(q.enqueued, runID)
	return fmt.Sprintf("msg-%d", len(q.enqueued)), nil
}

func (q *fakeRunQueue) CreateRunConsumerGroup(ctx context.Context) error { return q.groupErr }

func (q *fakeRunQueue) ConsumeRuns(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.RunMessage, error) {
	q.mu.Lock()
	if len(q.batches) > 0 {
		batch := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return batch, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(blockTimeout):
		return nil, nil
	}
}

func (q *fakeRunQueue) AckRun(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, messageID)
	return nil
}

func (q *fakeRunQueue) GetRunQueueLength(ctx context.Context) (int64, error)  { return 0, nil }
func (q *fakeRunQueue) GetRunPendingCount(ctx context.Context) (int64, error) { return 0, nil }

func (q *fakeRunQueue) enqueuedRuns() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.enqueued...)
}

func (q *fakeRunQueue) ackedMessages() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// fakeExecutor 记录被领取的运行
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	err      error
}

func (e *fakeExecutor) ExecuteQueuedRun(ctx context.Context, runID string) (*model.TriggerResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, runID)
	if e.err != nil {
		return nil, e.err
	}
	return &model.TriggerResult{OK: true, RunID: runID}, nil
}

func (e *fakeExecutor) executedRuns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

// staticGate 固定领导权
type staticGate bool

func (g staticGate) IsLeader() bool { return bool(g) }

// ============================================================================
// 装配
// ============================================================================

func newTestScheduler(store *fakeSchedStore, q *fakeRunQueue, exec *fakeExecutor) *Scheduler {
	coord := idempotency.NewCoordinator(newMemoryClaims(), config.EngineConfig{BaseDelayMs: 1, MaxDelayMs: 2, MaxAttempts: 3})
	cfg := config.SchedulerConfig{NodeID: "test-node", TickInterval: time.Minute, Workers: 1}
	cfg.Redis.ReadTimeout = 50 * time.Millisecond
	return New(store, coord, q, exec, cfg, time.Minute)
}

// 已过期的 once 排期：评估时刻恒到期，排期时刻固定可断言
func onceMission(id string) *model.Mission {
	return &model.Mission{
		ID:      id,
		UserID:  "user-1",
		Label:   "price alert",
		Enabled: true,
		Version: 4,
		Schedule: model.Schedule{
			Mode: model.ScheduleOnce,
			Time: "2020-01-01T09:00",
		},
	}
}

func dailyMidnightMission(id string) *model.Mission {
	return &model.Mission{
		ID:      id,
		UserID:  "user-1",
		Label:   "morning briefing",
		Enabled: true,
		Version: 2,
		Schedule: model.Schedule{
			Mode: model.ScheduleDaily,
			Time: "00:00",
		},
	}
}

// ============================================================================
// tick / fire
// ============================================================================

func TestTickFiresDueMission(t *testing.T) {
	store := newFakeSchedStore(onceMission("m-1"))
	q := &fakeRunQueue{}
	s := newTestScheduler(store, q, &fakeExecutor{})

	s.tick(context.Background())

	runs := store.createdRuns()
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, "m-1", run.MissionID)
	assert.Equal(t, "user-1", run.UserID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, model.RunTriggerSchedule, run.Trigger)
	assert.Equal(t, 4, run.MissionVersion)
	assert.True(t, run.Occurrence.Equal(time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC)))

	assert.Equal(t, []string{run.ID}, q.enqueuedRuns())
	require.NotNil(t, store.missions[0].LastFiredAt)
	assert.True(t, store.missions[0].LastFiredAt.Equal(run.Occurrence), "触发水位推进到排期时刻")

	// once 触发后停用
	assert.Equal(t, map[string]bool{"m-1": false}, store.enabled)
}

func TestTickDailyWatermarkBlocksRefire(t *testing.T) {
	store := newFakeSchedStore(dailyMidnightMission("m-1"))
	q := &fakeRunQueue{}
	s := newTestScheduler(store, q, &fakeExecutor{})

	s.tick(context.Background())
	s.tick(context.Background())

	assert.Len(t, store.createdRuns(), 1, "水位覆盖当天槽位后不再触发")
}

func TestTickSameSlotDedupedByClaim(t *testing.T) {
	// 水位写入丢失的最坏情况：占位声明仍挡住同一槽位的重复触发
	store := newFakeSchedStore(dailyMidnightMission("m-1"))
	store.dropFiredUpdates = true
	q := &fakeRunQueue{}
	s := newTestScheduler(store, q, &fakeExecutor{})

	s.tick(context.Background())
	s.tick(context.Background())

	assert.Len(t, store.createdRuns(), 1)
	assert.Len(t, q.enqueuedRuns(), 1)
}

func TestTickNotDueMissionUntouched(t *testing.T) {
	m := onceMission("m-1")
	fired := time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC)
	m.LastFiredAt = &fired
	store := newFakeSchedStore(m)
	s := newTestScheduler(store, &fakeRunQueue{}, &fakeExecutor{})

	s.tick(context.Background())

	assert.Empty(t, store.createdRuns())
}

func TestTickSkipsWhenNotLeader(t *testing.T) {
	store := newFakeSchedStore(onceMission("m-1"))
	s := newTestScheduler(store, &fakeRunQueue{}, &fakeExecutor{})
	s.SetLeaderGate(staticGate(false))

	s.tick(context.Background())

	assert.Zero(t, store.listCalls, "非领导者不评估排期")
	assert.Empty(t, store.createdRuns())
}

func TestFireCreateRunFailureReleasesClaim(t *testing.T) {
	store := newFakeSchedStore(onceMission("m-1"))
	store.createErr = errors.New("db down")
	q := &fakeRunQueue{}
	s := newTestScheduler(store, q, &fakeExecutor{})

	s.tick(context.Background())

	assert.Empty(t, store.createdRuns())
	assert.Empty(t, q.enqueuedRuns())

	// 占位已释放：同一排期时刻可以再次声明
	key := idempotency.OccurrenceKey("m-1", time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC))
	ok, err := s.coord.Claim(context.Background(), key, "user-1", idempotency.ScopeOccurrence, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "创建运行失败后应释放占位，等下一轮重试")
}

func TestFireEnqueueFailureLeavesRunForFallback(t *testing.T) {
	store := newFakeSchedStore(onceMission("m-1"))
	q := &fakeRunQueue{enqueueErr: errors.New("redis down")}
	s := newTestScheduler(store, q, &fakeExecutor{})

	s.tick(context.Background())

	runs := store.createdRuns()
	require.Len(t, runs, 1, "入列失败不回滚运行记录")
	assert.Empty(t, q.enqueuedRuns())

	// 兜底轮询把滞留的 queued 运行捞回队列
	q.enqueueErr = nil
	store.stale = runs
	s.rescueStaleRuns(context.Background())
	assert.Equal(t, []string{runs[0].ID}, q.enqueuedRuns())
}

// ============================================================================
// 兜底轮询
// ============================================================================

func TestRescueStaleRuns(t *testing.T) {
	store := newFakeSchedStore()
	store.stale = []*model.MissionRun{
		{ID: "run-1", MissionID: "m-1", UserID: "user-1"},
		{ID: "run-2", MissionID: "m-2", UserID: "user-1"},
	}
	q := &fakeRunQueue{}
	s := newTestScheduler(store, q, &fakeExecutor{})

	s.rescueStaleRuns(context.Background())

	assert.Equal(t, []string{"run-1", "run-2"}, q.enqueuedRuns())
}

func TestRescueSkipsWhenNotLeader(t *testing.T) {
	store := newFakeSchedStore()
	store.stale = []*model.MissionRun{{ID: "run-1", MissionID: "m-1", UserID: "user-1"}}
	q := &fakeRunQueue{}
	s := newTestScheduler(store, q, &fakeExecutor{})
	s.SetLeaderGate(staticGate(false))

	s.rescueStaleRuns(context.Background())

	assert.Empty(t, q.enqueuedRuns())
}

// ============================================================================
// 工作协程
// ============================================================================

func TestProcessRunAcksAfterSuccess(t *testing.T) {
	exec := &fakeExecutor{}
	q := &fakeRunQueue{}
	s := newTestScheduler(newFakeSchedStore(), q, exec)

	msg := &queue.RunMessage{ID: "msg-1", RunID: "run-1", MissionID: "m-1", EnqueuedAt: time.Now()}
	s.processRun(context.Background(), "w0", msg)

	assert.Equal(t, []string{"run-1"}, exec.executedRuns())
	assert.Equal(t, []string{"msg-1"}, q.ackedMessages())
}

func TestProcessRunAcksAfterFailure(t *testing.T) {
	// 失败的运行已由执行器落成终态或死信，留在 pending 只会毒化队列
	exec := &fakeExecutor{err: errors.New("boom")}
	q := &fakeRunQueue{}
	s := newTestScheduler(newFakeSchedStore(), q, exec)

	msg := &queue.RunMessage{ID: "msg-1", RunID: "run-1", MissionID: "m-1", EnqueuedAt: time.Now()}
	s.processRun(context.Background(), "w0", msg)

	assert.Equal(t, []string{"msg-1"}, q.ackedMessages())
}

func TestStartConsumesQueuedRuns(t *testing.T) {
	exec := &fakeExecutor{}
	q := &fakeRunQueue{batches: [][]*queue.RunMessage{{
		{ID: "msg-1", RunID: "run-1", MissionID: "m-1", EnqueuedAt: time.Now()},
		{ID: "msg-2", RunID: "run-2", MissionID: "m-1", EnqueuedAt: time.Now()},
	}}}
	s := newTestScheduler(newFakeSchedStore(), q, exec)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool {
		return len(exec.executedRuns()) == 2
	}, 2*time.Second, 10*time.Millisecond, "工作协程应消费整批消息")

	cancel()
	s.Wait()

	assert.ElementsMatch(t, []string{"msg-1", "msg-2"}, q.ackedMessages())
}

func TestStartFailsWhenConsumerGroupUnavailable(t *testing.T) {
	q := &fakeRunQueue{groupErr: errors.New("redis down")}
	s := newTestScheduler(newFakeSchedStore(), q, &fakeExecutor{})

	err := s.Start(context.Background())
	assert.Error(t, err)
}

// ============================================================================
// 构造默认值
// ============================================================================

func TestNewAppliesDefaults(t *testing.T) {
	s := New(newFakeSchedStore(), nil, &fakeRunQueue{}, &fakeExecutor{}, config.SchedulerConfig{}, 0)

	assert.NotEmpty(t, s.cfg.NodeID)
	assert.Equal(t, 30*time.Second, s.cfg.TickInterval)
	assert.Equal(t, 2, s.cfg.Workers)
	assert.Equal(t, 5*time.Second, s.cfg.Redis.ReadTimeout)
	assert.Equal(t, 10, s.cfg.Redis.ReadCount)
	assert.Equal(t, 5*time.Minute, s.cfg.Fallback.Interval)
	assert.Equal(t, 5*time.Minute, s.cfg.Fallback.StaleThreshold)
	assert.Equal(t, 10*time.Minute, s.claimTTL)
	assert.True(t, s.leader.IsLeader(), "默认单副本恒为领导者")
}
