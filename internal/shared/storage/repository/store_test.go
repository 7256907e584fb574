// Package repository SQLite 集成测试
//
// 使用 SQLite 内存数据库验证 repository 层所有存储接口的正确性。
// 无需外部数据库依赖，可在任何环境下运行。
package repository

import (
	"context"
	"testing"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage/dbutil"
	sqlitedriver "missions-admin/internal/shared/storage/driver/sqlite"
	"missions-admin/internal/shared/storagetypes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore 创建用于测试的 SQLite 内存数据库 Store
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return store
}

// sampleSteps 构造一条典型流水线：trigger -> fetch -> condition -> output
func sampleSteps() model.StepList {
	return model.StepList{
		&model.TriggerStep{StepMeta: model.StepMeta{ID: "s1", Title: "触发"}},
		&model.FetchStep{StepMeta: model.StepMeta{ID: "s2", Title: "抓取"},
			Source: model.FetchSourceWeb, URL: "https://example.com/feed"},
		&model.ConditionStep{StepMeta: model.StepMeta{ID: "s3"},
			Rules: []model.ConditionRule{{Field: "data.count", Operator: model.OpGreaterThan, Value: "0"}}},
		&model.OutputStep{StepMeta: model.StepMeta{ID: "s4"},
			Channel: "telegram", Recipients: []string{"chat-1"}},
	}
}

// sampleMission 构造一条可持久化的任务
func sampleMission(id, userID string, createdAt time.Time) *model.Mission {
	return &model.Mission{
		ID:     id,
		UserID: userID,
		Label:  "Morning Digest",
		Schedule: model.Schedule{
			Mode:     model.ScheduleDaily,
			Time:     "09:00",
			Timezone: "UTC",
		},
		Enabled:   true,
		Steps:     sampleSteps(),
		Version:   1,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// ============================================================================
// Dialect 基础测试
// ============================================================================

func TestDialectTypes(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "datetime('now')", d.CurrentTimestamp())
}

func TestRebind(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		d.Rebind("SELECT * FROM t WHERE id = $1 AND name = $2"))
	// 应去除 PG 类型转换
	assert.Equal(t, "UPDATE t SET status = ? WHERE id = ?",
		d.Rebind("UPDATE t SET status = $1::varchar WHERE id = $2"))
	assert.Equal(t, "SELECT * FROM missions WHERE schedule->>'mode' = ?",
		d.Rebind("SELECT * FROM missions WHERE schedule::jsonb->>'mode' = $1"))
}

// ============================================================================
// Mission 测试
// ============================================================================

func TestMissionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := sampleMission("msn-001", "user-1", now)
	require.NoError(t, s.CreateMission(ctx, m))

	// Get：JSON 列往返
	got, err := s.GetMission(ctx, "msn-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Morning Digest", got.Label)
	assert.Equal(t, model.ScheduleDaily, got.Schedule.Mode)
	assert.Equal(t, "09:00", got.Schedule.Time)
	require.Len(t, got.Steps, 4)
	assert.Equal(t, model.StepKindTrigger, got.Steps[0].Kind())
	assert.Equal(t, model.StepKindOutput, got.Steps[3].Kind())
	assert.True(t, got.Enabled)
	assert.Equal(t, 1, got.Version)
	assert.Nil(t, got.LastFiredAt)
	assert.Nil(t, got.Stats.LastRunAt)

	// 变体字段保真
	fetch, ok := got.Steps[1].(*model.FetchStep)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/feed", fetch.URL)

	// Get 不存在
	got, err = s.GetMission(ctx, "msn-nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	// List 过滤
	m2 := sampleMission("msn-002", "user-2", now.Add(time.Second))
	m2.Enabled = false
	m2.Schedule = model.Schedule{Mode: model.ScheduleInterval, IntervalMinutes: 30}
	require.NoError(t, s.CreateMission(ctx, m2))

	all, err := s.ListMissions(ctx, storagetypes.MissionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	// created_at 倒序
	assert.Equal(t, "msn-002", all[0].ID)

	byUser, err := s.ListMissions(ctx, storagetypes.MissionFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "msn-001", byUser[0].ID)

	enabled := true
	byEnabled, err := s.ListMissions(ctx, storagetypes.MissionFilter{Enabled: &enabled})
	require.NoError(t, err)
	require.Len(t, byEnabled, 1)
	assert.Equal(t, "msn-001", byEnabled[0].ID)

	byMode, err := s.ListMissions(ctx, storagetypes.MissionFilter{Mode: "interval"})
	require.NoError(t, err)
	require.Len(t, byMode, 1)
	assert.Equal(t, "msn-002", byMode[0].ID)

	onlyEnabled, err := s.ListEnabledMissions(ctx)
	require.NoError(t, err)
	require.Len(t, onlyEnabled, 1)
	assert.Equal(t, "msn-001", onlyEnabled[0].ID)

	// Delete
	require.NoError(t, s.DeleteMission(ctx, "msn-002"))
	got, _ = s.GetMission(ctx, "msn-002")
	assert.Nil(t, got)
}

func TestUpdateMissionContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := sampleMission("msn-001", "user-1", now)
	require.NoError(t, s.CreateMission(ctx, m))
	require.NoError(t, s.UpdateMissionFired(ctx, "msn-001", now))

	fired, _ := s.GetMission(ctx, "msn-001")
	require.NotNil(t, fired.LastFiredAt)

	// rearm=false：内容替换、版本 +1、水位保留
	content := m.ContentSnapshot()
	content.Label = "Evening Digest"
	updated, err := s.UpdateMissionContent(ctx, "msn-001", content, false)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "Evening Digest", updated.Label)
	assert.Equal(t, 2, updated.Version)
	assert.NotNil(t, updated.LastFiredAt)

	// rearm=true：调度变更场景，水位被清空
	content.Schedule.Time = "18:00"
	updated, err = s.UpdateMissionContent(ctx, "msn-001", content, true)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
	assert.Equal(t, "18:00", updated.Schedule.Time)
	assert.Nil(t, updated.LastFiredAt)

	// 不存在的任务
	missing, err := s.UpdateMissionContent(ctx, "msn-nope", content, false)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertMission(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// 不存在：按提交的 ID 创建
	m := sampleMission("msn-up", "user-1", now)
	created, err := s.UpsertMission(ctx, m)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "msn-up", created.ID)
	assert.Equal(t, 1, created.Version)

	require.NoError(t, s.UpdateMissionFired(ctx, "msn-up", now))
	require.NoError(t, s.ApplyRunOutcome(ctx, "msn-up", true, now))

	// 已存在：内容替换、版本 +1；统计与水位保留（调度未变）
	m.Label = "Renamed"
	m.UpdatedAt = now.Add(time.Second)
	updated, err := s.UpsertMission(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Label)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 1, updated.Stats.RunCount)
	assert.NotNil(t, updated.LastFiredAt)

	// 调度变更：触发水位被清空
	m.Schedule.Time = "21:30"
	rearmed, err := s.UpsertMission(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 3, rearmed.Version)
	assert.Nil(t, rearmed.LastFiredAt)
	assert.Equal(t, 1, rearmed.Stats.RunCount)
}

func TestApplyRunOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := sampleMission("msn-001", "user-1", now)
	require.NoError(t, s.CreateMission(ctx, m))

	require.NoError(t, s.ApplyRunOutcome(ctx, "msn-001", true, now))
	require.NoError(t, s.ApplyRunOutcome(ctx, "msn-001", true, now.Add(time.Minute)))
	require.NoError(t, s.ApplyRunOutcome(ctx, "msn-001", false, now.Add(2*time.Minute)))

	got, err := s.GetMission(ctx, "msn-001")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stats.RunCount)
	assert.Equal(t, 2, got.Stats.SuccessCount)
	assert.Equal(t, 1, got.Stats.FailureCount)
	require.NotNil(t, got.Stats.LastRunAt)
	assert.True(t, got.Stats.LastRunAt.UTC().Equal(now.Add(2*time.Minute)))
}

// ============================================================================
// MissionRun 测试
// ============================================================================

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := sampleMission("msn-001", "user-1", now)
	require.NoError(t, s.CreateMission(ctx, m))

	run := &model.MissionRun{
		ID:             "run-001",
		MissionID:      "msn-001",
		UserID:         "user-1",
		Status:         model.RunStatusQueued,
		Trigger:        model.RunTriggerSchedule,
		Occurrence:     now,
		MissionVersion: 1,
		Attempts:       1,
		Traces:         model.NewStepTraces(m.Steps),
		CreatedAt:      now,
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusQueued, got.Status)
	assert.Equal(t, model.RunTriggerSchedule, got.Trigger)
	require.Len(t, got.Traces, 4)
	assert.Equal(t, model.StepStatusPending, got.Traces[0].Status)
	assert.Nil(t, got.StartedAt)

	// 状态推进
	startedAt := now.Add(time.Second)
	require.NoError(t, s.MarkRunRunning(ctx, "run-001", startedAt))
	got, _ = s.GetRun(ctx, "run-001")
	assert.Equal(t, model.RunStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	// 终态落盘
	endedAt := now.Add(3 * time.Second)
	got.Status = model.RunStatusSuccess
	got.Success = true
	got.Traces[0].Status = model.StepStatusCompleted
	got.Results = []model.OutputResult{{StepID: "s4", Channel: "telegram", Delivered: true}}
	got.NovachatQueued = true
	got.DurationMs = 2000
	got.EndedAt = &endedAt
	require.NoError(t, s.FinishRun(ctx, got))

	final, err := s.GetRun(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, final.Status)
	assert.True(t, final.Success)
	assert.True(t, final.NovachatQueued)
	assert.Equal(t, int64(2000), final.DurationMs)
	require.Len(t, final.Results, 1)
	assert.True(t, final.Results[0].Delivered)
	assert.Equal(t, model.StepStatusCompleted, final.Traces[0].Status)

	// List 过滤
	run2 := &model.MissionRun{
		ID: "run-002", MissionID: "msn-001", UserID: "user-1",
		Status: model.RunStatusFailed, Trigger: model.RunTriggerManual,
		Occurrence: now.Add(time.Minute), MissionVersion: 1, Attempts: 3,
		CreatedAt: now.Add(time.Minute),
	}
	require.NoError(t, s.CreateRun(ctx, run2))

	runs, err := s.ListRuns(ctx, storagetypes.RunFilter{MissionID: "msn-001"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, "run-002", runs[0].ID)

	failed, err := s.ListRuns(ctx, storagetypes.RunFilter{Status: string(model.RunStatusFailed)})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "run-002", failed[0].ID)

	// 尝试计数
	require.NoError(t, s.UpdateRunAttempts(ctx, "run-002", 4))
	got, _ = s.GetRun(ctx, "run-002")
	assert.Equal(t, 4, got.Attempts)
}

func TestListStaleQueuedRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	m := sampleMission("msn-001", "user-1", now.Add(-time.Hour))
	require.NoError(t, s.CreateMission(ctx, m))

	stale := &model.MissionRun{
		ID: "run-old", MissionID: "msn-001", UserID: "user-1",
		Status: model.RunStatusQueued, Trigger: model.RunTriggerSchedule,
		Occurrence: now.Add(-10 * time.Minute), MissionVersion: 1, Attempts: 1,
		CreatedAt: now.Add(-10 * time.Minute),
	}
	fresh := &model.MissionRun{
		ID: "run-new", MissionID: "msn-001", UserID: "user-1",
		Status: model.RunStatusQueued, Trigger: model.RunTriggerSchedule,
		Occurrence: now, MissionVersion: 1, Attempts: 1,
		CreatedAt: now,
	}
	running := &model.MissionRun{
		ID: "run-running", MissionID: "msn-001", UserID: "user-1",
		Status: model.RunStatusRunning, Trigger: model.RunTriggerSchedule,
		Occurrence: now.Add(-20 * time.Minute), MissionVersion: 1, Attempts: 1,
		CreatedAt: now.Add(-20 * time.Minute),
	}
	require.NoError(t, s.CreateRun(ctx, stale))
	require.NoError(t, s.CreateRun(ctx, fresh))
	require.NoError(t, s.CreateRun(ctx, running))

	got, err := s.ListStaleQueuedRuns(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-old", got[0].ID)
}

// ============================================================================
// VersionRecord 测试
// ============================================================================

func TestVersionAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := sampleMission("msn-001", "user-1", now)
	require.NoError(t, s.CreateMission(ctx, m))

	rec := &model.VersionRecord{
		VersionID:            "ver-001",
		MissionID:            "msn-001",
		ActorID:              "user-1",
		EventType:            model.VersionEventSnapshot,
		Reason:               "initial build",
		SourceMissionVersion: 1,
		Content:              m.ContentSnapshot(),
		CreatedAt:            now,
	}
	require.NoError(t, s.AppendVersion(ctx, rec))

	got, err := s.GetVersion(ctx, "msn-001", "ver-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.VersionEventSnapshot, got.EventType)
	assert.Equal(t, "Morning Digest", got.Content.Label)
	require.Len(t, got.Content.Steps, 4)

	// 其他任务拿不到这条记录
	got, err = s.GetVersion(ctx, "msn-other", "ver-001")
	require.NoError(t, err)
	assert.Nil(t, got)

	recs, err := s.ListVersions(ctx, storagetypes.VersionFilter{MissionID: "msn-001"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRestoreVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := sampleMission("msn-001", "user-1", now)
	require.NoError(t, s.CreateMission(ctx, m))

	// v1 快照
	require.NoError(t, s.AppendVersion(ctx, &model.VersionRecord{
		VersionID: "ver-v1", MissionID: "msn-001", ActorID: "user-1",
		EventType: model.VersionEventSnapshot, SourceMissionVersion: 1,
		Content: m.ContentSnapshot(), CreatedAt: now,
	}))

	// 编辑出 v2
	edited := m.ContentSnapshot()
	edited.Label = "Evening Digest"
	edited.Schedule.Time = "18:00"
	updated, err := s.UpdateMissionContent(ctx, "msn-001", edited, true)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)

	// 恢复到 v1 快照
	outcome, err := s.RestoreVersion(ctx, "msn-001", "ver-v1", "rollback bad edit", "user-1")
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, "ver-v1", outcome.RestoredVersionID)
	require.NotEmpty(t, outcome.BackupVersionID)

	// 活动内容回到 v1，版本继续递增
	assert.Equal(t, "Morning Digest", outcome.Mission.Label)
	assert.Equal(t, "09:00", outcome.Mission.Schedule.Time)
	assert.Equal(t, 3, outcome.Mission.Version)

	// 备份记录捕获恢复前内容，source 版本等于恢复前版本号
	backup, err := s.GetVersion(ctx, "msn-001", outcome.BackupVersionID)
	require.NoError(t, err)
	require.NotNil(t, backup)
	assert.Equal(t, model.VersionEventPreRestoreBackup, backup.EventType)
	assert.Equal(t, 2, backup.SourceMissionVersion)
	assert.Equal(t, "Evening Digest", backup.Content.Label)

	// 恢复记录引用目标版本与备份，时间在备份之后
	recs, err := s.ListVersions(ctx, storagetypes.VersionFilter{MissionID: "msn-001"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	restoreRec := recs[0]
	assert.Equal(t, model.VersionEventRestore, restoreRec.EventType)
	assert.Equal(t, "ver-v1", restoreRec.RestoredVersionID)
	assert.Equal(t, outcome.BackupVersionID, restoreRec.BackupVersionID)
	assert.Equal(t, 3, restoreRec.SourceMissionVersion)
	assert.True(t, restoreRec.CreatedAt.After(backup.CreatedAt))

	// source 版本沿链单调递增
	assert.GreaterOrEqual(t, recs[0].SourceMissionVersion, recs[1].SourceMissionVersion)
	assert.GreaterOrEqual(t, recs[1].SourceMissionVersion, recs[2].SourceMissionVersion)

	// 目标版本不存在：无任何写入
	outcome, err = s.RestoreVersion(ctx, "msn-001", "ver-nope", "", "user-1")
	require.NoError(t, err)
	assert.Nil(t, outcome)
	recs, _ = s.ListVersions(ctx, storagetypes.VersionFilter{MissionID: "msn-001"})
	assert.Len(t, recs, 3)
}

// ============================================================================
// DeadLetter 测试
// ============================================================================

func TestDeadLetterCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	dl := &model.DeadLetter{
		ID:        "dl-001",
		MissionID: "msn-001",
		RunID:     "run-001",
		Key:       "occurrence:msn-001:2026-01-02T09:00:00Z",
		Attempts:  3,
		Reason:    "retry budget exhausted",
		LastError: "fetch step s2: connection refused",
		Payload:   `{"stepTraces":[]}`,
		CreatedAt: now,
	}
	require.NoError(t, s.CreateDeadLetter(ctx, dl))

	got, err := s.GetDeadLetter(ctx, "dl-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "retry budget exhausted", got.Reason)
	assert.Equal(t, dl.Key, got.Key)

	got, err = s.GetDeadLetter(ctx, "dl-nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	dl2 := &model.DeadLetter{
		ID: "dl-002", MissionID: "msn-002", RunID: "run-009",
		Key: "k2", Attempts: 3, Reason: "r", CreatedAt: now.Add(time.Second),
	}
	require.NoError(t, s.CreateDeadLetter(ctx, dl2))

	all, err := s.ListDeadLetters(ctx, storagetypes.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "dl-002", all[0].ID)

	byMission, err := s.ListDeadLetters(ctx, storagetypes.DeadLetterFilter{MissionID: "msn-001"})
	require.NoError(t, err)
	require.Len(t, byMission, 1)
	assert.Equal(t, "dl-001", byMission[0].ID)
}

// ============================================================================
// EngineEvent 测试
// ============================================================================

func TestEngineEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	events := []*model.EngineEvent{
		{Type: model.EventValidationPassed, MissionID: "msn-001", CreatedAt: now.Add(-2 * time.Hour)},
		{Type: model.EventRunCompleted, MissionID: "msn-001", RunID: "run-1", DurationMs: 1200, CreatedAt: now.Add(-time.Hour)},
		{Type: model.EventRunFailed, MissionID: "msn-002", RunID: "run-2", DurationMs: 800, Detail: "fetch failed", CreatedAt: now},
		{Type: model.EventRunRetried, MissionID: "msn-002", RunID: "run-2", CreatedAt: now},
	}
	for _, ev := range events {
		require.NoError(t, s.AppendEngineEvent(ctx, ev))
	}

	all, err := s.ListEngineEvents(ctx, storagetypes.EngineEventFilter{Since: now.Add(-3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	// 升序返回
	assert.Equal(t, model.EventValidationPassed, all[0].Type)

	recent, err := s.ListEngineEvents(ctx, storagetypes.EngineEventFilter{Since: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	byMission, err := s.ListEngineEvents(ctx, storagetypes.EngineEventFilter{
		Since: now.Add(-3 * time.Hour), MissionID: "msn-002",
	})
	require.NoError(t, err)
	assert.Len(t, byMission, 2)

	count, err := s.CountEngineEvents(ctx, now.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

// ============================================================================
// User 测试
// ============================================================================

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	u := &model.User{
		ID: "usr-001", Email: "ops@example.com", Username: "ops",
		PasswordHash: "$2a$10$fake", Role: model.UserRoleAdmin, Status: model.UserStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateUser(ctx, u))

	byEmail, err := s.GetUserByEmail(ctx, "ops@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "usr-001", byEmail.ID)

	byID, err := s.GetUserByID(ctx, "usr-001")
	require.NoError(t, err)
	require.NotNil(t, byID)

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpdateUserPassword(ctx, "usr-001", "$2a$10$new"))
	byID, _ = s.GetUserByID(ctx, "usr-001")
	assert.Equal(t, "$2a$10$new", byID.PasswordHash)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
