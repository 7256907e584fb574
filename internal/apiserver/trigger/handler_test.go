// Package trigger 触发领域 - Handler 单元测试
//
// 测试类型：Unit Test（使用 Mock 隔离存储、声明与执行器）
package trigger

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"missions-admin/internal/apiserver/stream"
	"missions-admin/internal/config"
	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/model"
)

// ============================================================================
// Mock 实现
// ============================================================================

// mockTriggerStore 模拟存储
type mockTriggerStore struct {
	missions     map[string]*model.Mission
	runs         []*model.MissionRun
	getErr       error
	createRunErr error
}

func newMockStore() *mockTriggerStore {
	return &mockTriggerStore{missions: make(map[string]*model.Mission)}
}

func (m *mockTriggerStore) GetMission(ctx context.Context, id string) (*model.Mission, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.missions[id], nil
}

func (m *mockTriggerStore) CreateRun(ctx context.Context, run *model.MissionRun) error {
	if m.createRunErr != nil {
		return m.createRunErr
	}
	m.runs = append(m.runs, run)
	return nil
}

// mockClaimer 模拟幂等声明
type mockClaimer struct {
	held     map[string]bool
	deny     map[string]bool // 按作用域整体拒绝
	claimErr error
}

func newMockClaimer() *mockClaimer {
	return &mockClaimer{held: make(map[string]bool), deny: make(map[string]bool)}
}

func claimKey(scope, userContextID, key string) string {
	return scope + ":" + userContextID + ":" + key
}

func (m *mockClaimer) Claim(ctx context.Context, key, userContextID, scope string, ttl time.Duration) (bool, error) {
	if m.claimErr != nil {
		return false, m.claimErr
	}
	if m.deny[scope] {
		return false, nil
	}
	k := claimKey(scope, userContextID, key)
	if m.held[k] {
		return false, nil
	}
	m.held[k] = true
	return true, nil
}

func (m *mockClaimer) Release(ctx context.Context, key, userContextID, scope string) error {
	delete(m.held, claimKey(scope, userContextID, key))
	return nil
}

// mockExecutor 模拟执行器（经带缓冲通道记录调用，流式路径在后台执行）
type mockExecutor struct {
	calls   chan *model.MissionRun
	execErr error
	result  *model.TriggerResult
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{calls: make(chan *model.MissionRun, 4)}
}

func (m *mockExecutor) Execute(ctx context.Context, mission *model.Mission, run *model.MissionRun) (*model.TriggerResult, error) {
	m.calls <- run
	if m.execErr != nil {
		return nil, m.execErr
	}
	if m.result != nil {
		return m.result, nil
	}
	return &model.TriggerResult{OK: true, RunID: run.ID}, nil
}

func (m *mockExecutor) waitForCall(t *testing.T) *model.MissionRun {
	t.Helper()
	select {
	case run := <-m.calls:
		return run
	case <-time.After(2 * time.Second):
		t.Fatalf("执行器在超时前未被调用")
		return nil
	}
}

// stubBus 预置事件的事件总线（订阅一次性回放并关闭）
type stubBus struct {
	events []*eventbus.TraceEvent
}

func (b *stubBus) PublishTraceEvent(ctx context.Context, runID string, event *model.StreamEvent) error {
	return nil
}

func (b *stubBus) GetTraceEvents(ctx context.Context, runID string, fromID string, count int64) ([]*eventbus.TraceEvent, error) {
	return b.events, nil
}

func (b *stubBus) GetTraceEventCount(ctx context.Context, runID string) (int64, error) {
	return int64(len(b.events)), nil
}

func (b *stubBus) SubscribeTraceEvents(ctx context.Context, runID string, fromID string) (<-chan *eventbus.TraceEvent, error) {
	ch := make(chan *eventbus.TraceEvent, len(b.events))
	for _, ev := range b.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (b *stubBus) DeleteTraceEvents(ctx context.Context, runID string) error {
	return nil
}

// ============================================================================
// 测试辅助
// ============================================================================

type testEnv struct {
	store  *mockTriggerStore
	claims *mockClaimer
	exec   *mockExecutor
	bus    *stubBus
	mux    *http.ServeMux
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:  newMockStore(),
		claims: newMockClaimer(),
		exec:   newMockExecutor(),
		bus:    &stubBus{},
	}
	h := NewHandlerWithInterfaces(env.store, env.claims, env.exec, stream.NewGateway(env.bus), config.EngineConfig{})
	env.mux = http.NewServeMux()
	h.RegisterRoutes(env.mux)
	return env
}

func seedMission(store *mockTriggerStore, id string, enabled bool) *model.Mission {
	m := &model.Mission{
		ID:      id,
		UserID:  "local",
		Label:   "morning briefing",
		Enabled: enabled,
		Version: 2,
		Schedule: model.Schedule{
			Mode: model.ScheduleDaily,
			Time: "09:00",
		},
		Steps: model.StepList{
			&model.TriggerStep{StepMeta: model.StepMeta{ID: "s1"}},
			&model.OutputStep{StepMeta: model.StepMeta{ID: "s2"}, Channel: "telegram"},
		},
	}
	store.missions[id] = m
	return m
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) *model.TriggerResult {
	t.Helper()
	var result model.TriggerResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("响应解析失败: %v, body: %s", err, w.Body.String())
	}
	return &result
}

// ============================================================================
// TC-TRIGGER-SYNC-001: 基本同步触发
// ============================================================================

func TestTrigger_Basic(t *testing.T) {
	env := newTestEnv()
	seedMission(env.store, "mission-a", true)

	req := httptest.NewRequest("POST", "/api/v1/missions/mission-a/trigger", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200, 响应: %s", w.Code, w.Body.String())
	}
	result := decodeResult(t, w)
	if !result.OK || result.Skipped {
		t.Errorf("结果 = %+v, 期望 ok 且未跳过", result)
	}
	if result.RunID == "" {
		t.Errorf("结果缺少 runId")
	}

	if len(env.store.runs) != 1 {
		t.Fatalf("运行记录数 = %d, 期望 1", len(env.store.runs))
	}
	run := env.store.runs[0]
	if run.Trigger != model.RunTriggerManual {
		t.Errorf("trigger = %s, 期望 manual", run.Trigger)
	}
	if run.Status != model.RunStatusQueued {
		t.Errorf("初始状态 = %s, 期望 queued", run.Status)
	}
	if run.MissionVersion != 2 {
		t.Errorf("missionVersion = %d, 期望 2", run.MissionVersion)
	}
	if run.Attempts != 1 {
		t.Errorf("attempts = %d, 期望 1", run.Attempts)
	}

	executed := env.exec.waitForCall(t)
	if executed.ID != run.ID {
		t.Errorf("执行的运行 = %s, 期望 %s", executed.ID, run.ID)
	}

	// 两层声明都已占位（排期时刻 key 含分钟时间戳，按前缀匹配）
	if !env.claims.held[claimKey(idempotency.ScopeManual, "local", "mission-a")] {
		t.Errorf("手动窗口声明未占位")
	}
	occPrefix := claimKey(idempotency.ScopeOccurrence, "local", "mission-a@")
	found := false
	for k := range env.claims.held {
		if strings.HasPrefix(k, occPrefix) {
			found = true
		}
	}
	if !found {
		t.Errorf("排期时刻声明未占位, held=%v", env.claims.held)
	}
}

// ============================================================================
// TC-TRIGGER-SYNC-002: 去重窗口命中 → skipped
// ============================================================================

func TestTrigger_DuplicateWindow(t *testing.T) {
	env := newTestEnv()
	seedMission(env.store, "mission-a", true)

	// 第一次触发占位
	req := httptest.NewRequest("POST", "/api/v1/missions/mission-a/trigger", nil)
	env.mux.ServeHTTP(httptest.NewRecorder(), req)
	env.exec.waitForCall(t)

	// 窗口内的重复触发
	req = httptest.NewRequest("POST", "/api/v1/missions/mission-a/trigger", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	result := decodeResult(t, w)
	if !result.OK || !result.Skipped || result.Reason != ReasonDuplicate {
		t.Errorf("结果 = %+v, 期望 {ok:true, skipped:true, reason:duplicate}", result)
	}
	if len(env.store.runs) != 1 {
		t.Errorf("重复触发创建了新运行: runs = %d", len(env.store.runs))
	}
}

// ============================================================================
// TC-TRIGGER-SYNC-003: 排期时刻被占用 → skipped（与调度器互斥）
// ============================================================================

func TestTrigger_OccurrenceConflict(t *testing.T) {
	env := newTestEnv()
	seedMission(env.store, "mission-a", true)

	// 模拟调度器已占用本分钟的排期时刻
	env.claims.deny[idempotency.ScopeOccurrence] = true

	req := httptest.NewRequest("POST", "/api/v1/missions/mission-a/trigger", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	result := decodeResult(t, w)
	if !result.Skipped || result.Reason != ReasonDuplicate {
		t.Errorf("结果 = %+v, 期望 skipped duplicate", result)
	}
	if len(env.store.runs) != 0 {
		t.Errorf("冲突触发创建了运行")
	}
	select {
	case <-env.exec.calls:
		t.Errorf("冲突触发不应执行")
	default:
	}
}

// ============================================================================
// TC-TRIGGER-SYNC-004: 停用任务 → skipped disabled，不占声明
// ============================================================================

func TestTrigger_Disabled(t *testing.T) {
	env := newTestEnv()
	seedMission(env.store, "mission-a", false)

	req := httptest.NewRequest("POST", "/api/v1/missions/mission-a/trigger", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	result := decodeResult(t, w)
	if !result.OK || !result.Skipped || result.Reason != ReasonDisabled {
		t.Errorf("结果 = %+v, 期望 {ok:true, skipped:true, reason:disabled}", result)
	}
	if len(env.claims.held) != 0 {
		t.Errorf("停用任务不应占声明: held=%v", env.claims.held)
	}
}

// ============================================================================
// TC-TRIGGER-SYNC-005: 404 与归属校验
// ============================================================================

func TestTrigger_NotFound(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest("POST", "/api/v1/missions/mission-x/trigger", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("HTTP 状态码 = %d, 期望 404", w.Code)
	}
}

func TestTrigger_WrongUser(t *testing.T) {
	env := newTestEnv()
	seedMission(env.store, "mission-a", true).UserID = "someone-else"

	req := httptest.NewRequest("POST", "/api/v1/missions/mission-a/trigger", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("HTTP 状态码 = %d, 期望 403", w.Code)
	}
	if len(env.store.runs) != 0 {
		t.Errorf("他人任务被触发")
	}
}

// ============================================================================
// TC-TRIGGER-SYNC-006: 运行创建失败 → 释放两层声明
// ============================================================================

func TestTrigger_CreateRunFailureReleasesClaims(t *testing.T) {
	env := newTestEnv()
	seedMission(env.store, "mission-a", true)
	env.store.createRunErr = context.DeadlineExceeded

	req := httptest.NewRequest("POST", "/api/v1/missions/mission-a/trigger", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("HTTP 状态码 = %d, 期望 500", w.Code)
	}
	// 声明已释放：用户可以立即重试
	if len(env.claims.held) != 0 {
		t.Errorf("失败后声明未释放: held=%v", env.claims.held)
	}
}

// ============================================================================
// TC-TRIGGER-STREAM-001: 流式触发送达完整事件序列
// ============================================================================

func TestTriggerStream_DeliversEvents(t *testing.T) {
	env := newTestEnv()
	seedMission(env.store, "mission-a", true)

	detail := "delivered via telegram"
	env.bus.events = []*eventbus.TraceEvent{
		{ID: "1-0", Seq: 1, Type: "started", Event: &model.StreamEvent{Type: model.StreamEventStarted}},
		{ID: "2-0", Seq: 2, Type: "step", Event: &model.StreamEvent{
			Type:  model.StreamEventStep,
			Trace: &model.StepTraceUpdate{StepID: "s2", Status: model.StepStatusCompleted, Detail: &detail},
		}},
		{ID: "3-0", Seq: 3, Type: "done", Event: &model.StreamEvent{
			Type:   model.StreamEventDone,
			Result: &model.TriggerResult{OK: true, RunID: "run-x"},
		}},
	}

	req := httptest.NewRequest("GET", "/api/v1/missions/mission-a/trigger/stream", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200, 响应: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %s, 期望 text/event-stream", ct)
	}
	env.exec.waitForCall(t)

	events := parseSSE(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("事件数 = %d, 期望 3, body:\n%s", len(events), w.Body.String())
	}
	if events[0].Type != model.StreamEventStarted {
		t.Errorf("事件 1 类型 = %s, 期望 started", events[0].Type)
	}
	if events[1].Type != model.StreamEventStep || events[1].Trace == nil || events[1].Trace.StepID != "s2" {
		t.Errorf("事件 2 = %+v, 期望 s2 的 step 更新", events[1])
	}
	last := events[len(events)-1]
	if last.Type != model.StreamEventDone || last.Result == nil || !last.Result.OK {
		t.Errorf("终结事件 = %+v, 期望携带成功结果的 done", last)
	}
}

// ============================================================================
// TC-TRIGGER-STREAM-002: 被跳过的触发回一帧 done 事件
// ============================================================================

func TestTriggerStream_SkippedWritesDone(t *testing.T) {
	env := newTestEnv()
	seedMission(env.store, "mission-a", false)

	req := httptest.NewRequest("GET", "/api/v1/missions/mission-a/trigger/stream", nil)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	events := parseSSE(t, w.Body.String())
	if len(events) != 1 {
		t.Fatalf("事件数 = %d, 期望 1", len(events))
	}
	ev := events[0]
	if ev.Type != model.StreamEventDone || ev.Result == nil {
		t.Fatalf("事件 = %+v, 期望 done", ev)
	}
	if !ev.Result.Skipped || ev.Result.Reason != ReasonDisabled {
		t.Errorf("结果 = %+v, 期望 skipped disabled", ev.Result)
	}
}

// parseSSE 解析 SSE 响应体里的事件负载
func parseSSE(t *testing.T, body string) []*model.StreamEvent {
	t.Helper()
	var events []*model.StreamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev model.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("SSE 负载解析失败: %v, line: %s", err, line)
		}
		events = append(events, &ev)
	}
	return events
}
