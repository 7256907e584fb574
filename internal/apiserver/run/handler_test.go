// Package run 运行历史领域 - Handler 单元测试
//
// 测试类型：Unit Test（使用 Mock 隔离存储与进度缓存）
package run

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"missions-admin/internal/shared/cache"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// ============================================================================
// Mock 实现
// ============================================================================

// mockRunStore 模拟存储
type mockRunStore struct {
	missions map[string]*model.Mission
	runs     map[string]*model.MissionRun

	lastFilter storage.RunFilter
	getErr     error
	listErr    error
}

func newMockStore() *mockRunStore {
	return &mockRunStore{
		missions: make(map[string]*model.Mission),
		runs:     make(map[string]*model.MissionRun),
	}
}

func (m *mockRunStore) GetMission(ctx context.Context, id string) (*model.Mission, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.missions[id], nil
}

func (m *mockRunStore) GetRun(ctx context.Context, id string) (*model.MissionRun, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.runs[id], nil
}

func (m *mockRunStore) ListRuns(ctx context.Context, filter storage.RunFilter) ([]*model.MissionRun, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.MissionRun
	for _, r := range m.runs {
		if r.MissionID != filter.MissionID {
			continue
		}
		if filter.Status != "" && string(r.Status) != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// mockStateCache 模拟实时进度缓存
type mockStateCache struct {
	states map[string]*cache.RunState
	getErr error
	calls  int
}

func (m *mockStateCache) GetRunState(ctx context.Context, runID string) (*cache.RunState, error) {
	m.calls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.states[runID], nil
}

// ============================================================================
// 测试辅助
// ============================================================================

func newTestMux(store Store, states StateCache) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandlerWithInterfaces(store, states).RegisterRoutes(mux)
	return mux
}

func seedMission(store *mockRunStore, id, userID string) {
	store.missions[id] = &model.Mission{
		ID:     id,
		UserID: userID,
		Label:  "seed",
	}
}

func seedRun(store *mockRunStore, id, missionID string, status model.RunStatus) *model.MissionRun {
	run := &model.MissionRun{
		ID:             id,
		MissionID:      missionID,
		UserID:         "local",
		Status:         status,
		Trigger:        model.RunTriggerSchedule,
		MissionVersion: 1,
		Attempts:       1,
		CreatedAt:      time.Now(),
	}
	store.runs[id] = run
	return run
}

func doGet(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

// ============================================================================
// TC-RUN-001: 运行历史列表
// ============================================================================

func TestListByMission_Basic(t *testing.T) {
	store := newMockStore()
	seedMission(store, "mission-a", "local")
	seedRun(store, "run-1", "mission-a", model.RunStatusSuccess)
	seedRun(store, "run-2", "mission-a", model.RunStatusFailed)
	seedRun(store, "run-3", "mission-b", model.RunStatusSuccess)
	mux := newTestMux(store, nil)

	w := doGet(t, mux, "/api/v1/missions/mission-a/runs")

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200, 响应: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Runs  []*model.MissionRun `json:"runs"`
		Count int                 `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if resp.Count != 2 || len(resp.Runs) != 2 {
		t.Errorf("count = %d / len = %d, 期望 2 / 2", resp.Count, len(resp.Runs))
	}
	if store.lastFilter.MissionID != "mission-a" {
		t.Errorf("过滤条件 missionId = %s, 期望 mission-a", store.lastFilter.MissionID)
	}
	if store.lastFilter.Limit != 50 {
		t.Errorf("缺省 limit = %d, 期望 50", store.lastFilter.Limit)
	}
}

func TestListByMission_StatusAndPaging(t *testing.T) {
	store := newMockStore()
	seedMission(store, "mission-a", "local")
	seedRun(store, "run-1", "mission-a", model.RunStatusSuccess)
	seedRun(store, "run-2", "mission-a", model.RunStatusFailed)
	mux := newTestMux(store, nil)

	w := doGet(t, mux, "/api/v1/missions/mission-a/runs?status=failed&limit=10&offset=5")

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	if store.lastFilter.Status != "failed" || store.lastFilter.Limit != 10 || store.lastFilter.Offset != 5 {
		t.Errorf("过滤条件 = %+v, 期望 status=failed limit=10 offset=5", store.lastFilter)
	}

	// limit 超上限回落缺省值
	doGet(t, mux, "/api/v1/missions/mission-a/runs?limit=500")
	if store.lastFilter.Limit != 50 {
		t.Errorf("超限 limit = %d, 期望回落 50", store.lastFilter.Limit)
	}
}

func TestListByMission_EmptyIsArray(t *testing.T) {
	store := newMockStore()
	seedMission(store, "mission-a", "local")
	mux := newTestMux(store, nil)

	w := doGet(t, mux, "/api/v1/missions/mission-a/runs")

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	var resp map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if string(resp["runs"]) != "[]" {
		t.Errorf("空列表 = %s, 期望 []", resp["runs"])
	}
}

func TestListByMission_OwnerChecks(t *testing.T) {
	store := newMockStore()
	seedMission(store, "mission-b", "someone-else")
	mux := newTestMux(store, nil)

	if w := doGet(t, mux, "/api/v1/missions/nope/runs"); w.Code != http.StatusNotFound {
		t.Errorf("不存在任务: HTTP 状态码 = %d, 期望 404", w.Code)
	}
	if w := doGet(t, mux, "/api/v1/missions/mission-b/runs"); w.Code != http.StatusForbidden {
		t.Errorf("他人任务: HTTP 状态码 = %d, 期望 403", w.Code)
	}

	store.getErr = errors.New("db down")
	if w := doGet(t, mux, "/api/v1/missions/mission-b/runs"); w.Code != http.StatusInternalServerError {
		t.Errorf("存储故障: HTTP 状态码 = %d, 期望 500", w.Code)
	}
}

// ============================================================================
// TC-RUN-002: 运行详情
// ============================================================================

func TestGet_Basic(t *testing.T) {
	store := newMockStore()
	seedRun(store, "run-1", "mission-a", model.RunStatusSuccess)
	states := &mockStateCache{states: map[string]*cache.RunState{}}
	mux := newTestMux(store, states)

	w := doGet(t, mux, "/api/v1/runs/run-1")

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200, 响应: %s", w.Code, w.Body.String())
	}
	var resp map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if _, has := resp["live"]; has {
		t.Errorf("已结束的运行不应带 live 字段")
	}
	// 终态运行不查进度缓存
	if states.calls != 0 {
		t.Errorf("缓存查询次数 = %d, 期望 0", states.calls)
	}
}

func TestGet_LiveStateWhenRunning(t *testing.T) {
	store := newMockStore()
	seedRun(store, "run-1", "mission-a", model.RunStatusRunning)
	states := &mockStateCache{states: map[string]*cache.RunState{
		"run-1": {State: "running", StepIndex: 2, CurrentStep: "s3"},
	}}
	mux := newTestMux(store, states)

	w := doGet(t, mux, "/api/v1/runs/run-1")

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
	var resp struct {
		ID   string          `json:"id"`
		Live *cache.RunState `json:"live"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if resp.ID != "run-1" {
		t.Errorf("id = %s, 期望 run-1", resp.ID)
	}
	if resp.Live == nil || resp.Live.CurrentStep != "s3" || resp.Live.StepIndex != 2 {
		t.Errorf("live = %+v, 期望 currentStep=s3 stepIndex=2", resp.Live)
	}
}

func TestGet_CacheErrorStillReturnsRun(t *testing.T) {
	store := newMockStore()
	seedRun(store, "run-1", "mission-a", model.RunStatusRunning)
	states := &mockStateCache{getErr: errors.New("redis down")}
	mux := newTestMux(store, states)

	w := doGet(t, mux, "/api/v1/runs/run-1")

	if w.Code != http.StatusOK {
		t.Fatalf("缓存故障不应影响详情: HTTP 状态码 = %d, 期望 200", w.Code)
	}
	var resp map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if _, has := resp["live"]; has {
		t.Errorf("缓存故障时不应带 live 字段")
	}
}

func TestGet_NoCacheConfigured(t *testing.T) {
	store := newMockStore()
	seedRun(store, "run-1", "mission-a", model.RunStatusRunning)
	mux := newTestMux(store, nil)

	w := doGet(t, mux, "/api/v1/runs/run-1")

	if w.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", w.Code)
	}
}

func TestGet_OwnerChecks(t *testing.T) {
	store := newMockStore()
	other := seedRun(store, "run-x", "mission-b", model.RunStatusSuccess)
	other.UserID = "someone-else"
	mux := newTestMux(store, nil)

	if w := doGet(t, mux, "/api/v1/runs/nope"); w.Code != http.StatusNotFound {
		t.Errorf("不存在运行: HTTP 状态码 = %d, 期望 404", w.Code)
	}
	if w := doGet(t, mux, "/api/v1/runs/run-x"); w.Code != http.StatusForbidden {
		t.Errorf("他人运行: HTTP 状态码 = %d, 期望 403", w.Code)
	}
}
