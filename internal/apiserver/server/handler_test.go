// Package server 装配层 - 路由与健康检查单元测试
//
// 测试结构：
//   - mockServerStore: 嵌入 PersistentStore，只实现装配层直接
//     调用的方法（健康探测、引擎事件列表）
//   - mockCacheStore: 组合三个空实现拼出 CacheStore（Close 由
//     组合体显式提供以消除提升歧义）
//   - newTestHandler: 直接构造 Handler，绕开 NewHandler 的
//     Prometheus 全局指标注册
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/apiserver/stream"
	"missions-admin/internal/config"
	"missions-admin/internal/engine"
	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/cache"
	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/queue"
	"missions-admin/internal/shared/storage"
)

// ============================================================================
// Mock 实现
// ============================================================================

// mockServerStore 模拟 PersistentStore，只实现装配层所需方法
type mockServerStore struct {
	storage.PersistentStore // 嵌入接口，未实现的方法会 panic（测试中不应调用）

	missionErr error
	events     []*model.EngineEvent
	eventsErr  error
	lastFilter storage.EngineEventFilter
}

func (m *mockServerStore) GetMission(_ context.Context, _ string) (*model.Mission, error) {
	if m.missionErr != nil {
		return nil, m.missionErr
	}
	return nil, nil
}

func (m *mockServerStore) ListEngineEvents(_ context.Context, filter storage.EngineEventFilter) ([]*model.EngineEvent, error) {
	m.lastFilter = filter
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	return m.events, nil
}

// mockCacheStore 组合空实现拼出 CacheStore，GetRunState 可注入错误
type mockCacheStore struct {
	cache.NoOpCache
	eventbus.NoOpEventBus
	queue.NoOpQueue

	stateErr error
}

// Close 显式提供，消除三个嵌入体的提升歧义
func (m *mockCacheStore) Close() error { return nil }

func (m *mockCacheStore) GetRunState(_ context.Context, _ string) (*cache.RunState, error) {
	if m.stateErr != nil {
		return nil, m.stateErr
	}
	return nil, nil
}

var _ storage.CacheStore = (*mockCacheStore)(nil)

// testMetrics 全局共享的 Metrics 实例（避免 Prometheus 重复注册 panic）
var testMetrics = NewMetrics("server_test")

// newTestHandler 直接构造 Handler，只装配路由所需组件
func newTestHandler(store storage.PersistentStore, cacheStore storage.CacheStore) *Handler {
	cfg := &config.Config{}
	h := &Handler{
		store:      store,
		cacheStore: cacheStore,
		cfg:        cfg,
	}

	noop := cache.NewNoOpCache()
	h.claims = noop
	h.results = noop
	h.runState = noop
	h.traceBus = eventbus.NewNoOpEventBus()
	h.runQueue = &queue.NoOpQueue{}

	h.coordinator = idempotency.NewCoordinator(h.claims, cfg.Engine)
	h.engine = engine.New(store, h.traceBus, h.runState, engine.NewRunners(), cfg.Engine)
	h.gateway = stream.NewGateway(h.traceBus)
	h.metrics = testMetrics
	h.authCfg = auth.DefaultConfig()
	return h
}

func doRequest(router http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	return body
}

// ============================================================================
// TC-SRV-001: 健康检查逐组件上报
// ============================================================================

func TestHealth_AllComponentsOK(t *testing.T) {
	h := newTestHandler(&mockServerStore{}, &mockCacheStore{})
	rec := doRequest(h.Router(), http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, 期望 ok", body["status"])
	}
	components := body["components"].(map[string]interface{})
	if components["store"] != "ok" || components["cache"] != "ok" {
		t.Errorf("components = %v, 期望 store/cache 均为 ok", components)
	}
}

func TestHealth_StoreDownReportsDegraded(t *testing.T) {
	store := &mockServerStore{missionErr: errors.New("connection refused")}
	h := newTestHandler(store, &mockCacheStore{})
	rec := doRequest(h.Router(), http.MethodGet, "/health")

	// 探测失败不改变 HTTP 状态码，编排层按 body 判定
	if rec.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, 期望 degraded", body["status"])
	}
	components := body["components"].(map[string]interface{})
	if components["store"] != "error" {
		t.Errorf("components.store = %v, 期望 error", components["store"])
	}
}

func TestHealth_CacheDisabledIsNotDegraded(t *testing.T) {
	h := newTestHandler(&mockServerStore{}, nil)
	rec := doRequest(h.Router(), http.MethodGet, "/health")

	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, 期望 ok（缺缓存是降级配置，不是故障）", body["status"])
	}
	components := body["components"].(map[string]interface{})
	if components["cache"] != "disabled" {
		t.Errorf("components.cache = %v, 期望 disabled", components["cache"])
	}
}

func TestHealth_CacheProbeFailure(t *testing.T) {
	h := newTestHandler(&mockServerStore{}, &mockCacheStore{stateErr: errors.New("redis timeout")})
	rec := doRequest(h.Router(), http.MethodGet, "/health")

	body := decodeBody(t, rec)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, 期望 degraded", body["status"])
	}
	components := body["components"].(map[string]interface{})
	if components["cache"] != "error" {
		t.Errorf("components.cache = %v, 期望 error", components["cache"])
	}
}

// ============================================================================
// TC-SRV-002: 路由与中间件链
// ============================================================================

func TestRouter_CORSPreflight(t *testing.T) {
	h := newTestHandler(&mockServerStore{}, nil)
	rec := doRequest(h.Router(), http.MethodOptions, "/api/v1/missions")

	if rec.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, 期望 *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Access-Control-Allow-Methods = %q, 缺少 POST", got)
	}
}

func TestRouter_UnknownRouteIs404(t *testing.T) {
	h := newTestHandler(&mockServerStore{}, nil)
	rec := doRequest(h.Router(), http.MethodGet, "/api/v1/nonexistent")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("HTTP 状态码 = %d, 期望 404", rec.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	h := newTestHandler(&mockServerStore{}, nil)
	rec := doRequest(h.Router(), http.MethodGet, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "# HELP") {
		t.Error("指标输出缺少 # HELP 行")
	}
}

func TestRouter_ServesOpenAPISpec(t *testing.T) {
	h := newTestHandler(&mockServerStore{}, nil)
	router := h.Router()

	rec := doRequest(router, http.MethodGet, "/api/v1/openapi.yaml")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET openapi.yaml 状态码 = %d, 期望 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "openapi:") {
		t.Error("YAML 响应缺少 openapi 版本声明")
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/openapi.json")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET openapi.json 状态码 = %d, 期望 200", rec.Code)
	}
	if !json.Valid(rec.Body.Bytes()) {
		t.Error("JSON 变体不是合法 JSON")
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/docs")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET docs 状态码 = %d, 期望 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("docs Content-Type = %q, 期望 text/html", ct)
	}
}

// ============================================================================
// TC-SRV-003: 引擎事件检查接口
// ============================================================================

func TestListEngineEvents_Basic(t *testing.T) {
	store := &mockServerStore{events: []*model.EngineEvent{
		{ID: 1, Type: model.EventRunCompleted, MissionID: "mission-a"},
		{ID: 2, Type: model.EventRunRetried, MissionID: "mission-a"},
	}}
	h := newTestHandler(store, nil)
	rec := doRequest(h.Router(), http.MethodGet, "/api/v1/events")

	if rec.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if int(body["count"].(float64)) != 2 {
		t.Errorf("count = %v, 期望 2", body["count"])
	}

	// 默认窗口 1 天、限额 100
	wantSince := time.Now().Add(-24 * time.Hour)
	got := store.lastFilter.Since
	if got.Before(wantSince.Add(-time.Minute)) || got.After(wantSince.Add(time.Minute)) {
		t.Errorf("Since = %v, 期望约 %v", got, wantSince)
	}
	if store.lastFilter.Limit != 100 {
		t.Errorf("Limit = %d, 期望 100", store.lastFilter.Limit)
	}
	if store.lastFilter.MissionID != "" {
		t.Errorf("MissionID = %q, 期望空", store.lastFilter.MissionID)
	}
}

func TestListEngineEvents_QueryParams(t *testing.T) {
	store := &mockServerStore{}
	h := newTestHandler(store, nil)
	rec := doRequest(h.Router(), http.MethodGet, "/api/v1/events?days=3&missionId=mission-b&limit=5")

	if rec.Code != http.StatusOK {
		t.Fatalf("HTTP 状态码 = %d, 期望 200", rec.Code)
	}
	wantSince := time.Now().Add(-3 * 24 * time.Hour)
	got := store.lastFilter.Since
	if got.Before(wantSince.Add(-time.Minute)) || got.After(wantSince.Add(time.Minute)) {
		t.Errorf("Since = %v, 期望约 %v", got, wantSince)
	}
	if store.lastFilter.MissionID != "mission-b" {
		t.Errorf("MissionID = %q, 期望 mission-b", store.lastFilter.MissionID)
	}
	if store.lastFilter.Limit != 5 {
		t.Errorf("Limit = %d, 期望 5", store.lastFilter.Limit)
	}
}

func TestListEngineEvents_ClampsWindowAndLimit(t *testing.T) {
	store := &mockServerStore{}
	h := newTestHandler(store, nil)
	doRequest(h.Router(), http.MethodGet, "/api/v1/events?days=90&limit=5000")

	wantSince := time.Now().Add(-30 * 24 * time.Hour)
	got := store.lastFilter.Since
	if got.Before(wantSince.Add(-time.Minute)) || got.After(wantSince.Add(time.Minute)) {
		t.Errorf("Since = %v, 期望按 30 天上限约 %v", got, wantSince)
	}
	if store.lastFilter.Limit != 100 {
		t.Errorf("Limit = %d, 期望超限回落 100", store.lastFilter.Limit)
	}
}

func TestListEngineEvents_EmptyIsArray(t *testing.T) {
	h := newTestHandler(&mockServerStore{}, nil)
	rec := doRequest(h.Router(), http.MethodGet, "/api/v1/events")

	var body struct {
		Events json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !strings.HasPrefix(string(body.Events), "[") {
		t.Errorf("events = %s, 期望空数组而非 null", body.Events)
	}
}

func TestListEngineEvents_StoreFailure(t *testing.T) {
	store := &mockServerStore{eventsErr: errors.New("boom")}
	h := newTestHandler(store, nil)
	rec := doRequest(h.Router(), http.MethodGet, "/api/v1/events")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("HTTP 状态码 = %d, 期望 500", rec.Code)
	}
}

// ============================================================================
// TC-SRV-004: 指标路径归一化
// ============================================================================

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"集合本身不替换", "/api/v1/missions", "/api/v1/missions"},
		{"资源 ID 替换", "/api/v1/missions/mission-a1b2", "/api/v1/missions/{id}"},
		{"嵌套集合", "/api/v1/missions/mission-a1b2/runs", "/api/v1/missions/{id}/runs"},
		{"固定动作 build 保留", "/api/v1/missions/build", "/api/v1/missions/build"},
		{"运行流式路径", "/api/v1/runs/run-77/stream", "/api/v1/runs/{id}/stream"},
		{"版本恢复双 ID", "/api/v1/missions/m-1/versions/v-2/restore", "/api/v1/missions/{id}/versions/{id}/restore"},
		{"死信详情", "/api/v1/deadletters/dl-9", "/api/v1/deadletters/{id}"},
		{"无关路径不动", "/health", "/health"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizePath(tc.in); got != tc.want {
				t.Errorf("normalizePath(%q) = %q, 期望 %q", tc.in, got, tc.want)
			}
		})
	}
}

// ============================================================================
// TC-SRV-005: 认证配置解析
// ============================================================================

func TestResolveAuthConfig(t *testing.T) {
	got := resolveAuthConfig(config.AuthConfig{
		JWTSecret:       "s3cret",
		AccessTokenTTL:  "30m",
		RefreshTokenTTL: "72h",
	})
	if got.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret = %q, 期望 s3cret", got.JWTSecret)
	}
	if got.AccessTokenTTL != 30*time.Minute {
		t.Errorf("AccessTokenTTL = %v, 期望 30m", got.AccessTokenTTL)
	}
	if got.RefreshTokenTTL != 72*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, 期望 72h", got.RefreshTokenTTL)
	}
}

func TestResolveAuthConfig_BadTTLFallsBack(t *testing.T) {
	def := auth.DefaultConfig()
	got := resolveAuthConfig(config.AuthConfig{
		AccessTokenTTL:  "soon",
		RefreshTokenTTL: "-1h",
	})
	if got.AccessTokenTTL != def.AccessTokenTTL {
		t.Errorf("AccessTokenTTL = %v, 期望回落默认 %v", got.AccessTokenTTL, def.AccessTokenTTL)
	}
	if got.RefreshTokenTTL != def.RefreshTokenTTL {
		t.Errorf("RefreshTokenTTL = %v, 期望回落默认 %v", got.RefreshTokenTTL, def.RefreshTokenTTL)
	}
}
