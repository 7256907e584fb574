// Package trigger 触发领域 - HTTP 处理
//
// "现在就跑"的两种形态共用一条发射路径（claim → 建运行 → 执行）：
//   - 同步触发：阻塞到运行终态，返回最终结果
//   - 流式触发：先回 SSE 流，运行在后台推进，进度逐事件送达
//
// 去重分两层：手动窗口声明挡住双击与网络重放，排期时刻声明保证
// 与调度器（或并发的手动触发）在同一分钟只产生一次执行。
package trigger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/apiserver/stream"
	"missions-admin/internal/config"
	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// 触发被跳过的原因
const (
	// ReasonDuplicate 去重命中：该触发已被本窗口内的先行调用占用
	ReasonDuplicate = "duplicate"

	// ReasonDisabled 任务处于停用状态
	ReasonDisabled = "disabled"
)

// 声明窗口缺省值（配置未给出时）
const (
	defaultTriggerClaimTTL    = 10 * time.Second
	defaultOccurrenceClaimTTL = 10 * time.Minute
)

// ============================================================================
// 依赖能力面
// ============================================================================

// Store 定义 trigger handler 需要的存储能力面（测试可用假实现）
type Store interface {
	GetMission(ctx context.Context, id string) (*model.Mission, error)
	CreateRun(ctx context.Context, run *model.MissionRun) error
}

// Executor 运行执行入口（engine.Engine 满足）
type Executor interface {
	Execute(ctx context.Context, mission *model.Mission, run *model.MissionRun) (*model.TriggerResult, error)
}

// Claimer 幂等声明能力面（idempotency.Coordinator 满足）
type Claimer interface {
	Claim(ctx context.Context, key, userContextID, scope string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, userContextID, scope string) error
}

// ============================================================================
// Handler
// ============================================================================

// Handler 触发领域 HTTP 处理器
type Handler struct {
	store    Store
	coord    Claimer
	executor Executor
	gateway  *stream.Gateway
	cfg      config.EngineConfig
}

// NewHandler 创建触发处理器
func NewHandler(store storage.PersistentStore, coord *idempotency.Coordinator, executor Executor, gateway *stream.Gateway, cfg config.EngineConfig) *Handler {
	return &Handler{store: store, coord: coord, executor: executor, gateway: gateway, cfg: cfg}
}

// NewHandlerWithInterfaces 使用窄接口创建处理器（测试用）
func NewHandlerWithInterfaces(store Store, coord Claimer, executor Executor, gateway *stream.Gateway, cfg config.EngineConfig) *Handler {
	return &Handler{store: store, coord: coord, executor: executor, gateway: gateway, cfg: cfg}
}

// RegisterRoutes 注册触发相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/missions/{id}/trigger", h.Trigger)
	mux.HandleFunc("GET /api/v1/missions/{id}/trigger/stream", h.TriggerStream)
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// Trigger 同步触发一次运行
// POST /api/v1/missions/{id}/trigger
//
// 阻塞到运行终态。去重命中或任务停用返回 skipped 结果（HTTP 200：
// 调用本身没有失败）；运行失败同样是 200，成败在结果体里。
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := h.loadOwnedMission(w, r, id)
	if !ok {
		return
	}

	run, skipped, err := h.launch(r.Context(), m)
	if err != nil {
		log.Printf("[Trigger/Sync] launch failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to launch run")
		return
	}
	if skipped != nil {
		log.Printf("[Trigger/Sync] trigger skipped: mission=%s reason=%s", id, skipped.Reason)
		writeJSON(w, http.StatusOK, skipped)
		return
	}

	result, err := h.executor.Execute(r.Context(), m, run)
	if err != nil {
		log.Printf("[Trigger/Sync] execute failed: mission=%s run=%s err=%v", id, run.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to execute run")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// TriggerStream 流式触发一次运行
// GET /api/v1/missions/{id}/trigger/stream
//
// 发射成功后运行在后台推进（观察者断开不取消运行），事件经
// 网关以 SSE 送达直到 done/error。被跳过的触发同样回一帧 done
// 事件——流的消费者永远等到一个终结事件或回落同步接口。
func (h *Handler) TriggerStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := h.loadOwnedMission(w, r, id)
	if !ok {
		return
	}

	run, skipped, err := h.launch(r.Context(), m)
	if err != nil {
		log.Printf("[Trigger/Stream] launch failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to launch run")
		return
	}
	if skipped != nil {
		log.Printf("[Trigger/Stream] trigger skipped: mission=%s reason=%s", id, skipped.Reason)
		ev := &model.StreamEvent{
			Type:      model.StreamEventDone,
			MissionID: m.ID,
			Result:    skipped,
			Timestamp: time.Now().UTC(),
		}
		if err := stream.WriteResult(w, ev); err != nil {
			log.Printf("[Trigger/Stream] write skip result failed: mission=%s err=%v", id, err)
		}
		return
	}

	// 运行的生命周期与本次请求解耦
	execCtx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.executor.Execute(execCtx, m, run); err != nil {
			log.Printf("[Trigger/Stream] execute failed: mission=%s run=%s err=%v", m.ID, run.ID, err)
		}
	}()

	if err := h.gateway.ServeSSE(r.Context(), w, run.ID, ""); err != nil && r.Context().Err() == nil {
		log.Printf("[Trigger/Stream] stream ended with error: run=%s err=%v", run.ID, err)
	}
}

// ============================================================================
// 发射路径
// ============================================================================

// launch 为一个任务发射一次手动运行
//
// 返回三态：创建出的运行（可执行）、跳过结果（去重/停用）、错误。
// 顺序与调度器触发一致：先声明后落运行记录，运行创建失败释放
// 声明，让用户可以立即重试。
func (h *Handler) launch(ctx context.Context, m *model.Mission) (*model.MissionRun, *model.TriggerResult, error) {
	if !m.Enabled {
		return nil, &model.TriggerResult{OK: true, Skipped: true, Reason: ReasonDisabled}, nil
	}

	// 手动去重窗口：双击、客户端重试在 TTL 内折叠成一次
	accepted, err := h.coord.Claim(ctx, m.ID, m.UserID, idempotency.ScopeManual, h.triggerTTL())
	if err != nil {
		return nil, nil, fmt.Errorf("manual trigger claim: %w", err)
	}
	if !accepted {
		return nil, &model.TriggerResult{OK: true, Skipped: true, Reason: ReasonDuplicate}, nil
	}

	// 排期时刻声明：与调度器在同一分钟的触发互斥
	occurrence := time.Now().UTC().Truncate(time.Minute)
	occKey := idempotency.OccurrenceKey(m.ID, occurrence)
	accepted, err = h.coord.Claim(ctx, occKey, m.UserID, idempotency.ScopeOccurrence, h.occurrenceTTL())
	if err != nil {
		h.release(ctx, m.ID, m.UserID, idempotency.ScopeManual)
		return nil, nil, fmt.Errorf("occurrence claim: %w", err)
	}
	if !accepted {
		return nil, &model.TriggerResult{OK: true, Skipped: true, Reason: ReasonDuplicate}, nil
	}

	run := &model.MissionRun{
		ID:             generateID("run"),
		MissionID:      m.ID,
		UserID:         m.UserID,
		Status:         model.RunStatusQueued,
		Trigger:        model.RunTriggerManual,
		Occurrence:     occurrence,
		MissionVersion: m.Version,
		Attempts:       1,
		CreatedAt:      time.Now(),
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		h.release(ctx, occKey, m.UserID, idempotency.ScopeOccurrence)
		h.release(ctx, m.ID, m.UserID, idempotency.ScopeManual)
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	log.Printf("[Trigger/Launch] manual run launched: mission=%s run=%s occurrence=%s",
		m.ID, run.ID, occurrence.Format(time.RFC3339))
	return run, nil, nil
}

// loadOwnedMission 读任务并做归属校验，失败时已写响应
func (h *Handler) loadOwnedMission(w http.ResponseWriter, r *http.Request, id string) (*model.Mission, bool) {
	m, err := h.store.GetMission(r.Context(), id)
	if err != nil {
		log.Printf("[Trigger] load mission failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load mission")
		return nil, false
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return nil, false
	}
	if m.UserID != auth.UserID(r.Context()) {
		writeError(w, http.StatusForbidden, "mission belongs to another user")
		return nil, false
	}
	return m, true
}

func (h *Handler) release(ctx context.Context, key, userContextID, scope string) {
	if err := h.coord.Release(ctx, key, userContextID, scope); err != nil {
		log.Printf("[Trigger/Launch] release claim failed: scope=%s key=%s err=%v", scope, key, err)
	}
}

func (h *Handler) triggerTTL() time.Duration {
	if h.cfg.TriggerClaimTTL > 0 {
		return h.cfg.TriggerClaimTTL
	}
	return defaultTriggerClaimTTL
}

func (h *Handler) occurrenceTTL() time.Duration {
	if h.cfg.OccurrenceClaimTTL > 0 {
		return h.cfg.OccurrenceClaimTTL
	}
	return defaultOccurrenceClaimTTL
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// generateID 生成带前缀的随机 ID
func generateID(prefix string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b))
}
