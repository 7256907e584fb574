// Package server HTTP API 装配层
//
// 把各领域独立包（mission/trigger/run/stream/build/version/
// reliability/deadletter/auth）装配成完整服务：
//   - 路由与中间件链（指标 → 认证 → CORS）
//   - 幂等协调器、执行引擎、调度器的构建与生命周期
//   - 健康检查与 Prometheus 指标端点
//
// 文件组织：
//   - common.go:  Handler 定义、组件装配、健康检查
//   - handler.go: 路由配置
//   - events.go:  引擎事件检查接口
//   - metrics.go: HTTP 指标中间件
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/apiserver/scheduler"
	"missions-admin/internal/apiserver/stream"
	"missions-admin/internal/config"
	"missions-admin/internal/engine"
	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/cache"
	"missions-admin/internal/shared/eventbus"
	"missions-admin/internal/shared/queue"
	"missions-admin/internal/shared/storage"
)

// Handler API 装配器
//
// 依赖按能力面持有：没有 Redis 时各槽位回落空实现，服务以降级
// 模式（单进程去重、无流式进度、队列直通兜底）继续工作。
type Handler struct {
	store      storage.PersistentStore
	cacheStore storage.CacheStore // 可为 nil（降级模式）

	// 从 cacheStore 提取的能力面（永不为 nil，缺席时是空实现）
	claims   cache.ClaimCache
	results  cache.BuildResultCache
	runState cache.RunStateCache
	traceBus eventbus.TraceEventBus
	runQueue queue.RunQueue

	// 内部组件
	coordinator *idempotency.Coordinator
	engine      *engine.Engine
	scheduler   *scheduler.Scheduler
	gateway     *stream.Gateway
	metrics     *Metrics

	authCfg auth.Config
	cfg     *config.Config
}

// NewHandler 装配 API Server
//
// cacheStore 为 nil 时进入降级模式：幂等声明恒接受（单进程内
// 仍有在飞注册表兜底）、流式进度立即终结、运行经兜底轮询执行。
func NewHandler(store storage.PersistentStore, cacheStore storage.CacheStore, cfg *config.Config) *Handler {
	h := &Handler{
		store:      store,
		cacheStore: cacheStore,
		cfg:        cfg,
	}

	if cacheStore != nil {
		h.claims = cacheStore
		h.results = cacheStore
		h.runState = cacheStore
		h.traceBus = cacheStore
		h.runQueue = cacheStore
	} else {
		log.Printf("[Server/Init] no cache store configured, running degraded: claims=always-accept stream=no-op")
		noop := cache.NewNoOpCache()
		h.claims = noop
		h.results = noop
		h.runState = noop
		h.traceBus = eventbus.NewNoOpEventBus()
		h.runQueue = &queue.NoOpQueue{}
	}

	h.coordinator = idempotency.NewCoordinator(h.claims, cfg.Engine)
	h.engine = engine.New(store, h.traceBus, h.runState, engine.NewRunners(), cfg.Engine)
	h.scheduler = scheduler.New(store, h.coordinator, h.runQueue, h.engine, cfg.Scheduler, cfg.Engine.OccurrenceClaimTTL)
	h.gateway = stream.NewGateway(h.traceBus)
	h.metrics = NewMetrics("missions")
	h.authCfg = resolveAuthConfig(cfg.Auth)

	return h
}

// Engine 返回执行引擎（装配方注册外部步骤执行器、对象存储用）
func (h *Handler) Engine() *engine.Engine {
	return h.engine
}

// Scheduler 返回调度器（装配方注册领导者判定用）
func (h *Handler) Scheduler() *scheduler.Scheduler {
	return h.scheduler
}

// AuthConfig 返回解析完成的认证配置
func (h *Handler) AuthConfig() auth.Config {
	return h.authCfg
}

// StartScheduler 启动调度器协程，ctx 取消后停止
func (h *Handler) StartScheduler(ctx context.Context) error {
	return h.scheduler.Start(ctx)
}

// WaitScheduler 阻塞到调度器全部协程退出
func (h *Handler) WaitScheduler() {
	h.scheduler.Wait()
}

// resolveAuthConfig 把配置层的认证段翻译成 auth 包配置
//
// TTL 是 "15m" 这类时长字符串，解析失败回落默认值。
func resolveAuthConfig(cfg config.AuthConfig) auth.Config {
	out := auth.DefaultConfig()
	out.JWTSecret = cfg.JWTSecret
	if d, err := time.ParseDuration(cfg.AccessTokenTTL); err == nil && d > 0 {
		out.AccessTokenTTL = d
	}
	if d, err := time.ParseDuration(cfg.RefreshTokenTTL); err == nil && d > 0 {
		out.RefreshTokenTTL = d
	}
	return out
}

// ============================================================================
// 健康检查
// ============================================================================

// Health 健康检查接口
// GET /health
//
// 逐组件上报：store 用一次空查探测连通性，cache 未配置时报
// disabled 而不是 error。任一组件探测失败时整体置 degraded，
// HTTP 状态保持 200，编排层按 body 里的 status 判定。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	components := map[string]string{"store": "ok", "cache": "ok"}

	if _, err := h.store.GetMission(ctx, "health-probe"); err != nil {
		log.Printf("[Server/Health] store probe failed: %v", err)
		components["store"] = "error"
		status = "degraded"
	}

	if h.cacheStore == nil {
		components["cache"] = "disabled"
	} else if _, err := h.cacheStore.GetRunState(ctx, "health-probe"); err != nil {
		log.Printf("[Server/Health] cache probe failed: %v", err)
		components["cache"] = "error"
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// ============================================================================
// 工具函数
// ============================================================================

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
