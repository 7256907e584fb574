// Package stream 流式进度网关 - HTTP 处理
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// Store 定义 stream handler 需要的存储能力面（测试可用假实现）
type Store interface {
	GetRun(ctx context.Context, id string) (*model.MissionRun, error)
}

// Handler 流式网关 HTTP 处理器
type Handler struct {
	store   Store
	gateway *Gateway
}

// NewHandler 创建流式网关处理器
func NewHandler(store storage.PersistentStore, gateway *Gateway) *Handler {
	return &Handler{store: store, gateway: gateway}
}

// NewHandlerWithInterfaces 使用窄接口创建处理器（测试用）
func NewHandlerWithInterfaces(store Store, gateway *Gateway) *Handler {
	return &Handler{store: store, gateway: gateway}
}

// RegisterRoutes 注册 SSE 流式转发路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/runs/{id}/stream", h.Stream)
}

// RegisterWSRoutes 注册 WebSocket 路由
//
// 与 SSE 分开注册：WebSocket 升级需要 http.Hijacker，
// 调用方应将其挂到绕过指标中间件的顶层路由上。
func (h *Handler) RegisterWSRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/runs/{id}/trace", h.StreamWS)
}

// Stream 以 SSE 回放并跟随一条运行的事件流
// GET /api/v1/runs/{id}/stream
//
// 支持 Last-Event-ID 头（或 from 查询参数）断点续传：重连的
// 客户端只收到缺失的事件。运行已结束时回放依然给出完整序列。
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		log.Printf("[Stream/SSE] load run failed: run=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if run.UserID != auth.UserID(r.Context()) {
		writeError(w, http.StatusForbidden, "run belongs to another user")
		return
	}

	fromID := r.Header.Get("Last-Event-ID")
	if fromID == "" {
		fromID = r.URL.Query().Get("from")
	}

	if err := h.gateway.ServeSSE(r.Context(), w, id, fromID); err != nil && !errors.Is(err, context.Canceled) {
		// 流已开始，无法再改状态码，只能记日志
		log.Printf("[Stream/SSE] stream ended with error: run=%s err=%v", id, err)
	}
}

// StreamWS 经 WebSocket 转发同一事件流（UI 消费）
// GET /ws/runs/{id}/trace
//
// /ws/ 前缀绕过认证中间件：连接只读、按运行 ID 定位，供本地
// 控制台页面使用。
func (h *Handler) StreamWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Stream/WS] upgrade failed: run=%s err=%v", id, err)
		return
	}
	defer conn.Close()

	fromID := r.URL.Query().Get("from")
	if err := h.gateway.ServeWS(r.Context(), conn, id, fromID); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Stream/WS] stream ended with error: run=%s err=%v", id, err)
	}
}

// ============================================================================
// 工具函数
// ============================================================================

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
