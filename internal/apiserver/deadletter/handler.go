// Package deadletter 死信领域 - HTTP 处理
//
// 重试耗尽的运行沉到死信表，这里提供检查接口。只读：死信永不
// 自动重试，处置（修任务、手动触发）在别的入口完成。
package deadletter

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// Store 定义 deadletter handler 需要的存储能力面（测试可用假实现）
type Store interface {
	GetDeadLetter(ctx context.Context, id string) (*model.DeadLetter, error)
	ListDeadLetters(ctx context.Context, filter storage.DeadLetterFilter) ([]*model.DeadLetter, error)
}

// Handler 死信领域 HTTP 处理器
type Handler struct {
	store Store
}

// NewHandler 创建死信处理器
func NewHandler(store storage.PersistentStore) *Handler {
	return &Handler{store: store}
}

// NewHandlerWithInterfaces 使用窄接口创建处理器（测试用）
func NewHandlerWithInterfaces(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册死信路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/deadletters", h.List)
	mux.HandleFunc("GET /api/v1/deadletters/{id}", h.Get)
}

// List 列出死信（新→旧）
// GET /api/v1/deadletters?limit=&offset=&missionId=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	letters, err := h.store.ListDeadLetters(r.Context(), storage.DeadLetterFilter{
		MissionID: r.URL.Query().Get("missionId"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		log.Printf("[DeadLetter/List] list failed: err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if letters == nil {
		letters = []*model.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deadLetters": letters,
		"count":       len(letters),
	})
}

// Get 获取单条死信详情
// GET /api/v1/deadletters/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dl, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		log.Printf("[DeadLetter/Get] get failed: deadletter=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if dl == nil {
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	writeJSON(w, http.StatusOK, dl)
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
