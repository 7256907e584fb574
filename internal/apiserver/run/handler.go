// Package run 运行历史领域 - HTTP 处理
//
// 运行记录的查询接口。运行的创建只发生在调度器触发和手动触发
// 两条受声明保护的路径上，这里是只读视图；进行中的运行额外
// 附带执行进度缓存里的实时状态。
package run

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/shared/cache"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// Store 定义 run handler 需要的存储能力面（测试可用假实现）
type Store interface {
	GetMission(ctx context.Context, id string) (*model.Mission, error)
	GetRun(ctx context.Context, id string) (*model.MissionRun, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]*model.MissionRun, error)
}

// StateCache 定义实时进度缓存能力面
type StateCache interface {
	GetRunState(ctx context.Context, runID string) (*cache.RunState, error)
}

// Handler 运行历史 HTTP 处理器
type Handler struct {
	store  Store
	states StateCache
}

// NewHandler 创建运行历史处理器
//
// states 可为 nil：没有进度缓存时详情接口只返回持久化字段。
func NewHandler(store storage.PersistentStore, states cache.RunStateCache) *Handler {
	var sc StateCache
	if states != nil {
		sc = states
	}
	return &Handler{store: store, states: sc}
}

// NewHandlerWithInterfaces 使用窄接口创建处理器（测试用）
func NewHandlerWithInterfaces(store Store, states StateCache) *Handler {
	return &Handler{store: store, states: states}
}

// RegisterRoutes 注册运行历史路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/missions/{id}/runs", h.ListByMission)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.Get)
}

// runDetail 详情响应：持久化运行记录 + 进行中的实时进度
type runDetail struct {
	*model.MissionRun
	Live *cache.RunState `json:"live,omitempty"`
}

// ListByMission 列出任务的运行历史（新→旧）
// GET /api/v1/missions/{id}/runs?status=&limit=&offset=
func (h *Handler) ListByMission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := auth.UserID(r.Context())

	m, err := h.store.GetMission(r.Context(), id)
	if err != nil {
		log.Printf("[Run/List] load mission failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load mission")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if m.UserID != userID {
		writeError(w, http.StatusForbidden, "mission belongs to another user")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	runs, err := h.store.ListRuns(r.Context(), storage.RunFilter{
		MissionID: id,
		Status:    r.URL.Query().Get("status"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		log.Printf("[Run/List] list failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*model.MissionRun{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// Get 获取单次运行详情（含轨迹；进行中时附带实时进度）
// GET /api/v1/runs/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		log.Printf("[Run/Get] get failed: run=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
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

	detail := runDetail{MissionRun: run}
	if h.states != nil && run.Status == model.RunStatusRunning {
		live, err := h.states.GetRunState(r.Context(), id)
		if err != nil {
			// 缓存不可用只影响实时字段，持久化数据照常返回
			log.Printf("[Run/Get] load live state failed: run=%s err=%v", id, err)
		} else {
			detail.Live = live
		}
	}
	writeJSON(w, http.StatusOK, detail)
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
