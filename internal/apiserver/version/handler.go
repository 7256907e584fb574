// Package version 版本领域 - HTTP 处理
//
// 任务内容版本历史的查询与恢复。记录只追加；恢复的"备份先行"
// 不变式在存储层事务内保证，这里只做归属校验和参数翻译。
package version

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// Store 定义 version handler 需要的存储能力面（测试可用假实现）
type Store interface {
	GetMission(ctx context.Context, id string) (*model.Mission, error)
	ListVersions(ctx context.Context, filter storage.VersionFilter) ([]*model.VersionRecord, error)
	RestoreVersion(ctx context.Context, missionID, versionID, reason, actorID string) (*model.RestoreOutcome, error)
}

// Handler 版本领域 HTTP 处理器
type Handler struct {
	store Store
}

// NewHandler 创建版本处理器
func NewHandler(store storage.PersistentStore) *Handler {
	return &Handler{store: store}
}

// NewHandlerWithInterfaces 使用窄接口创建处理器（测试用）
func NewHandlerWithInterfaces(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册版本相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/missions/{id}/versions", h.List)
	mux.HandleFunc("POST /api/v1/missions/{id}/versions/{versionId}/restore", h.Restore)
}

// restoreRequest 恢复请求体
type restoreRequest struct {
	Reason string `json:"reason,omitempty"`
}

// List 列出任务的版本记录（新→旧）
// GET /api/v1/missions/{id}/versions?limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.loadOwnedMission(w, r, id); !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	versions, err := h.store.ListVersions(r.Context(), storage.VersionFilter{
		MissionID: id,
		Limit:     limit,
	})
	if err != nil {
		log.Printf("[Version/List] list failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	if versions == nil {
		versions = []*model.VersionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// Restore 恢复任务内容到指定版本
// POST /api/v1/missions/{id}/versions/{versionId}/restore
//
// 存储层在同一事务内：先把当前活动内容落盘为 pre_restore_backup
// （sourceMissionVersion = 恢复前版本号），再替换内容、递增版本、
// 追加 restore 记录。返回更新后的任务和两个关键版本号。
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	versionID := r.PathValue("versionId")

	// 空请求体合法：reason 可缺省
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, ok := h.loadOwnedMission(w, r, id); !ok {
		return
	}

	actorID := auth.UserID(r.Context())
	outcome, err := h.store.RestoreVersion(r.Context(), id, versionID, req.Reason, actorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "version not found")
			return
		}
		log.Printf("[Version/Restore] restore failed: mission=%s version=%s err=%v", id, versionID, err)
		writeError(w, http.StatusInternalServerError, "failed to restore version")
		return
	}
	if outcome == nil {
		writeError(w, http.StatusNotFound, "version not found")
		return
	}

	log.Printf("[Version/Restore] version restored: mission=%s restored=%s backup=%s actor=%s",
		id, outcome.RestoredVersionID, outcome.BackupVersionID, actorID)
	writeJSON(w, http.StatusOK, outcome)
}

// loadOwnedMission 加载任务并校验归属，失败时写响应并返回 false
func (h *Handler) loadOwnedMission(w http.ResponseWriter, r *http.Request, id string) (*model.Mission, bool) {
	m, err := h.store.GetMission(r.Context(), id)
	if err != nil {
		log.Printf("[Version/Load] load mission failed: mission=%s err=%v", id, err)
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
