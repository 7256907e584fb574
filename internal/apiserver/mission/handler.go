// Package mission 任务领域 - HTTP 处理
//
// 覆盖任务的增删改查与工作流自动修复：
//   - handler.go: CRUD（PUT 为按提交 ID 的建或改）
//   - autofix.go: 修复建议的生成、预览与合并应用
package mission

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// Store 定义 mission handler 需要的存储能力面（测试可用假实现）
type Store interface {
	CreateMission(ctx context.Context, m *model.Mission) error
	GetMission(ctx context.Context, id string) (*model.Mission, error)
	ListMissions(ctx context.Context, filter storage.MissionFilter) ([]*model.Mission, error)
	UpsertMission(ctx context.Context, m *model.Mission) (*model.Mission, error)
	UpdateMissionContent(ctx context.Context, id string, content model.MissionContent, rearm bool) (*model.Mission, error)
	UpdateMissionEnabled(ctx context.Context, id string, enabled bool) error
	DeleteMission(ctx context.Context, id string) error
	AppendVersion(ctx context.Context, rec *model.VersionRecord) error
}

// Handler 任务领域 HTTP 处理器
type Handler struct {
	store Store
	fixer Autofixer
}

// NewHandler 创建任务处理器（修复建议器默认用内置规则检查器）
func NewHandler(store storage.PersistentStore) *Handler {
	return &Handler{store: store, fixer: RuleAutofixer{}}
}

// NewHandlerWithInterfaces 使用窄接口创建处理器（测试用）
func NewHandlerWithInterfaces(store Store, fixer Autofixer) *Handler {
	if fixer == nil {
		fixer = RuleAutofixer{}
	}
	return &Handler{store: store, fixer: fixer}
}

// SetAutofixer 注册外部修复建议器（未注册时用内置规则检查器）
func (h *Handler) SetAutofixer(f Autofixer) {
	if f != nil {
		h.fixer = f
	}
}

// RegisterRoutes 注册任务相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/missions", h.List)
	mux.HandleFunc("POST /api/v1/missions", h.Create)
	mux.HandleFunc("GET /api/v1/missions/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/missions/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/missions/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/missions/{id}/autofix", h.Autofix)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

// missionRequest 创建/更新任务的请求体
//
// Enabled 为指针：创建时缺省为 true，更新时缺省保持原值。
type missionRequest struct {
	Label             string         `json:"label"`
	Description       string         `json:"description,omitempty"`
	OutputIntegration string         `json:"outputIntegration,omitempty"`
	Schedule          model.Schedule `json:"schedule"`
	Steps             model.StepList `json:"steps"`
	Enabled           *bool          `json:"enabled,omitempty"`
}

// deleteResponse 删除接口的结果信封
type deleteResponse struct {
	Deleted bool   `json:"deleted"`
	Reason  string `json:"reason"` // deleted | not_found | invalid_user
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// List 列出调用者的任务
// GET /api/v1/missions
//
// 支持的查询参数：
//   - enabled: 按启用状态筛选 (true/false)
//   - mode:    按调度模式筛选 (daily/weekly/once/interval)
//   - limit:   每页条数 (默认 50, 最大 100)
//   - offset:  偏移量
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	filter := storage.MissionFilter{
		UserID: auth.UserID(r.Context()),
		Mode:   r.URL.Query().Get("mode"),
		Limit:  limit,
		Offset: offset,
	}
	if v := r.URL.Query().Get("enabled"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Enabled = &b
		}
	}

	missions, err := h.store.ListMissions(r.Context(), filter)
	if err != nil {
		log.Printf("[Mission/List] list failed: user=%s err=%v", filter.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to list missions")
		return
	}
	if missions == nil {
		missions = []*model.Mission{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"missions": missions,
		"count":    len(missions),
	})
}

// Create 创建任务
// POST /api/v1/missions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req missionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := auth.UserID(r.Context())
	m := newMissionFromRequest(generateID("mission"), userID, &req)
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateMission(r.Context(), m); err != nil {
		log.Printf("[Mission/Create] create failed: mission=%s err=%v", m.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create mission")
		return
	}
	h.appendSnapshot(r.Context(), m, userID, "create")

	log.Printf("[Mission/Create] mission created: mission=%s user=%s mode=%s steps=%d",
		m.ID, userID, m.Schedule.Mode, len(m.Steps))
	writeJSON(w, http.StatusCreated, m)
}

// Get 获取任务详情（仅限归属用户）
// GET /api/v1/missions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := h.store.GetMission(r.Context(), id)
	if err != nil {
		log.Printf("[Mission/Get] get failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to get mission")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if m.UserID != auth.UserID(r.Context()) {
		writeError(w, http.StatusForbidden, "mission belongs to another user")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Update 更新任务，行不存在时按提交的 ID 建档（upsert）
// PUT /api/v1/missions/{id}
//
// 调度定义或启用开关发生变化时清空触发水位（重新武装），跨武装
// 的同时刻防重复由占用声明兜底。
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req missionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := auth.UserID(r.Context())
	m := newMissionFromRequest(id, userID, &req)
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.store.GetMission(r.Context(), id)
	if err != nil {
		log.Printf("[Mission/Update] load failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load mission")
		return
	}
	if existing != nil && existing.UserID != userID {
		writeError(w, http.StatusForbidden, "mission belongs to another user")
		return
	}

	if existing != nil {
		content := m.ContentSnapshot()
		enabledChanged := req.Enabled != nil && *req.Enabled != existing.Enabled
		rearm := model.ScheduleChanged(existing.Schedule, content.Schedule) || enabledChanged

		updated, err := h.store.UpdateMissionContent(r.Context(), id, content, rearm)
		if err != nil {
			log.Printf("[Mission/Update] update failed: mission=%s err=%v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to update mission")
			return
		}
		if updated != nil {
			if enabledChanged {
				if err := h.store.UpdateMissionEnabled(r.Context(), id, *req.Enabled); err != nil {
					log.Printf("[Mission/Update] toggle enabled failed: mission=%s err=%v", id, err)
					writeError(w, http.StatusInternalServerError, "failed to update mission")
					return
				}
				updated.Enabled = *req.Enabled
			}
			h.appendSnapshot(r.Context(), updated, userID, "update")
			log.Printf("[Mission/Update] mission updated: mission=%s version=%d rearm=%v",
				updated.ID, updated.Version, rearm)
			writeJSON(w, http.StatusOK, updated)
			return
		}
		// 行在读取后被删除，落回建档路径
	}

	created, err := h.store.UpsertMission(r.Context(), m)
	if err != nil {
		log.Printf("[Mission/Update] upsert failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to upsert mission")
		return
	}
	h.appendSnapshot(r.Context(), created, userID, "update")

	log.Printf("[Mission/Update] mission created by upsert: mission=%s user=%s", created.ID, userID)
	writeJSON(w, http.StatusCreated, created)
}

// Delete 删除任务及其运行/版本记录
// DELETE /api/v1/missions/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := auth.UserID(r.Context())

	existing, err := h.store.GetMission(r.Context(), id)
	if err != nil {
		log.Printf("[Mission/Delete] load failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load mission")
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, deleteResponse{Deleted: false, Reason: "not_found"})
		return
	}
	if existing.UserID != userID {
		writeJSON(w, http.StatusForbidden, deleteResponse{Deleted: false, Reason: "invalid_user"})
		return
	}

	if err := h.store.DeleteMission(r.Context(), id); err != nil {
		log.Printf("[Mission/Delete] delete failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete mission")
		return
	}
	log.Printf("[Mission/Delete] mission deleted: mission=%s user=%s", id, userID)
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true, Reason: "deleted"})
}

// ============================================================================
// 内部辅助
// ============================================================================

// newMissionFromRequest 从请求体构造任务（Enabled 缺省为 true）
func newMissionFromRequest(id, userID string, req *missionRequest) *model.Mission {
	now := time.Now()
	m := &model.Mission{
		ID:                id,
		UserID:            userID,
		Label:             req.Label,
		Description:       req.Description,
		OutputIntegration: req.OutputIntegration,
		Schedule:          req.Schedule,
		Enabled:           true,
		Steps:             req.Steps,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Enabled != nil {
		m.Enabled = *req.Enabled
	}
	return m
}

// appendSnapshot 为一次内容变更追加快照版本记录
//
// 快照失败不回滚主操作：内容已落库，版本历史缺一条可以接受；
// 备份先行的不变式只约束恢复路径，在存储层事务内保证。
func (h *Handler) appendSnapshot(ctx context.Context, m *model.Mission, actorID, reason string) {
	rec := &model.VersionRecord{
		VersionID:            generateID("ver"),
		MissionID:            m.ID,
		ActorID:              actorID,
		EventType:            model.VersionEventSnapshot,
		Reason:               reason,
		SourceMissionVersion: m.Version,
		Content:              m.ContentSnapshot(),
		CreatedAt:            time.Now(),
	}
	if err := h.store.AppendVersion(ctx, rec); err != nil {
		log.Printf("[Mission/Snapshot] append snapshot failed: mission=%s version=%d err=%v",
			m.ID, m.Version, err)
	}
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
