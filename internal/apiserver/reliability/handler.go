// Package reliability 可靠性领域 - HTTP 处理
package reliability

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// 回看窗口边界（天）
const (
	minWindowDays     = 1
	maxWindowDays     = 30
	defaultWindowDays = 7
)

// Store 定义 reliability handler 需要的存储能力面（测试可用假实现）
type Store interface {
	ListEngineEvents(ctx context.Context, filter storage.EngineEventFilter) ([]*model.EngineEvent, error)
}

// Handler 可靠性领域 HTTP 处理器
type Handler struct {
	store Store
}

// NewHandler 创建可靠性处理器
func NewHandler(store storage.PersistentStore) *Handler {
	return &Handler{store: store}
}

// NewHandlerWithInterfaces 使用窄接口创建处理器（测试用）
func NewHandlerWithInterfaces(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册可靠性路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/reliability", h.Report)
}

// Report 生成回看窗口内的可靠性报告
// GET /api/v1/reliability?days=&missionId=
//
// days 缺省 7，夹在 [1,30]；missionId 可选，限定单个任务。
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	days := defaultWindowDays
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = n
		}
	}
	if days < minWindowDays {
		days = minWindowDays
	}
	if days > maxWindowDays {
		days = maxWindowDays
	}

	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	events, err := h.store.ListEngineEvents(r.Context(), storage.EngineEventFilter{
		Since:     since,
		MissionID: r.URL.Query().Get("missionId"),
	})
	if err != nil {
		log.Printf("[Reliability/Report] list events failed: since=%s err=%v",
			since.Format(time.RFC3339), err)
		writeError(w, http.StatusInternalServerError, "failed to load engine events")
		return
	}

	summary := Aggregate(events)
	writeJSON(w, http.StatusOK, model.ReliabilityReport{
		Summary:     summary,
		SLOs:        SLOTable(summary),
		Since:       since,
		TotalEvents: summary.TotalEvents,
	})
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
