// Package server 引擎事件检查接口
package server

import (
	"net/http"
	"strconv"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// ListEngineEvents 列出引擎事件
//
// 路由: GET /api/v1/events
//
// 查询参数:
//   - days: 回看窗口天数，默认 1，最大 30
//   - missionId: 限定任务，可选
//   - limit: 返回数量限制，默认 100，最大 1000
//
// 响应:
//
//	{
//	  "events": [...],
//	  "count": 10
//	}
//
// 使用场景：
//   - 运维排障：核对重试、死信、校验失败的时间线
//   - 可靠性报告数字异常时比对原始事件
func (h *Handler) ListEngineEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days := 1
	if v, err := strconv.Atoi(q.Get("days")); err == nil {
		days = v
	}
	if days < 1 {
		days = 1
	}
	if days > 30 {
		days = 30
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	events, err := h.store.ListEngineEvents(r.Context(), storage.EngineEventFilter{
		Since:     time.Now().Add(-time.Duration(days) * 24 * time.Hour),
		MissionID: q.Get("missionId"),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*model.EngineEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}
