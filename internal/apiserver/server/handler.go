// Package server 路由配置
//
// 本文件定义 HTTP API 路由，将请求分发到各领域独立包。
package server

import (
	"net/http"

	"missions-admin/api"
	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/apiserver/build"
	"missions-admin/internal/apiserver/deadletter"
	"missions-admin/internal/apiserver/mission"
	"missions-admin/internal/apiserver/reliability"
	"missions-admin/internal/apiserver/run"
	"missions-admin/internal/apiserver/stream"
	"missions-admin/internal/apiserver/trigger"
	"missions-admin/internal/apiserver/version"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health  - 服务健康检查
//   - GET /metrics - Prometheus 指标
//
// 任务管理 (Mission):
//   - GET    /api/v1/missions              - 列出任务
//   - POST   /api/v1/missions              - 创建任务
//   - GET    /api/v1/missions/{id}         - 获取任务详情
//   - PUT    /api/v1/missions/{id}         - 更新任务（写入版本快照）
//   - DELETE /api/v1/missions/{id}         - 删除任务
//   - POST   /api/v1/missions/{id}/autofix - 自动修复任务配置
//   - POST   /api/v1/missions/build        - 从自然语言提示构建任务
//
// 触发与运行 (Trigger/Run):
//   - POST /api/v1/missions/{id}/trigger        - 手动触发（同步等待结果）
//   - GET  /api/v1/missions/{id}/trigger/stream - 手动触发（SSE 流式进度）
//   - GET  /api/v1/missions/{id}/runs           - 列出任务的运行记录
//   - GET  /api/v1/runs/{id}                    - 获取运行详情（含实时状态）
//   - GET  /api/v1/runs/{id}/stream             - SSE 回放并跟随运行事件
//
// 版本管理 (Version):
//   - GET  /api/v1/missions/{id}/versions                     - 列出版本快照
//   - POST /api/v1/missions/{id}/versions/{versionId}/restore - 恢复到指定版本
//
// 可靠性 (Reliability):
//   - GET /api/v1/reliability      - SLO 报告
//   - GET /api/v1/events           - 引擎事件检查（运维排障用）
//   - GET /api/v1/deadletters      - 列出死信
//   - GET /api/v1/deadletters/{id} - 获取死信详情
//
// 文档:
//   - GET /api/v1/openapi.yaml - OpenAPI 规格（YAML 原文）
//   - GET /api/v1/openapi.json - OpenAPI 规格（JSON）
//   - GET /api/v1/docs         - API 文档页面
//
// WebSocket:
//   - GET /ws/runs/{id}/trace - 实时运行事件推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// Mission 接口
	missionHandler := mission.NewHandler(h.store)
	missionHandler.RegisterRoutes(mux)

	// 提示词构建接口
	buildHandler := build.NewHandler(h.store, h.coordinator, h.results, h.cfg.Engine)
	buildHandler.RegisterRoutes(mux)

	// 手动触发接口
	triggerHandler := trigger.NewHandler(h.store, h.coordinator, h.engine, h.gateway, h.cfg.Engine)
	triggerHandler.RegisterRoutes(mux)

	// 运行历史接口
	runHandler := run.NewHandler(h.store, h.runState)
	runHandler.RegisterRoutes(mux)

	// SSE 流式接口（WebSocket 路由单独挂到顶层）
	streamHandler := stream.NewHandler(h.store, h.gateway)
	streamHandler.RegisterRoutes(mux)

	// 版本快照接口
	versionHandler := version.NewHandler(h.store)
	versionHandler.RegisterRoutes(mux)

	// 可靠性报告接口
	reliabilityHandler := reliability.NewHandler(h.store)
	reliabilityHandler.RegisterRoutes(mux)

	// 死信接口
	dlqHandler := deadletter.NewHandler(h.store)
	dlqHandler.RegisterRoutes(mux)

	// 引擎事件检查接口
	mux.HandleFunc("GET /api/v1/events", h.ListEngineEvents)

	// OpenAPI 文档
	mux.HandleFunc("GET /api/v1/openapi.yaml", h.ServeOpenAPIYAML)
	mux.HandleFunc("GET /api/v1/openapi.json", h.ServeOpenAPIJSON)
	mux.HandleFunc("GET /api/v1/docs", h.ServeDocs)

	// Auth 路由
	authHandler := auth.NewHandler(h.store, h.authCfg)
	authHandler.RegisterRoutes(mux)

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 应用认证中间件
	authedHandler := auth.Middleware(h.authCfg)(apiHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(authedHandler)

	// 创建顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	streamHandler.RegisterWSRoutes(topMux)
	topMux.Handle("/", corsHandler)

	return topMux
}

// ServeOpenAPIYAML 返回内嵌的 OpenAPI 规格（YAML 原文）
func (h *Handler) ServeOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(api.Spec())
}

// ServeOpenAPIJSON 返回转换为 JSON 的 OpenAPI 规格
func (h *Handler) ServeOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	data, err := api.SpecJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render spec")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// ServeDocs 返回 API 文档页面
func (h *Handler) ServeDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(api.DocsHTML())
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
