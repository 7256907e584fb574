// Package build 构建领域 - HTTP 处理
//
// 从一句自然语言提示构建完整任务。构建可能很贵（外部 AI 调用），
// 重复提交由三层拦截：
//  1. 进程内在飞注册表：同进程并发重复立即拿到 pending 标记
//  2. Redis 构建声明：跨进程 TTL 窗口内同指纹只放行一次
//  3. 构建结果缓存：窗口内重复提交直接命中已完成的结果
//
// 去重键是请求的规范化指纹（自由文本统一小写压缩空白、布尔字段
// 补默认值后做 BLAKE3），服务端强制执行，不信任客户端的去重。
package build

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/config"
	"missions-admin/internal/idempotency"
	"missions-admin/internal/shared/cache"
	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storage"
)

// 构建声明与 pending 重询的默认值
const (
	defaultBuildClaimTTL = 10 * time.Minute
	defaultRetryAfterMs  = 2000
)

// Store 定义 build handler 需要的存储能力面（测试可用假实接口）
type Store interface {
	CreateMission(ctx context.Context, m *model.Mission) error
	GetMission(ctx context.Context, id string) (*model.Mission, error)
	AppendVersion(ctx context.Context, rec *model.VersionRecord) error
	AppendEngineEvent(ctx context.Context, ev *model.EngineEvent) error
}

// Claimer 定义构建声明能力面
type Claimer interface {
	Claim(ctx context.Context, key, userContextID, scope string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, userContextID, scope string) error
}

// ResultCache 定义构建结果缓存能力面
type ResultCache interface {
	SetBuildResult(ctx context.Context, userContextID, fingerprint string, result *cache.BuildResult) error
	GetBuildResult(ctx context.Context, userContextID, fingerprint string) (*cache.BuildResult, error)
	DeleteBuildResult(ctx context.Context, userContextID, fingerprint string) error
}

// Handler 构建领域 HTTP 处理器
type Handler struct {
	store    Store
	coord    Claimer
	results  ResultCache
	registry *idempotency.Registry
	builder  Builder
	cfg      config.EngineConfig
}

// NewHandler 创建构建处理器（构建器默认用内置脚手架）
func NewHandler(store storage.PersistentStore, coord *idempotency.Coordinator, results cache.BuildResultCache, cfg config.EngineConfig) *Handler {
	return &Handler{
		store:    store,
		coord:    coord,
		results:  results,
		registry: idempotency.NewRegistry(),
		builder:  PromptBuilder{},
		cfg:      cfg,
	}
}

// NewHandlerWithInterfaces 使用窄接口创建处理器（测试用）
func NewHandlerWithInterfaces(store Store, coord Claimer, results ResultCache, builder Builder, cfg config.EngineConfig) *Handler {
	if builder == nil {
		builder = PromptBuilder{}
	}
	return &Handler{
		store:    store,
		coord:    coord,
		results:  results,
		registry: idempotency.NewRegistry(),
		builder:  builder,
		cfg:      cfg,
	}
}

// SetBuilder 注册外部构建器（未注册时用内置脚手架）
func (h *Handler) SetBuilder(b Builder) {
	if b != nil {
		h.builder = b
	}
}

// RegisterRoutes 注册构建路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/missions/build", h.Build)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

// buildRequest 构建请求体
//
// Enabled 为指针：缺省 true，并以补默认值后的取值参与指纹计算。
type buildRequest struct {
	Prompt            string `json:"prompt"`
	OutputIntegration string `json:"outputIntegration,omitempty"`
	Enabled           *bool  `json:"enabled,omitempty"`
}

// buildResponse 构建响应
//
// 三种形态：pending（同指纹构建在飞，稍后重试）、cached（窗口内
// 已完成，直接复用）、新建（携带完整任务）。
type buildResponse struct {
	Pending      bool           `json:"pending,omitempty"`
	RetryAfterMs int            `json:"retryAfterMs,omitempty"`
	Cached       bool           `json:"cached,omitempty"`
	Mission      *model.Mission `json:"mission,omitempty"`
	Fingerprint  string         `json:"fingerprint"`
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// Build 从提示构建任务
// POST /api/v1/missions/build
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	userID := auth.UserID(r.Context())
	fp, err := requestFingerprint(&req)
	if err != nil {
		log.Printf("[Build/Fingerprint] fingerprint failed: user=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to fingerprint request")
		return
	}

	// 结果缓存命中：窗口内同指纹已完成，直接复用
	if m := h.cachedMission(r.Context(), userID, fp); m != nil {
		log.Printf("[Build/Cache] cached result served: user=%s fingerprint=%s mission=%s", userID, fp, m.ID)
		writeJSON(w, http.StatusOK, buildResponse{Cached: true, Mission: m, Fingerprint: fp})
		return
	}

	// 进程内在飞去重
	if !h.registry.Begin(fp) {
		writeJSON(w, http.StatusAccepted, buildResponse{
			Pending:      true,
			RetryAfterMs: defaultRetryAfterMs,
			Fingerprint:  fp,
		})
		return
	}
	defer h.registry.Finish(fp)

	// 跨进程声明：TTL 窗口内同指纹只放行一次
	accepted, err := h.coord.Claim(r.Context(), fp, userID, idempotency.ScopeBuild, h.buildTTL())
	if err != nil {
		log.Printf("[Build/Claim] claim failed: user=%s fingerprint=%s err=%v", userID, fp, err)
		writeError(w, http.StatusInternalServerError, "failed to claim build")
		return
	}
	if !accepted {
		writeJSON(w, http.StatusAccepted, buildResponse{
			Pending:      true,
			RetryAfterMs: defaultRetryAfterMs,
			Fingerprint:  fp,
		})
		return
	}

	content, err := h.builder.Build(r.Context(), BuildRequest{
		Prompt:            req.Prompt,
		OutputIntegration: req.OutputIntegration,
	})
	if err != nil {
		h.release(r.Context(), fp, userID)
		log.Printf("[Build/Builder] builder failed: user=%s fingerprint=%s err=%v", userID, fp, err)
		writeError(w, http.StatusBadGateway, "builder failed")
		return
	}

	m := newMissionFromContent(generateID("mission"), userID, content)
	if req.Enabled != nil {
		m.Enabled = *req.Enabled
	}

	if err := m.Validate(); err != nil {
		// 校验失败立即释放声明，修正后的重试不必等窗口过期
		h.appendValidationEvent(r.Context(), m.ID, false, err.Error())
		h.release(r.Context(), fp, userID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.appendValidationEvent(r.Context(), m.ID, true, "")

	if err := h.store.CreateMission(r.Context(), m); err != nil {
		h.release(r.Context(), fp, userID)
		log.Printf("[Build/Create] create failed: mission=%s err=%v", m.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create mission")
		return
	}
	h.appendSnapshot(r.Context(), m, userID)

	if err := h.results.SetBuildResult(r.Context(), userID, fp, &cache.BuildResult{
		MissionID: m.ID,
		Status:    "completed",
		CreatedAt: time.Now(),
	}); err != nil {
		log.Printf("[Build/Cache] cache result failed: fingerprint=%s err=%v", fp, err)
	}

	log.Printf("[Build/Create] mission built: mission=%s user=%s fingerprint=%s steps=%d",
		m.ID, userID, fp, len(m.Steps))
	writeJSON(w, http.StatusCreated, buildResponse{Mission: m, Fingerprint: fp})
}

// ============================================================================
// 内部辅助
// ============================================================================

// requestFingerprint 计算请求的规范化指纹
//
// 自由文本过 CanonicalText，布尔字段补默认值后参与哈希：同义
// 提交（大小写、空白、缺省布尔的显式书写）得到同一指纹。
func requestFingerprint(req *buildRequest) (string, error) {
	return idempotency.FingerprintMap(map[string]interface{}{
		"prompt":            idempotency.CanonicalText(req.Prompt),
		"outputIntegration": idempotency.CanonicalText(req.OutputIntegration),
		"enabled":           req.Enabled == nil || *req.Enabled,
	})
}

// cachedMission 取结果缓存并校验任务仍然存在
//
// 任务已被删除时清掉缓存条目，走重新构建。
func (h *Handler) cachedMission(ctx context.Context, userID, fp string) *model.Mission {
	cached, err := h.results.GetBuildResult(ctx, userID, fp)
	if err != nil {
		log.Printf("[Build/Cache] read cache failed: fingerprint=%s err=%v", fp, err)
		return nil
	}
	if cached == nil || cached.Status != "completed" || cached.MissionID == "" {
		return nil
	}
	m, err := h.store.GetMission(ctx, cached.MissionID)
	if err != nil {
		log.Printf("[Build/Cache] load cached mission failed: mission=%s err=%v", cached.MissionID, err)
		return nil
	}
	if m == nil || m.UserID != userID {
		if err := h.results.DeleteBuildResult(ctx, userID, fp); err != nil {
			log.Printf("[Build/Cache] drop stale cache failed: fingerprint=%s err=%v", fp, err)
		}
		return nil
	}
	return m
}

func (h *Handler) release(ctx context.Context, fp, userID string) {
	if err := h.coord.Release(ctx, fp, userID, idempotency.ScopeBuild); err != nil {
		log.Printf("[Build/Claim] release failed: fingerprint=%s err=%v", fp, err)
	}
}

func (h *Handler) buildTTL() time.Duration {
	if h.cfg.BuildClaimTTL > 0 {
		return h.cfg.BuildClaimTTL
	}
	return defaultBuildClaimTTL
}

// newMissionFromContent 从构建产物组装任务
func newMissionFromContent(id, userID string, content *model.MissionContent) *model.Mission {
	now := time.Now()
	m := &model.Mission{
		ID:        id,
		UserID:    userID,
		Enabled:   true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.ApplyContent(*content)
	return m
}

// appendValidationEvent 记录构建产物的校验结局（可靠性聚合的输入）
func (h *Handler) appendValidationEvent(ctx context.Context, missionID string, passed bool, detail string) {
	eventType := model.EventValidationFailed
	if passed {
		eventType = model.EventValidationPassed
	}
	ev := &model.EngineEvent{
		Type:      eventType,
		MissionID: missionID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := h.store.AppendEngineEvent(ctx, ev); err != nil {
		log.Printf("[Build/Event] append validation event failed: mission=%s err=%v", missionID, err)
	}
}

// appendSnapshot 为构建产物追加快照版本记录
func (h *Handler) appendSnapshot(ctx context.Context, m *model.Mission, actorID string) {
	rec := &model.VersionRecord{
		VersionID:            generateID("ver"),
		MissionID:            m.ID,
		ActorID:              actorID,
		EventType:            model.VersionEventSnapshot,
		Reason:               "build",
		SourceMissionVersion: m.Version,
		Content:              m.ContentSnapshot(),
		CreatedAt:            time.Now(),
	}
	if err := h.store.AppendVersion(ctx, rec); err != nil {
		log.Printf("[Build/Snapshot] append snapshot failed: mission=%s err=%v", m.ID, err)
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
