// Package mission 工作流自动修复：建议生成、档位调整、合并应用
package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"

	"missions-admin/internal/apiserver/auth"
	"missions-admin/internal/shared/model"
)

// ============================================================================
// 建议模型
// ============================================================================

// FixRisk 应用一条修复建议的风险等级
type FixRisk string

const (
	FixRiskLow    FixRisk = "low"
	FixRiskMedium FixRisk = "medium"
	FixRiskHigh   FixRisk = "high"
)

// FixDisposition 建议的处置方式
type FixDisposition string

const (
	// FixAutoApply 机械补丁，可以放心自动应用
	FixAutoApply FixDisposition = "auto_apply"

	// FixNeedsReview 有补丁但语义有歧义，需要人工圈选
	FixNeedsReview FixDisposition = "needs_review"

	// FixInformational 只报告问题，没有机械可应用的补丁
	FixInformational FixDisposition = "informational"
)

// FixCandidate 一条修复建议
//
// FixID 由问题码与步骤 ID 派生：预览与应用是两次独立请求，
// 应用时按 FixID 在重新分析的结果里找回同一条建议。
type FixCandidate struct {
	FixID       string         `json:"fixId"`
	StepID      string         `json:"stepId,omitempty"`
	Issue       string         `json:"issue"`
	Detail      string         `json:"detail"`
	Risk        FixRisk        `json:"risk"`
	Disposition FixDisposition `json:"disposition"`
	Confidence  float64        `json:"confidence"`

	// Patched 修复后的完整步骤（沿用步骤信封编解码，通常单元素）。
	// 为空表示没有机械补丁；StepID 为空时按前插处理。
	Patched model.StepList `json:"patched,omitempty"`
}

// Autofixer 工作流修复建议器
//
// 外部协作方边界：模型驱动的修复服务实现本接口，本侧只约定
// 输出格式。summary 为客户端随请求附带的生成摘要，内置规则
// 检查器忽略它。
type Autofixer interface {
	Analyze(ctx context.Context, content model.MissionContent, summary string) ([]FixCandidate, error)
}

// 修复档位：决定建议的处置倾向
const (
	ProfileConservative = "conservative"
	ProfileStandard     = "standard"
	ProfileAggressive   = "aggressive"
)

// ============================================================================
// 内置规则检查器
// ============================================================================

// RuleAutofixer 内置的规则检查器
//
// 对步骤列表做一遍静态检查，能机械修复的问题给出补丁
// （auto_apply / needs_review），其余只报告（informational）。
type RuleAutofixer struct{}

// Analyze 生成修复建议
func (RuleAutofixer) Analyze(_ context.Context, content model.MissionContent, _ string) ([]FixCandidate, error) {
	var out []FixCandidate

	if len(content.Steps) == 0 || content.Steps[0].Kind() != model.StepKindTrigger {
		out = append(out, FixCandidate{
			FixID:       fixID("missing_trigger", ""),
			Issue:       "missing_trigger",
			Detail:      "pipeline does not start with a trigger step",
			Risk:        FixRiskLow,
			Disposition: FixAutoApply,
			Confidence:  0.95,
			Patched: model.StepList{&model.TriggerStep{
				StepMeta: model.StepMeta{ID: generateID("step"), Title: "Trigger"},
			}},
		})
	}

	hasOutput := false
	for _, s := range content.Steps {
		id := s.Meta().ID
		switch st := s.(type) {
		case *model.TriggerStep:
			if st.Validate() != nil {
				c := *st
				c.Source = "schedule"
				out = append(out, FixCandidate{
					FixID:       fixID("trigger_invalid_source", id),
					StepID:      id,
					Issue:       "trigger_invalid_source",
					Detail:      fmt.Sprintf("unknown trigger source %q, reset to schedule", st.Source),
					Risk:        FixRiskLow,
					Disposition: FixAutoApply,
					Confidence:  0.9,
					Patched:     model.StepList{&c},
				})
			}
		case *model.FetchStep:
			switch st.Source {
			case model.FetchSourceWeb, model.FetchSourceAPI, model.FetchSourceRSS:
				if st.URL == "" {
					out = append(out, FixCandidate{
						FixID:       fixID("fetch_missing_url", id),
						StepID:      id,
						Issue:       "fetch_missing_url",
						Detail:      fmt.Sprintf("fetch source %q requires a url", st.Source),
						Risk:        FixRiskHigh,
						Disposition: FixInformational,
						Confidence:  0.4,
					})
				}
			case model.FetchSourceCoinbase, model.FetchSourceCalendar, model.FetchSourceDatabase:
			default:
				out = append(out, FixCandidate{
					FixID:       fixID("fetch_invalid_source", id),
					StepID:      id,
					Issue:       "fetch_invalid_source",
					Detail:      fmt.Sprintf("unknown fetch source %q", st.Source),
					Risk:        FixRiskHigh,
					Disposition: FixInformational,
					Confidence:  0.3,
				})
			}
			if st.TimeoutSeconds < 0 {
				c := *st
				c.TimeoutSeconds = 0
				out = append(out, FixCandidate{
					FixID:       fixID("fetch_negative_timeout", id),
					StepID:      id,
					Issue:       "fetch_negative_timeout",
					Detail:      "negative timeout reset to engine default",
					Risk:        FixRiskLow,
					Disposition: FixAutoApply,
					Confidence:  0.95,
					Patched:     model.StepList{&c},
				})
			}
		case *model.CoinbaseStep:
			if st.Product == "" {
				out = append(out, FixCandidate{
					FixID:       fixID("coinbase_missing_product", id),
					StepID:      id,
					Issue:       "coinbase_missing_product",
					Detail:      "coinbase step requires a product pair such as BTC-USD",
					Risk:        FixRiskHigh,
					Disposition: FixInformational,
					Confidence:  0.3,
				})
			}
			if st.Validate() != nil && st.Product != "" {
				c := *st
				c.Metric = "price"
				out = append(out, FixCandidate{
					FixID:       fixID("coinbase_invalid_metric", id),
					StepID:      id,
					Issue:       "coinbase_invalid_metric",
					Detail:      fmt.Sprintf("unknown metric %q, reset to price", st.Metric),
					Risk:        FixRiskLow,
					Disposition: FixAutoApply,
					Confidence:  0.85,
					Patched:     model.StepList{&c},
				})
			}
		case *model.AIStep:
			if st.Prompt == "" {
				out = append(out, FixCandidate{
					FixID:       fixID("ai_missing_prompt", id),
					StepID:      id,
					Issue:       "ai_missing_prompt",
					Detail:      "ai step has no prompt",
					Risk:        FixRiskHigh,
					Disposition: FixInformational,
					Confidence:  0.35,
				})
			}
			switch st.DetailLevel {
			case "", "brief", "standard", "deep":
			default:
				c := *st
				c.DetailLevel = "standard"
				out = append(out, FixCandidate{
					FixID:       fixID("ai_invalid_detail_level", id),
					StepID:      id,
					Issue:       "ai_invalid_detail_level",
					Detail:      fmt.Sprintf("unknown detailLevel %q, reset to standard", st.DetailLevel),
					Risk:        FixRiskLow,
					Disposition: FixAutoApply,
					Confidence:  0.85,
					Patched:     model.StepList{&c},
				})
			}
			if st.MaxTokens < 0 {
				c := *st
				c.MaxTokens = 0
				out = append(out, FixCandidate{
					FixID:       fixID("ai_negative_max_tokens", id),
					StepID:      id,
					Issue:       "ai_negative_max_tokens",
					Detail:      "negative maxTokens reset to unlimited",
					Risk:        FixRiskLow,
					Disposition: FixAutoApply,
					Confidence:  0.95,
					Patched:     model.StepList{&c},
				})
			}
		case *model.TransformStep:
			if err := st.Validate(); err != nil {
				out = append(out, FixCandidate{
					FixID:       fixID("transform_invalid", id),
					StepID:      id,
					Issue:       "transform_invalid",
					Detail:      err.Error(),
					Risk:        FixRiskHigh,
					Disposition: FixInformational,
					Confidence:  0.3,
				})
			}
		case *model.ConditionStep:
			if len(st.Rules) == 0 {
				out = append(out, FixCandidate{
					FixID:       fixID("condition_missing_rules", id),
					StepID:      id,
					Issue:       "condition_missing_rules",
					Detail:      "condition step has no rules",
					Risk:        FixRiskHigh,
					Disposition: FixInformational,
					Confidence:  0.3,
				})
			}
			for i, rule := range st.Rules {
				if !rule.Operator.Valid() {
					out = append(out, FixCandidate{
						FixID:       fixID("condition_invalid_operator", id),
						StepID:      id,
						Issue:       "condition_invalid_operator",
						Detail:      fmt.Sprintf("rule %d uses unknown operator %q", i, rule.Operator),
						Risk:        FixRiskHigh,
						Disposition: FixInformational,
						Confidence:  0.3,
					})
					break
				}
				if rule.Operator == model.OpRegex {
					if _, err := regexp.Compile(rule.Value); err != nil {
						out = append(out, FixCandidate{
							FixID:       fixID("condition_invalid_regex", id),
							StepID:      id,
							Issue:       "condition_invalid_regex",
							Detail:      fmt.Sprintf("rule %d regex does not compile: %v", i, err),
							Risk:        FixRiskHigh,
							Disposition: FixInformational,
							Confidence:  0.35,
						})
						break
					}
				}
			}
			if st.FailureAction == model.FailureActionNotify && st.NotifyChannel == "" {
				c := *st
				c.FailureAction = model.FailureActionSkip
				out = append(out, FixCandidate{
					FixID:       fixID("condition_notify_without_channel", id),
					StepID:      id,
					Issue:       "condition_notify_without_channel",
					Detail:      "notify fallback has no channel, downgrade failure action to skip",
					Risk:        FixRiskMedium,
					Disposition: FixNeedsReview,
					Confidence:  0.6,
					Patched:     model.StepList{&c},
				})
			}
		case *model.OutputStep:
			hasOutput = true
			if st.Channel == "" {
				if content.OutputIntegration != "" {
					c := *st
					c.Channel = content.OutputIntegration
					out = append(out, FixCandidate{
						FixID:       fixID("output_missing_channel", id),
						StepID:      id,
						Issue:       "output_missing_channel",
						Detail:      fmt.Sprintf("use mission output integration %q as channel", content.OutputIntegration),
						Risk:        FixRiskMedium,
						Disposition: FixNeedsReview,
						Confidence:  0.7,
						Patched:     model.StepList{&c},
					})
				} else {
					out = append(out, FixCandidate{
						FixID:       fixID("output_missing_channel", id),
						StepID:      id,
						Issue:       "output_missing_channel",
						Detail:      "output step has no channel and mission has no default integration",
						Risk:        FixRiskHigh,
						Disposition: FixInformational,
						Confidence:  0.3,
					})
				}
			}
			switch st.Timing {
			case "", "immediate", "digest":
			default:
				c := *st
				c.Timing = "immediate"
				out = append(out, FixCandidate{
					FixID:       fixID("output_invalid_timing", id),
					StepID:      id,
					Issue:       "output_invalid_timing",
					Detail:      fmt.Sprintf("unknown timing %q, reset to immediate", st.Timing),
					Risk:        FixRiskLow,
					Disposition: FixAutoApply,
					Confidence:  0.9,
					Patched:     model.StepList{&c},
				})
			}
		}
	}

	if !hasOutput {
		out = append(out, FixCandidate{
			FixID:       fixID("missing_output", ""),
			Issue:       "missing_output",
			Detail:      "pipeline has no output step, results will not be delivered",
			Risk:        FixRiskMedium,
			Disposition: FixInformational,
			Confidence:  0.5,
		})
	}
	return out, nil
}

// fixID 由问题码与步骤 ID 派生稳定的建议标识
func fixID(code, stepID string) string {
	if stepID == "" {
		return code
	}
	return code + ":" + stepID
}

// ============================================================================
// 档位与合并
// ============================================================================

// adjustForProfile 按档位调整建议的处置方式
//
// conservative 把自动补丁降为人工复核；aggressive 把高置信的
// 复核项提为自动应用；standard 保持建议器的原始判断。
func adjustForProfile(cands []FixCandidate, profile string) []FixCandidate {
	out := make([]FixCandidate, len(cands))
	copy(out, cands)
	for i := range out {
		switch profile {
		case ProfileConservative:
			if out[i].Disposition == FixAutoApply {
				out[i].Disposition = FixNeedsReview
			}
		case ProfileAggressive:
			if out[i].Disposition == FixNeedsReview && len(out[i].Patched) > 0 && out[i].Confidence >= 0.6 {
				out[i].Disposition = FixAutoApply
			}
		}
	}
	return out
}

// applyCandidate 把一条建议的补丁合并进步骤列表
//
// StepID 为空表示前插（如补触发步骤），否则按 ID 原位替换；
// 补丁缺失或目标步骤不存在时原样返回。
func applyCandidate(steps model.StepList, c FixCandidate) (model.StepList, bool) {
	if len(c.Patched) == 0 {
		return steps, false
	}
	if c.StepID == "" {
		merged := make(model.StepList, 0, len(steps)+len(c.Patched))
		merged = append(merged, c.Patched...)
		merged = append(merged, steps...)
		return merged, true
	}
	merged := make(model.StepList, len(steps))
	copy(merged, steps)
	for i, s := range merged {
		if s.Meta().ID == c.StepID {
			merged[i] = c.Patched[0]
			return merged, true
		}
	}
	return steps, false
}

// applyApproved 逐条应用被圈选的建议
//
// 每应用一条就对当前内容重新分析，下一条补丁基于已修复的步骤
// 生成——同一步骤的多条建议互不覆盖。建议已失效（前序修复消除了
// 问题）或没有补丁的归入 skipped。
func (h *Handler) applyApproved(ctx context.Context, content model.MissionContent, summary string, approved []string) (model.MissionContent, []string, []string, error) {
	applied := []string{}
	skipped := []string{}
	current := content
	for _, id := range approved {
		cands, err := h.fixer.Analyze(ctx, current, summary)
		if err != nil {
			return content, nil, nil, err
		}
		var found *FixCandidate
		for i := range cands {
			if cands[i].FixID == id {
				found = &cands[i]
				break
			}
		}
		if found == nil {
			skipped = append(skipped, id)
			continue
		}
		merged, ok := applyCandidate(current.Steps, *found)
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		current.Steps = merged
		applied = append(applied, id)
	}
	return current, applied, skipped, nil
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// autofixRequest 自动修复的请求体
//
// Summary 为构建端生成的任务摘要，原样透传给建议器做上下文。
type autofixRequest struct {
	Apply          bool     `json:"apply"`
	Profile        string   `json:"profile,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	ApprovedFixIDs []string `json:"approvedFixIds,omitempty"`
}

// Autofix 预览或应用工作流修复建议
// POST /api/v1/missions/{id}/autofix
//
// apply=false 返回建议列表（带风险/处置/置信度与修复前后问题数），
// apply=true 按 approvedFixIds 合并补丁、校验、落库并追加内容快照。
func (h *Handler) Autofix(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req autofixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile := req.Profile
	if profile == "" {
		profile = ProfileStandard
	}
	switch profile {
	case ProfileConservative, ProfileStandard, ProfileAggressive:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid profile %q", req.Profile))
		return
	}
	if req.Apply && len(req.ApprovedFixIDs) == 0 {
		writeError(w, http.StatusBadRequest, "approvedFixIds required when apply is true")
		return
	}

	userID := auth.UserID(r.Context())
	m, err := h.store.GetMission(r.Context(), id)
	if err != nil {
		log.Printf("[Mission/Autofix] load failed: mission=%s err=%v", id, err)
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

	candidates, err := h.fixer.Analyze(r.Context(), m.ContentSnapshot(), req.Summary)
	if err != nil {
		log.Printf("[Mission/Autofix] analyze failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusBadGateway, "autofix analysis failed")
		return
	}
	candidates = adjustForProfile(candidates, profile)
	before := len(candidates)

	if !req.Apply {
		// 预览的"修复后问题数"假定全部补丁被采纳：剩下的是无补丁项
		remaining := 0
		for _, c := range candidates {
			if len(c.Patched) == 0 {
				remaining++
			}
		}
		if candidates == nil {
			candidates = []FixCandidate{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"missionId":    m.ID,
			"profile":      profile,
			"applied":      false,
			"candidates":   candidates,
			"issuesBefore": before,
			"issuesAfter":  remaining,
		})
		return
	}

	content, applied, skipped, err := h.applyApproved(r.Context(), m.ContentSnapshot(), req.Summary, req.ApprovedFixIDs)
	if err != nil {
		log.Printf("[Mission/Autofix] apply analysis failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusBadGateway, "autofix analysis failed")
		return
	}
	if len(applied) == 0 {
		// 没有任何建议被实际合并：不落一次空更新
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"missionId":     m.ID,
			"applied":       false,
			"appliedFixIds": applied,
			"skippedFixIds": skipped,
			"issuesBefore":  before,
			"issuesAfter":   before,
			"mission":       m,
		})
		return
	}
	if err := content.Steps.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("applying fixes leaves pipeline invalid: %v", err))
		return
	}

	updated, err := h.store.UpdateMissionContent(r.Context(), id, content, false)
	if err != nil {
		log.Printf("[Mission/Autofix] update failed: mission=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to update mission")
		return
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	h.appendSnapshot(r.Context(), updated, userID, "autofix")

	after := before - len(applied)
	if rem, err := h.fixer.Analyze(r.Context(), updated.ContentSnapshot(), req.Summary); err == nil {
		after = len(rem)
	} else {
		log.Printf("[Mission/Autofix] post-apply analysis failed: mission=%s err=%v", id, err)
	}

	log.Printf("[Mission/Autofix] fixes applied: mission=%s applied=%d skipped=%d version=%d",
		id, len(applied), len(skipped), updated.Version)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"missionId":     updated.ID,
		"applied":       true,
		"appliedFixIds": applied,
		"skippedFixIds": skipped,
		"issuesBefore":  before,
		"issuesAfter":   after,
		"mission":       updated,
	})
}
