// Package engine 变换步骤内置动作
package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"missions-admin/internal/shared/model"
)

// ============================================================================
// 变换分发
// ============================================================================

// applyTransform 对上游载荷应用内建变换，返回新载荷与人读说明
//
// 变换对载荷形状是宽容的：作用对象不是期望形状时（如对非列表
// dedupe）不报错，原样放行并在说明里注明——任务作者在编辑器里
// 随手调整步骤顺序不该让整次运行失败。
func applyTransform(step *model.TransformStep, payload interface{}) (interface{}, string, error) {
	switch step.Action {
	case model.TransformNormalize:
		return transformNormalize(step, payload)
	case model.TransformDedupe:
		return transformDedupe(step, payload)
	case model.TransformAggregate:
		return transformAggregate(step, payload)
	case model.TransformFormat:
		text := interpolateTemplate(step.Template, payload)
		return text, fmt.Sprintf("formatted payload (%d chars)", len(text)), nil
	case model.TransformEnrich:
		return transformEnrich(step, payload)
	}
	return nil, "", fmt.Errorf("unknown transform action %q", step.Action)
}

// ============================================================================
// 各动作实现
// ============================================================================

// transformNormalize 规整字符串值：去首尾空白、压缩内部连续空白
//
// Field 非空时只作用于载荷（map）中的该字段，否则递归作用于全部
// 字符串叶子。
func transformNormalize(step *model.TransformStep, payload interface{}) (interface{}, string, error) {
	changed := 0
	if step.Field != "" {
		m, ok := payload.(map[string]interface{})
		if !ok {
			return payload, "payload is not an object; normalize skipped", nil
		}
		if s, ok := m[step.Field].(string); ok {
			normalized := collapseWhitespace(s)
			if normalized != s {
				changed++
			}
			m[step.Field] = normalized
		}
		return m, fmt.Sprintf("normalized field %q (%d changed)", step.Field, changed), nil
	}

	result := normalizeValue(payload, &changed)
	return result, fmt.Sprintf("normalized %d string values", changed), nil
}

func normalizeValue(v interface{}, changed *int) interface{} {
	switch node := v.(type) {
	case string:
		normalized := collapseWhitespace(node)
		if normalized != node {
			*changed++
		}
		return normalized
	case map[string]interface{}:
		for k, item := range node {
			node[k] = normalizeValue(item, changed)
		}
		return node
	case []interface{}:
		for i, item := range node {
			node[i] = normalizeValue(item, changed)
		}
		return node
	default:
		return v
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// transformDedupe 列表去重，保留首次出现
//
// Field 非空按该字段的值判重，否则按整个元素的规范 JSON 判重。
func transformDedupe(step *model.TransformStep, payload interface{}) (interface{}, string, error) {
	list, ok := payload.([]interface{})
	if !ok {
		return payload, "payload is not a list; dedupe skipped", nil
	}

	seen := make(map[string]bool, len(list))
	result := make([]interface{}, 0, len(list))
	for _, item := range list {
		key := dedupeKey(item, step.Field)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, item)
	}

	return result, fmt.Sprintf("removed %d duplicates (%d -> %d items)", len(list)-len(result), len(list), len(result)), nil
}

func dedupeKey(item interface{}, field string) string {
	if field != "" {
		v, _ := resolveField(item, field)
		return stringify(v)
	}
	if b, err := json.Marshal(item); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", item)
}

// transformAggregate 列表聚合：计数，数值字段加统计量，GroupBy 加分组计数
func transformAggregate(step *model.TransformStep, payload interface{}) (interface{}, string, error) {
	list, ok := payload.([]interface{})
	if !ok {
		return payload, "payload is not a list; aggregate skipped", nil
	}

	result := map[string]interface{}{"count": len(list)}

	if step.Field != "" {
		var sum, min, max float64
		numeric := 0
		for _, item := range list {
			v, _ := resolveField(item, step.Field)
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			if numeric == 0 || f < min {
				min = f
			}
			if numeric == 0 || f > max {
				max = f
			}
			sum += f
			numeric++
		}
		if numeric > 0 {
			result["sum"] = sum
			result["avg"] = sum / float64(numeric)
			result["min"] = min
			result["max"] = max
		}
	}

	if step.GroupBy != "" {
		groups := map[string]interface{}{}
		for _, item := range list {
			v, _ := resolveField(item, step.GroupBy)
			key := stringify(v)
			if key == "" {
				key = "(none)"
			}
			n, _ := groups[key].(int)
			groups[key] = n + 1
		}
		result["groups"] = groups
	}

	return result, fmt.Sprintf("aggregated %d items", len(list)), nil
}

// transformEnrich 附加衍生字段
//
// 载荷是 map 时写入 Field（缺省 enrichedAt）：有 Template 写插值
// 结果，否则写当前时刻。载荷不是 map 时包一层信封。
func transformEnrich(step *model.TransformStep, payload interface{}) (interface{}, string, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	if m, ok := payload.(map[string]interface{}); ok {
		key := step.Field
		if key == "" {
			key = "enrichedAt"
		}
		if step.Template != "" {
			m[key] = interpolateTemplate(step.Template, payload)
		} else {
			m[key] = now
		}
		return m, fmt.Sprintf("enriched field %q", key), nil
	}

	return map[string]interface{}{
		"data":       payload,
		"enrichedAt": now,
	}, "wrapped payload with enrichment envelope", nil
}

// ============================================================================
// 模板插值
// ============================================================================

var templateFieldRe = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// interpolateTemplate 以 {{field}} 形式从载荷插值
//
// field 为点路径；解析不到的字段替换为空串。保留字 payload 指
// 整个载荷。
func interpolateTemplate(tpl string, payload interface{}) string {
	return templateFieldRe.ReplaceAllStringFunc(tpl, func(m string) string {
		path := templateFieldRe.FindStringSubmatch(m)[1]
		if path == "payload" {
			return stringify(payload)
		}
		v, ok := resolveField(payload, path)
		if !ok {
			return ""
		}
		return stringify(v)
	})
}
