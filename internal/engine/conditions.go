// Package engine 条件步骤求值
package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"missions-admin/internal/shared/model"
)

// ============================================================================
// 条件求值
// ============================================================================

// evaluateCondition 对上游载荷求值条件步骤
//
// 返回 (是否通过, 人读说明, 错误)。规则按 logic=all/any 组合；
// 字段不存在时 exists 为假、其余运算符该条规则为假。错误仅在
// 规则本身不可求值（如正则编译失败）时返回，调用方按步骤失败处理。
func evaluateCondition(step *model.ConditionStep, payload interface{}) (bool, string, error) {
	logic := step.EffectiveLogic()
	passed := 0
	var firstMiss string

	for _, rule := range step.Rules {
		ok, err := evaluateRule(rule, payload)
		if err != nil {
			return false, "", fmt.Errorf("rule %s %s %q: %w", rule.Field, rule.Operator, rule.Value, err)
		}
		if ok {
			passed++
		} else if firstMiss == "" {
			firstMiss = fmt.Sprintf("%s %s %q", rule.Field, rule.Operator, rule.Value)
		}
	}

	pass := passed == len(step.Rules)
	if logic == model.LogicAny {
		pass = passed > 0
	}

	detail := fmt.Sprintf("%d/%d rules passed (logic=%s)", passed, len(step.Rules), logic)
	if !pass && firstMiss != "" {
		detail += "; first miss: " + firstMiss
	}
	return pass, detail, nil
}

// evaluateRule 求值单条规则
func evaluateRule(rule model.ConditionRule, payload interface{}) (bool, error) {
	value, found := resolveField(payload, rule.Field)

	switch rule.Operator {
	case model.OpExists:
		return found && value != nil, nil

	case model.OpEquals:
		return found && looseEquals(value, rule.Value), nil

	case model.OpNotEquals:
		return !found || !looseEquals(value, rule.Value), nil

	case model.OpContains:
		if !found {
			return false, nil
		}
		if list, ok := value.([]interface{}); ok {
			for _, item := range list {
				if looseEquals(item, rule.Value) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(stringify(value), rule.Value), nil

	case model.OpGreaterThan, model.OpLessThan:
		left, okL := toFloat(value)
		right, okR := toFloat(rule.Value)
		if !found || !okL || !okR {
			return false, nil
		}
		if rule.Operator == model.OpGreaterThan {
			return left > right, nil
		}
		return left < right, nil

	case model.OpRegex:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return false, err
		}
		return found && re.MatchString(stringify(value)), nil
	}

	return false, fmt.Errorf("unknown operator %q", rule.Operator)
}

// looseEquals 宽松相等：双方都是数字按数值比，否则按字符串比
func looseEquals(value interface{}, ruleValue string) bool {
	if lf, okL := toFloat(value); okL {
		if rf, okR := toFloat(ruleValue); okR {
			return lf == rf
		}
	}
	return stringify(value) == ruleValue
}

// ============================================================================
// 字段取值与标量转换
// ============================================================================

// resolveField 按点路径在载荷中取字段
//
// 支持 map 键与列表下标混合路径（如 "items.0.name"）；空路径返回
// 载荷本身。载荷来自 JSON 解码，容器类型限定为 map[string]interface{}
// 与 []interface{}。
func resolveField(payload interface{}, path string) (interface{}, bool) {
	if path == "" {
		return payload, payload != nil
	}
	current := payload
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// stringify 标量转字符串（数字不带多余小数位，容器转 JSON）
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", t)
	}
}

// toFloat 数值转换（字符串形式的数字也接受）
func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
