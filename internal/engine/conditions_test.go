package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missions-admin/internal/shared/model"
)

func samplePayload() map[string]interface{} {
	return map[string]interface{}{
		"price":  float64(42000.5),
		"symbol": "BTC-USD",
		"tags":   []interface{}{"crypto", "spot"},
		"stats": map[string]interface{}{
			"change": float64(-3.2),
		},
		"items": []interface{}{
			map[string]interface{}{"name": "first"},
			map[string]interface{}{"name": "second"},
		},
	}
}

func TestEvaluateRuleOperators(t *testing.T) {
	payload := samplePayload()

	tests := []struct {
		name string
		rule model.ConditionRule
		want bool
	}{
		{"equals string", model.ConditionRule{Field: "symbol", Operator: model.OpEquals, Value: "BTC-USD"}, true},
		{"equals numeric string vs float", model.ConditionRule{Field: "price", Operator: model.OpEquals, Value: "42000.5"}, true},
		{"equals miss", model.ConditionRule{Field: "symbol", Operator: model.OpEquals, Value: "ETH-USD"}, false},
		{"not_equals", model.ConditionRule{Field: "symbol", Operator: model.OpNotEquals, Value: "ETH-USD"}, true},
		{"not_equals missing field is true", model.ConditionRule{Field: "nope", Operator: model.OpNotEquals, Value: "x"}, true},
		{"contains substring", model.ConditionRule{Field: "symbol", Operator: model.OpContains, Value: "BTC"}, true},
		{"contains list element", model.ConditionRule{Field: "tags", Operator: model.OpContains, Value: "crypto"}, true},
		{"contains list miss", model.ConditionRule{Field: "tags", Operator: model.OpContains, Value: "futures"}, false},
		{"greater_than", model.ConditionRule{Field: "price", Operator: model.OpGreaterThan, Value: "40000"}, true},
		{"greater_than miss", model.ConditionRule{Field: "price", Operator: model.OpGreaterThan, Value: "50000"}, false},
		{"less_than nested negative", model.ConditionRule{Field: "stats.change", Operator: model.OpLessThan, Value: "0"}, true},
		{"less_than non-numeric field", model.ConditionRule{Field: "symbol", Operator: model.OpLessThan, Value: "10"}, false},
		{"regex", model.ConditionRule{Field: "symbol", Operator: model.OpRegex, Value: `^BTC-[A-Z]+$`}, true},
		{"regex miss", model.ConditionRule{Field: "symbol", Operator: model.OpRegex, Value: `^ETH`}, false},
		{"exists", model.ConditionRule{Field: "stats.change", Operator: model.OpExists}, true},
		{"exists miss", model.ConditionRule{Field: "stats.volume", Operator: model.OpExists}, false},
		{"exists on missing path segment", model.ConditionRule{Field: "nope.deep", Operator: model.OpExists}, false},
		{"equals on list index path", model.ConditionRule{Field: "items.1.name", Operator: model.OpEquals, Value: "second"}, true},
		{"greater_than missing field", model.ConditionRule{Field: "nope", Operator: model.OpGreaterThan, Value: "1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateRule(tt.rule, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateRuleBadRegex(t *testing.T) {
	_, err := evaluateRule(model.ConditionRule{Field: "symbol", Operator: model.OpRegex, Value: "("}, samplePayload())
	assert.Error(t, err)
}

func TestEvaluateConditionLogic(t *testing.T) {
	payload := samplePayload()
	hit := model.ConditionRule{Field: "price", Operator: model.OpGreaterThan, Value: "40000"}
	miss := model.ConditionRule{Field: "price", Operator: model.OpGreaterThan, Value: "50000"}

	all := &model.ConditionStep{Rules: []model.ConditionRule{hit, miss}, Logic: model.LogicAll}
	pass, detail, err := evaluateCondition(all, payload)
	require.NoError(t, err)
	assert.False(t, pass)
	assert.Contains(t, detail, "1/2 rules passed")
	assert.Contains(t, detail, "first miss")

	anyOf := &model.ConditionStep{Rules: []model.ConditionRule{hit, miss}, Logic: model.LogicAny}
	pass, detail, err = evaluateCondition(anyOf, payload)
	require.NoError(t, err)
	assert.True(t, pass)
	assert.Contains(t, detail, "logic=any")

	// 空 Logic 按 all 处理
	defaulted := &model.ConditionStep{Rules: []model.ConditionRule{hit}}
	pass, _, err = evaluateCondition(defaulted, payload)
	require.NoError(t, err)
	assert.True(t, pass)
}

func TestEvaluateConditionRuleError(t *testing.T) {
	step := &model.ConditionStep{Rules: []model.ConditionRule{
		{Field: "symbol", Operator: model.OpRegex, Value: "("},
	}}
	_, _, err := evaluateCondition(step, samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regex")
}

func TestResolveField(t *testing.T) {
	payload := samplePayload()

	v, ok := resolveField(payload, "stats.change")
	require.True(t, ok)
	assert.Equal(t, float64(-3.2), v)

	v, ok = resolveField(payload, "items.0.name")
	require.True(t, ok)
	assert.Equal(t, "first", v)

	_, ok = resolveField(payload, "items.9.name")
	assert.False(t, ok)

	_, ok = resolveField(payload, "items.x")
	assert.False(t, ok)

	// 空路径返回载荷本身
	v, ok = resolveField(payload, "")
	require.True(t, ok)
	assert.Equal(t, payload["symbol"], v.(map[string]interface{})["symbol"])

	_, ok = resolveField(nil, "field")
	assert.False(t, ok)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "42000.5", stringify(float64(42000.5)))
	assert.Equal(t, "42", stringify(float64(42)))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, `["a","b"]`, stringify([]interface{}{"a", "b"}))
}

func TestToFloat(t *testing.T) {
	f, ok := toFloat(" 3.5 ")
	require.True(t, ok)
	assert.Equal(t, 3.5, f)

	f, ok = toFloat(float64(7))
	require.True(t, ok)
	assert.Equal(t, 7.0, f)

	_, ok = toFloat("abc")
	assert.False(t, ok)

	_, ok = toFloat(nil)
	assert.False(t, ok)
}
