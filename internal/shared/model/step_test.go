// Package model 核心数据模型的测试
package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleSteps 覆盖全部七种变体的步骤列表
func sampleSteps() StepList {
	return StepList{
		&TriggerStep{StepMeta: StepMeta{ID: "s1", Title: "每日触发"}, Source: "schedule"},
		&FetchStep{StepMeta: StepMeta{ID: "s2", Title: "抓新闻"}, Source: FetchSourceWeb, URL: "https://example.com/feed", Query: "btc"},
		&CoinbaseStep{StepMeta: StepMeta{ID: "s3"}, Product: "BTC-USD", Metric: "price"},
		&AIStep{StepMeta: StepMeta{ID: "s4"}, Provider: "openai", Prompt: "总结要点", DetailLevel: "brief"},
		&TransformStep{StepMeta: StepMeta{ID: "s5"}, Action: TransformFormat, Template: "{{summary}}"},
		&ConditionStep{StepMeta: StepMeta{ID: "s6"}, Rules: []ConditionRule{{Field: "data.price", Operator: OpGreaterThan, Value: "50000"}}, Logic: LogicAll, FailureAction: FailureActionSkip},
		&OutputStep{StepMeta: StepMeta{ID: "s7"}, Channel: "telegram", Recipients: []string{"chat-1"}},
	}
}

// TestStepList_JSONRoundTrip 验证和类型的信封编解码：
// type 字段注入、按 type 分发到变体、顺序保持
func TestStepList_JSONRoundTrip(t *testing.T) {
	steps := sampleSteps()

	data, err := json.Marshal(steps)
	require.NoError(t, err)

	var decoded StepList
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, len(steps))

	// 顺序与类型逐一对应
	for i := range steps {
		assert.Equal(t, steps[i].Kind(), decoded[i].Kind(), "step %d kind", i)
		assert.Equal(t, steps[i].Meta().ID, decoded[i].Meta().ID, "step %d id", i)
	}

	// 变体字段完整还原
	fetch, ok := decoded[1].(*FetchStep)
	require.True(t, ok)
	assert.Equal(t, FetchSourceWeb, fetch.Source)
	assert.Equal(t, "https://example.com/feed", fetch.URL)

	cond, ok := decoded[5].(*ConditionStep)
	require.True(t, ok)
	require.Len(t, cond.Rules, 1)
	assert.Equal(t, OpGreaterThan, cond.Rules[0].Operator)
	assert.Equal(t, FailureActionSkip, cond.FailureAction)
}

// TestStepList_UnknownKind 未知 type 必须报错而不是静默跳过
func TestStepList_UnknownKind(t *testing.T) {
	raw := `[{"id":"x1","type":"teleport"}]`
	var decoded StepList
	err := json.Unmarshal([]byte(raw), &decoded)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownStepKind)
}

// TestStepList_Validate 列表级校验：空列表、缺 ID、重复 ID
func TestStepList_Validate(t *testing.T) {
	tests := []struct {
		name    string
		steps   StepList
		wantErr string
	}{
		{
			name:    "空列表",
			steps:   StepList{},
			wantErr: "at least one step",
		},
		{
			name: "缺少步骤ID",
			steps: StepList{
				&TriggerStep{},
			},
			wantErr: "missing id",
		},
		{
			name: "重复步骤ID",
			steps: StepList{
				&TriggerStep{StepMeta: StepMeta{ID: "dup"}},
				&OutputStep{StepMeta: StepMeta{ID: "dup"}, Channel: "email"},
			},
			wantErr: "duplicate step id",
		},
		{
			name:  "合法列表",
			steps: sampleSteps(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.steps.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestStepVariants_Validate 各变体自身的字段校验
func TestStepVariants_Validate(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{"web抓取缺URL", &FetchStep{StepMeta: StepMeta{ID: "f"}, Source: FetchSourceWeb}, true},
		{"coinbase数据源无需URL", &FetchStep{StepMeta: StepMeta{ID: "f"}, Source: FetchSourceCoinbase}, false},
		{"非法数据源", &FetchStep{StepMeta: StepMeta{ID: "f"}, Source: "ftp"}, true},
		{"行情缺交易对", &CoinbaseStep{StepMeta: StepMeta{ID: "c"}}, true},
		{"AI缺提示词", &AIStep{StepMeta: StepMeta{ID: "a"}}, true},
		{"format缺模板", &TransformStep{StepMeta: StepMeta{ID: "t"}, Action: TransformFormat}, true},
		{"normalize无需模板", &TransformStep{StepMeta: StepMeta{ID: "t"}, Action: TransformNormalize}, false},
		{"条件缺规则", &ConditionStep{StepMeta: StepMeta{ID: "c"}}, true},
		{"条件非法正则", &ConditionStep{StepMeta: StepMeta{ID: "c"}, Rules: []ConditionRule{{Field: "f", Operator: OpRegex, Value: "("}}}, true},
		{"notify缺备用渠道", &ConditionStep{StepMeta: StepMeta{ID: "c"}, Rules: []ConditionRule{{Field: "f", Operator: OpExists}}, FailureAction: FailureActionNotify}, true},
		{"输出缺渠道", &OutputStep{StepMeta: StepMeta{ID: "o"}}, true},
		{"合法输出", &OutputStep{StepMeta: StepMeta{ID: "o"}, Channel: "webhook"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestConditionStep_EffectiveDefaults 空值默认：logic=all、failureAction=skip
func TestConditionStep_EffectiveDefaults(t *testing.T) {
	s := &ConditionStep{}
	assert.Equal(t, LogicAll, s.EffectiveLogic())
	assert.Equal(t, FailureActionSkip, s.EffectiveFailureAction())

	s.Logic = LogicAny
	s.FailureAction = FailureActionStop
	assert.Equal(t, LogicAny, s.EffectiveLogic())
	assert.Equal(t, FailureActionStop, s.EffectiveFailureAction())
}

// TestNewStepTraces 初始轨迹：一步一条、顺序一致、全部 pending
func TestNewStepTraces(t *testing.T) {
	steps := sampleSteps()
	traces := NewStepTraces(steps)
	require.Len(t, traces, len(steps))
	for i, tr := range traces {
		assert.Equal(t, steps[i].Meta().ID, tr.StepID)
		assert.Equal(t, steps[i].Kind(), tr.Type)
		assert.Equal(t, StepStatusPending, tr.Status)
		assert.Nil(t, tr.StartedAt)
	}
}
