// Package model 定义核心数据模型
//
// step.go 包含工作流步骤的和类型（sum type）定义：
//   - Step：步骤接口（所有变体的公共视图）
//   - TriggerStep / FetchStep / CoinbaseStep / AIStep /
//     TransformStep / ConditionStep / OutputStep：七种步骤变体
//   - StepList：有序步骤列表（顺序即执行顺序），负责 JSON 编解码
//
// 设计说明：步骤不是"一个结构体 + 大量可空字段"，而是每种类型
// 一个结构体，执行器按 Kind 做穷举分支，漏掉分支在编译期即可发现。
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ============================================================================
// StepKind - 步骤类型枚举
// ============================================================================

// StepKind 步骤类型，决定执行器的处理分支
type StepKind string

const (
	// StepKindTrigger 触发步骤：仅记录触发来源，不产生外部调用
	StepKindTrigger StepKind = "trigger"

	// StepKindFetch 抓取步骤：从外部数据源拉取数据
	StepKindFetch StepKind = "fetch"

	// StepKindCoinbase 行情步骤：拉取 Coinbase 行情数据
	StepKindCoinbase StepKind = "coinbase"

	// StepKindAI AI 步骤：调用模型对上游数据做加工
	StepKindAI StepKind = "ai"

	// StepKindTransform 变换步骤：对上游载荷做本地逻辑变换
	StepKindTransform StepKind = "transform"

	// StepKindCondition 条件步骤：按规则判定是否继续投递
	StepKindCondition StepKind = "condition"

	// StepKindOutput 输出步骤：把累积载荷投递到目标渠道
	StepKindOutput StepKind = "output"
)

// Valid 判断是否为已知步骤类型
func (k StepKind) Valid() bool {
	switch k {
	case StepKindTrigger, StepKindFetch, StepKindCoinbase, StepKindAI,
		StepKindTransform, StepKindCondition, StepKindOutput:
		return true
	}
	return false
}

// ErrUnknownStepKind 未知步骤类型（反序列化或注册查找时返回）
var ErrUnknownStepKind = errors.New("unknown step kind")

// ============================================================================
// Step - 步骤接口与公共元数据
// ============================================================================

// StepMeta 所有步骤共享的信封字段
//
// ID 是步骤的稳定标识：运行轨迹、流式事件合并、自动修复补丁
// 都按 ID 对齐，编辑器改动字段不会改变 ID。
type StepMeta struct {
	ID    string `json:"id" bson:"id"`
	Title string `json:"title,omitempty" bson:"title,omitempty"`
}

// Meta 返回公共元数据（由各变体通过内嵌继承）
func (m StepMeta) Meta() StepMeta { return m }

// Step 工作流步骤
//
// 每个变体只携带与自己类型相关的字段。执行器对 Kind() 做
// switch 分支时应覆盖全部七种类型。
type Step interface {
	Kind() StepKind
	Meta() StepMeta
	Validate() error
}

// ============================================================================
// 七种步骤变体
// ============================================================================

// TriggerStep 触发步骤
type TriggerStep struct {
	StepMeta `bson:",inline"`

	// Source 触发来源：schedule（调度）或 manual（手动），空值视为 schedule
	Source string `json:"source,omitempty" bson:"source,omitempty"`
}

func (s *TriggerStep) Kind() StepKind { return StepKindTrigger }

func (s *TriggerStep) Validate() error {
	switch s.Source {
	case "", "schedule", "manual":
		return nil
	}
	return fmt.Errorf("trigger step %s: invalid source %q", s.ID, s.Source)
}

// FetchSource 抓取数据源类型
type FetchSource string

const (
	FetchSourceWeb      FetchSource = "web"
	FetchSourceAPI      FetchSource = "api"
	FetchSourceRSS      FetchSource = "rss"
	FetchSourceCoinbase FetchSource = "coinbase"
	FetchSourceCalendar FetchSource = "calendar"
	FetchSourceDatabase FetchSource = "database"
)

// FetchStep 抓取步骤
type FetchStep struct {
	StepMeta `bson:",inline"`

	// Source 数据源类型
	Source FetchSource `json:"source" bson:"source"`

	// URL 数据源地址（web/api/rss 必填）
	URL string `json:"url,omitempty" bson:"url,omitempty"`

	// Query 查询语句或检索词
	Query string `json:"query,omitempty" bson:"query,omitempty"`

	// Headers 附加请求头
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`

	// TimeoutSeconds 单次调用超时，0 表示用引擎默认值
	TimeoutSeconds int `json:"timeoutSeconds,omitempty" bson:"timeout_seconds,omitempty"`
}

func (s *FetchStep) Kind() StepKind { return StepKindFetch }

func (s *FetchStep) Validate() error {
	switch s.Source {
	case FetchSourceWeb, FetchSourceAPI, FetchSourceRSS:
		if s.URL == "" {
			return fmt.Errorf("fetch step %s: url required for source %q", s.ID, s.Source)
		}
	case FetchSourceCoinbase, FetchSourceCalendar, FetchSourceDatabase:
		// 这些数据源由执行器侧配置定位，无需 URL
	default:
		return fmt.Errorf("fetch step %s: invalid source %q", s.ID, s.Source)
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("fetch step %s: negative timeout", s.ID)
	}
	return nil
}

// CoinbaseStep 行情步骤
type CoinbaseStep struct {
	StepMeta `bson:",inline"`

	// Product 交易对，如 BTC-USD
	Product string `json:"product" bson:"product"`

	// Metric 指标：price（现价）、volume（成交量）、change（涨跌幅），空值视为 price
	Metric string `json:"metric,omitempty" bson:"metric,omitempty"`

	// Window 统计窗口，如 24h
	Window string `json:"window,omitempty" bson:"window,omitempty"`
}

func (s *CoinbaseStep) Kind() StepKind { return StepKindCoinbase }

func (s *CoinbaseStep) Validate() error {
	if s.Product == "" {
		return fmt.Errorf("coinbase step %s: product required", s.ID)
	}
	switch s.Metric {
	case "", "price", "volume", "change":
		return nil
	}
	return fmt.Errorf("coinbase step %s: invalid metric %q", s.ID, s.Metric)
}

// AIStep AI 加工步骤
type AIStep struct {
	StepMeta `bson:",inline"`

	// Provider 模型提供方标识，空值由执行器选默认
	Provider string `json:"provider,omitempty" bson:"provider,omitempty"`

	// Model 模型名
	Model string `json:"model,omitempty" bson:"model,omitempty"`

	// Prompt 提示词，上游载荷会附加在其后
	Prompt string `json:"prompt" bson:"prompt"`

	// DetailLevel 输出详略：brief / standard / deep
	DetailLevel string `json:"detailLevel,omitempty" bson:"detail_level,omitempty"`

	// MaxTokens 输出上限，0 表示不限制
	MaxTokens int `json:"maxTokens,omitempty" bson:"max_tokens,omitempty"`
}

func (s *AIStep) Kind() StepKind { return StepKindAI }

func (s *AIStep) Validate() error {
	if s.Prompt == "" {
		return fmt.Errorf("ai step %s: prompt required", s.ID)
	}
	switch s.DetailLevel {
	case "", "brief", "standard", "deep":
	default:
		return fmt.Errorf("ai step %s: invalid detailLevel %q", s.ID, s.DetailLevel)
	}
	if s.MaxTokens < 0 {
		return fmt.Errorf("ai step %s: negative maxTokens", s.ID)
	}
	return nil
}

// TransformAction 变换动作
type TransformAction string

const (
	TransformNormalize TransformAction = "normalize"
	TransformDedupe    TransformAction = "dedupe"
	TransformAggregate TransformAction = "aggregate"
	TransformFormat    TransformAction = "format"
	TransformEnrich    TransformAction = "enrich"
)

// TransformStep 变换步骤（引擎内置执行，不走外部执行器）
type TransformStep struct {
	StepMeta `bson:",inline"`

	// Action 变换动作
	Action TransformAction `json:"action" bson:"action"`

	// Field 作用字段（dedupe 按该字段去重、enrich 写入该字段）
	Field string `json:"field,omitempty" bson:"field,omitempty"`

	// Template 格式化模板（action=format 时必填），{{field}} 形式插值
	Template string `json:"template,omitempty" bson:"template,omitempty"`

	// GroupBy 聚合分组字段（action=aggregate 时使用）
	GroupBy string `json:"groupBy,omitempty" bson:"group_by,omitempty"`
}

func (s *TransformStep) Kind() StepKind { return StepKindTransform }

func (s *TransformStep) Validate() error {
	switch s.Action {
	case TransformNormalize, TransformDedupe, TransformAggregate, TransformEnrich:
	case TransformFormat:
		if s.Template == "" {
			return fmt.Errorf("transform step %s: template required for format", s.ID)
		}
	default:
		return fmt.Errorf("transform step %s: invalid action %q", s.ID, s.Action)
	}
	return nil
}

// ConditionOperator 条件运算符
type ConditionOperator string

const (
	OpContains    ConditionOperator = "contains"
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpRegex       ConditionOperator = "regex"
	OpExists      ConditionOperator = "exists"
)

// Valid 判断是否为已知运算符
func (op ConditionOperator) Valid() bool {
	switch op {
	case OpContains, OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpRegex, OpExists:
		return true
	}
	return false
}

// ConditionLogic 多规则组合方式
type ConditionLogic string

const (
	// LogicAll 全部规则为真才算通过
	LogicAll ConditionLogic = "all"
	// LogicAny 任一规则为真即算通过
	LogicAny ConditionLogic = "any"
)

// ConditionFailureAction 条件不满足时的处理策略
type ConditionFailureAction string

const (
	// FailureActionSkip 跳过投递：剩余步骤标记 skipped，运行仍算成功
	FailureActionSkip ConditionFailureAction = "skip"

	// FailureActionNotify 改道投递：输出改发条件步骤配置的备用渠道
	FailureActionNotify ConditionFailureAction = "notify"

	// FailureActionStop 终止运行：剩余步骤标记 skipped，运行算失败
	FailureActionStop ConditionFailureAction = "stop"
)

// ConditionRule 单条条件规则
//
// Field 用点号路径在上游载荷里取值，如 "data.price"。
type ConditionRule struct {
	Field    string            `json:"field" bson:"field"`
	Operator ConditionOperator `json:"operator" bson:"operator"`
	Value    string            `json:"value,omitempty" bson:"value,omitempty"`
}

// ConditionStep 条件步骤
type ConditionStep struct {
	StepMeta `bson:",inline"`

	// Rules 规则列表，至少一条
	Rules []ConditionRule `json:"rules" bson:"rules"`

	// Logic 规则组合方式，空值视为 all
	Logic ConditionLogic `json:"logic,omitempty" bson:"logic,omitempty"`

	// FailureAction 条件不满足时的处理，空值视为 skip
	FailureAction ConditionFailureAction `json:"failureAction,omitempty" bson:"failure_action,omitempty"`

	// NotifyChannel FailureAction=notify 时的备用投递渠道
	NotifyChannel string `json:"notifyChannel,omitempty" bson:"notify_channel,omitempty"`
}

func (s *ConditionStep) Kind() StepKind { return StepKindCondition }

// EffectiveLogic 返回组合方式（处理空值默认）
func (s *ConditionStep) EffectiveLogic() ConditionLogic {
	if s.Logic == LogicAny {
		return LogicAny
	}
	return LogicAll
}

// EffectiveFailureAction 返回失败策略（处理空值默认）
func (s *ConditionStep) EffectiveFailureAction() ConditionFailureAction {
	switch s.FailureAction {
	case FailureActionNotify, FailureActionStop:
		return s.FailureAction
	}
	return FailureActionSkip
}

func (s *ConditionStep) Validate() error {
	if len(s.Rules) == 0 {
		return fmt.Errorf("condition step %s: at least one rule required", s.ID)
	}
	for i, r := range s.Rules {
		if r.Field == "" {
			return fmt.Errorf("condition step %s: rule %d missing field", s.ID, i)
		}
		if !r.Operator.Valid() {
			return fmt.Errorf("condition step %s: rule %d invalid operator %q", s.ID, i, r.Operator)
		}
		if r.Operator == OpRegex {
			if _, err := regexp.Compile(r.Value); err != nil {
				return fmt.Errorf("condition step %s: rule %d bad regex: %w", s.ID, i, err)
			}
		}
	}
	switch s.Logic {
	case "", LogicAll, LogicAny:
	default:
		return fmt.Errorf("condition step %s: invalid logic %q", s.ID, s.Logic)
	}
	switch s.FailureAction {
	case "", FailureActionSkip, FailureActionStop:
	case FailureActionNotify:
		if s.NotifyChannel == "" {
			return fmt.Errorf("condition step %s: notifyChannel required for notify", s.ID)
		}
	default:
		return fmt.Errorf("condition step %s: invalid failureAction %q", s.ID, s.FailureAction)
	}
	return nil
}

// OutputStep 输出步骤
type OutputStep struct {
	StepMeta `bson:",inline"`

	// Channel 投递渠道，如 telegram / email / webhook / novachat
	Channel string `json:"channel" bson:"channel"`

	// Timing 投递时机：immediate（立即）或 digest（合并摘要），空值视为 immediate
	Timing string `json:"timing,omitempty" bson:"timing,omitempty"`

	// Recipients 收件目标（渠道相关：聊天 ID、邮箱、URL 等）
	Recipients []string `json:"recipients,omitempty" bson:"recipients,omitempty"`

	// Template 消息模板，{{field}} 形式插值
	Template string `json:"template,omitempty" bson:"template,omitempty"`
}

func (s *OutputStep) Kind() StepKind { return StepKindOutput }

func (s *OutputStep) Validate() error {
	if s.Channel == "" {
		return fmt.Errorf("output step %s: channel required", s.ID)
	}
	switch s.Timing {
	case "", "immediate", "digest":
		return nil
	}
	return fmt.Errorf("output step %s: invalid timing %q", s.ID, s.Timing)
}

// ============================================================================
// StepList - 有序步骤列表与 JSON 编解码
// ============================================================================

// StepList 有序步骤列表，列表顺序即执行顺序
//
// JSON 形式为对象数组，每个对象带 type 字段标识变体：
//
//	[{"id":"s1","type":"trigger"},{"id":"s2","type":"fetch","source":"web","url":"..."}]
type StepList []Step

// NewStepOfKind 按类型构造零值变体
func NewStepOfKind(kind StepKind) (Step, error) {
	switch kind {
	case StepKindTrigger:
		return &TriggerStep{}, nil
	case StepKindFetch:
		return &FetchStep{}, nil
	case StepKindCoinbase:
		return &CoinbaseStep{}, nil
	case StepKindAI:
		return &AIStep{}, nil
	case StepKindTransform:
		return &TransformStep{}, nil
	case StepKindCondition:
		return &ConditionStep{}, nil
	case StepKindOutput:
		return &OutputStep{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepKind, kind)
	}
}

// MarshalJSON 序列化时把 type 字段注入信封
func (l StepList) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(l))
	for i, s := range l {
		body, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal step %d: %w", i, err)
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("marshal step %d: %w", i, err)
		}
		obj["type"] = string(s.Kind())
		enveloped, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("marshal step %d: %w", i, err)
		}
		out = append(out, enveloped)
	}
	return json.Marshal(out)
}

// UnmarshalJSON 按信封 type 字段分发到对应变体，未知类型报错
func (l *StepList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	steps := make([]Step, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			Type StepKind `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		step, err := NewStepOfKind(head.Type)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := json.Unmarshal(raw, step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	*l = steps
	return nil
}

// Validate 校验整个步骤列表：非空、ID 全局唯一、各步骤自身合法
func (l StepList) Validate() error {
	if len(l) == 0 {
		return errors.New("steps: at least one step required")
	}
	seen := make(map[string]struct{}, len(l))
	for i, s := range l {
		id := s.Meta().ID
		if id == "" {
			return fmt.Errorf("steps: step %d missing id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("steps: duplicate step id %q", id)
		}
		seen[id] = struct{}{}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FindByID 按步骤 ID 查找，未找到返回 nil
func (l StepList) FindByID(id string) Step {
	for _, s := range l {
		if s.Meta().ID == id {
			return s
		}
	}
	return nil
}
