// Package engine 实现任务流水线执行器
//
// 引擎负责把一次运行（MissionRun）推进到终态：按任务定义的步骤顺序
// 依次执行，维护每步轨迹（StepTrace），经事件总线发布流式进度，
// 并在结束时恰好一次地落账运行结局。
//
// 步骤分两类：
//   - 内置步骤（trigger/transform/condition）由引擎直接执行
//   - 外部步骤（fetch/coinbase/ai/output）通过执行器接口调用，
//     具体的抓取、模型、投递客户端由装配方注册进 Runners
//
// 文件组织：
//   - runner.go:     执行器接口与注册表
//   - executor.go:   运行级流水线（尝试循环、轨迹、结局落账）
//   - conditions.go: 条件步骤求值（运算符 + 字段取值）
//   - transforms.go: 变换步骤内置动作
//   - retry.go:      瞬态错误标记与步骤内重试
//   - mock.go:       空实现执行器（干跑 / 测试）
package engine

import (
	"context"

	"missions-admin/internal/shared/model"
)

// ============================================================================
// 执行器接口
// ============================================================================

// FetchExecutor 抓取执行器
//
// 负责 fetch/coinbase 两类外部取数调用。实现应把可重试的瞬时失败
// （网络抖动、限流、上游 5xx）用 Transient 包装后返回，引擎据此
// 决定是否消耗步骤内重试预算；超时由引擎通过 ctx 控制。
type FetchExecutor interface {
	Fetch(ctx context.Context, step *model.FetchStep) (interface{}, error)
	FetchCoinbase(ctx context.Context, step *model.CoinbaseStep) (interface{}, error)
}

// AIExecutor 模型执行器
//
// input 为上游载荷（可能为 nil），实现负责把它与 Prompt 拼接。
// 返回值作为新的流水线载荷继续向下游传递。
type AIExecutor interface {
	Generate(ctx context.Context, step *model.AIStep, input interface{}) (interface{}, error)
}

// DeliveryRequest 一次投递请求
//
// Channel 以请求中的为准：条件步骤的 notify 策略会把后续投递
// 改道到备用渠道，此时 Channel 与步骤定义里的不一致。
type DeliveryRequest struct {
	RunID      string
	MissionID  string
	StepID     string
	Channel    string
	Timing     string
	Recipients []string
	Template   string
	Payload    interface{}
}

// OutputExecutor 投递执行器
//
// 返回的 OutputResult 逐条聚合进运行记录；Delivered=false 且
// Error 非空视为该输出步骤失败，但不会中断其余输出步骤。
// 投递不做步骤内重试——崩溃或重试导致的重复投递比投递失败更糟。
type OutputExecutor interface {
	Deliver(ctx context.Context, req *DeliveryRequest) (*model.OutputResult, error)
}

// ============================================================================
// Runners - 执行器注册表
// ============================================================================

// Runners 步骤执行器注册表
//
// 未注册的槽位回落到空实现（干跑），引擎因此永远可以执行任何
// 合法的步骤列表。
type Runners struct {
	fetch  FetchExecutor
	ai     AIExecutor
	output OutputExecutor
}

// NewRunners 创建注册表，所有槽位为空实现
func NewRunners() *Runners {
	return &Runners{}
}

// RegisterFetch 注册抓取执行器
func (r *Runners) RegisterFetch(f FetchExecutor) {
	r.fetch = f
}

// RegisterAI 注册模型执行器
func (r *Runners) RegisterAI(a AIExecutor) {
	r.ai = a
}

// RegisterOutput 注册投递执行器
func (r *Runners) RegisterOutput(o OutputExecutor) {
	r.output = o
}

// Fetch 返回抓取执行器（未注册回落空实现）
func (r *Runners) Fetch() FetchExecutor {
	if r.fetch == nil {
		return NoOpFetchExecutor{}
	}
	return r.fetch
}

// AI 返回模型执行器（未注册回落空实现）
func (r *Runners) AI() AIExecutor {
	if r.ai == nil {
		return NoOpAIExecutor{}
	}
	return r.ai
}

// Output 返回投递执行器（未注册回落空实现）
func (r *Runners) Output() OutputExecutor {
	if r.output == nil {
		return NoOpOutputExecutor{}
	}
	return r.output
}
