// Package engine 执行器空实现
package engine

import (
	"context"
	"fmt"
	"time"

	"missions-admin/internal/shared/model"
)

// ============================================================================
// NoOp 执行器 - 干跑实现
// ============================================================================
//
// 未接入真实抓取/模型/投递客户端时的回落实现：fetch/ai 返回可辨识
// 的占位载荷，output 标记为已投递。流水线语义（轨迹、条件、变换、
// 结局落账）不依赖任何真实外部调用，因此空实现足以支撑干跑与测试。

// NoOpFetchExecutor 空抓取执行器
type NoOpFetchExecutor struct{}

func (NoOpFetchExecutor) Fetch(ctx context.Context, step *model.FetchStep) (interface{}, error) {
	return map[string]interface{}{
		"source":    string(step.Source),
		"url":       step.URL,
		"query":     step.Query,
		"fetchedAt": time.Now().UTC().Format(time.RFC3339),
		"dryRun":    true,
	}, nil
}

func (NoOpFetchExecutor) FetchCoinbase(ctx context.Context, step *model.CoinbaseStep) (interface{}, error) {
	metric := step.Metric
	if metric == "" {
		metric = "price"
	}
	return map[string]interface{}{
		"product":   step.Product,
		"metric":    metric,
		"window":    step.Window,
		"fetchedAt": time.Now().UTC().Format(time.RFC3339),
		"dryRun":    true,
	}, nil
}

// NoOpAIExecutor 空模型执行器
type NoOpAIExecutor struct{}

func (NoOpAIExecutor) Generate(ctx context.Context, step *model.AIStep, input interface{}) (interface{}, error) {
	return map[string]interface{}{
		"text":   fmt.Sprintf("[dry-run] %s", step.Prompt),
		"dryRun": true,
	}, nil
}

// NoOpOutputExecutor 空投递执行器
type NoOpOutputExecutor struct{}

func (NoOpOutputExecutor) Deliver(ctx context.Context, req *DeliveryRequest) (*model.OutputResult, error) {
	return &model.OutputResult{
		StepID:    req.StepID,
		Channel:   req.Channel,
		Delivered: true,
		Detail:    "dry-run delivery",
	}, nil
}

// 接口实现断言
var (
	_ FetchExecutor  = NoOpFetchExecutor{}
	_ AIExecutor     = NoOpAIExecutor{}
	_ OutputExecutor = NoOpOutputExecutor{}
)
