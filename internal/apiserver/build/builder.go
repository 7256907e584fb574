package build

import (
	"context"
	"strings"

	"missions-admin/internal/shared/model"
)

// Builder 任务构建器边界
//
// 从一句自然语言提示产出完整任务内容。生产部署注册外部实现
// （AI 生成器），未注册时用内置的 PromptBuilder 脚手架。
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (*model.MissionContent, error)
}

// BuildRequest 构建器输入
type BuildRequest struct {
	Prompt            string
	OutputIntegration string
}

// PromptBuilder 内置脚手架构建器
//
// 不调用外部模型：提示原文进 AI 步骤的 prompt，投递渠道取请求的
// outputIntegration。产出固定为 触发 → AI 加工 → 输出 三步、每日
// 09:00 UTC 的任务骨架，用户在编辑器里继续调整。
type PromptBuilder struct{}

func (PromptBuilder) Build(ctx context.Context, req BuildRequest) (*model.MissionContent, error) {
	channel := req.OutputIntegration
	if channel == "" {
		channel = "novachat"
	}
	return &model.MissionContent{
		Label:             labelFromPrompt(req.Prompt),
		Description:       req.Prompt,
		OutputIntegration: channel,
		Schedule: model.Schedule{
			Mode:     model.ScheduleDaily,
			Time:     "09:00",
			Timezone: "UTC",
		},
		Steps: model.StepList{
			&model.TriggerStep{
				StepMeta: model.StepMeta{ID: "s1", Title: "Scheduled trigger"},
				Source:   "schedule",
			},
			&model.AIStep{
				StepMeta:    model.StepMeta{ID: "s2", Title: "Generate content"},
				Prompt:      req.Prompt,
				DetailLevel: "standard",
			},
			&model.OutputStep{
				StepMeta: model.StepMeta{ID: "s3", Title: "Deliver result"},
				Channel:  channel,
				Timing:   "immediate",
			},
		},
	}, nil
}

// labelFromPrompt 从提示提取任务标签：压缩空白、截断到 60 字符
func labelFromPrompt(prompt string) string {
	label := strings.Join(strings.Fields(prompt), " ")
	if label == "" {
		return "Generated mission"
	}
	runes := []rune(label)
	if len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return label
}
