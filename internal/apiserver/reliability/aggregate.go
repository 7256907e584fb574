// Package reliability 可靠性领域 - 引擎事件聚合与 SLO 读数
//
// 聚合按需计算、不落库：回看窗口内的引擎事件一次扫描出校验
// 通过率、运行成功率、重试率与完成运行的 P95 时长，再对照
// 固定目标生成逐项 SLO 读数。
package reliability

import (
	"math"
	"sort"

	"missions-admin/internal/shared/model"
)

// SLO 目标值。比率类指标单位为百分数，P95 为毫秒。
const (
	TargetValidationPassRate = 98.0
	TargetRunSuccessRate     = 99.0
	TargetRetryRate          = 5.0
	TargetRunP95Ms           = 60000.0
)

// Aggregate 一次扫描聚合回看窗口内的引擎事件
//
// 分母为零时取健康默认值：通过率/成功率 100、重试率 0、P95 0。
// 零流量的系统读作"完全健康"而不是除零错误。
func Aggregate(events []*model.EngineEvent) model.ReliabilitySummary {
	var (
		validationTotal  int
		validationPassed int
		outcomes         int
		completed        int
		retried          int
		durations        []int64
	)

	for _, ev := range events {
		switch ev.Type {
		case model.EventValidationPassed:
			validationTotal++
			validationPassed++
		case model.EventValidationFailed:
			validationTotal++
		case model.EventRunCompleted:
			outcomes++
			completed++
			durations = append(durations, ev.DurationMs)
		case model.EventRunFailed:
			outcomes++
		case model.EventRunRetried:
			retried++
		}
	}

	summary := model.ReliabilitySummary{
		TotalEvents:        len(events),
		ValidationPassRate: 100,
		RunSuccessRate:     100,
		RetryRate:          0,
		RunP95Ms:           0,
	}
	if validationTotal > 0 {
		summary.ValidationPassRate = percent(validationPassed, validationTotal)
	}
	if outcomes > 0 {
		summary.RunSuccessRate = percent(completed, outcomes)
		summary.RetryRate = percent(retried, outcomes)
	}
	if len(durations) > 0 {
		summary.RunP95Ms = p95NearestRank(durations)
	}
	return summary
}

// SLOTable 把汇总对照目标展开成逐项读数
//
// 比率类越高越好，重试率与 P95 越低越好。
func SLOTable(s model.ReliabilitySummary) []model.SLOReading {
	return []model.SLOReading{
		{
			Metric: "validation_pass_rate",
			Target: TargetValidationPassRate,
			Value:  s.ValidationPassRate,
			OK:     s.ValidationPassRate >= TargetValidationPassRate,
			Unit:   "percent",
		},
		{
			Metric: "run_success_rate",
			Target: TargetRunSuccessRate,
			Value:  s.RunSuccessRate,
			OK:     s.RunSuccessRate >= TargetRunSuccessRate,
			Unit:   "percent",
		},
		{
			Metric: "retry_rate",
			Target: TargetRetryRate,
			Value:  s.RetryRate,
			OK:     s.RetryRate <= TargetRetryRate,
			Unit:   "percent",
		},
		{
			Metric: "run_p95_ms",
			Target: TargetRunP95Ms,
			Value:  float64(s.RunP95Ms),
			OK:     float64(s.RunP95Ms) <= TargetRunP95Ms,
			Unit:   "ms",
		},
	}
}

// percent 百分数，保留两位小数
func percent(part, total int) float64 {
	return math.Round(float64(part)/float64(total)*10000) / 100
}

// p95NearestRank 最近秩法 95 分位
//
// rank = ceil(0.95 * n)，取升序第 rank 个值。样本很小时偏保守
// （n=1 时即该样本本身）。
func p95NearestRank(durations []int64) int64 {
	sorted := make([]int64, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Ceil(0.95 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
