// Package scheduler 实现调度器：按周期评估任务排期，为到期任务
// 声明幂等占位、创建运行并入列，由工作协程消费执行。
//
// 文件组织：
//   - evaluator.go: 纯函数排期评估（daily/weekly/once/interval）
//   - scheduler.go: tick 循环 + 触发 + 兜底轮询
//   - worker.go:    队列消费工作协程
//   - election.go:  etcd 领导者竞选（多副本部署时只有领导者 tick）
package scheduler

import (
	"fmt"
	"time"

	"missions-admin/internal/shared/model"
)

// ============================================================================
// 排期评估
// ============================================================================

// Evaluation 一次排期评估的结论
type Evaluation struct {
	// Due 此刻是否应触发
	Due bool

	// Occurrence Due=true 时有效：本次应触发的排期时刻。
	// 幂等键从它派生，因此同一槽位的多次评估得到同一个键。
	Occurrence time.Time

	// Next 下一个未来排期时刻（once 无下次时为零值）
	Next time.Time
}

// Evaluate 在排期自身的时区内评估任务是否到期
//
// 触发资格由 LastFiredAt 水位判定：daily/weekly 比较当天槽位，
// once 只认首次，interval 从上次触发时刻起算。编辑调度会清空
// 水位（重新武装），同一分钟内的重复评估靠占位声明去重——这里
// 只负责"该不该触发"，不负责"只触发一次"。
func Evaluate(m *model.Mission, now time.Time) (Evaluation, error) {
	loc, err := m.Schedule.Location()
	if err != nil {
		return Evaluation{}, fmt.Errorf("mission %s: %w", m.ID, err)
	}
	local := now.In(loc)

	switch m.Schedule.Mode {
	case model.ScheduleDaily:
		t, err := time.Parse(model.ScheduleTimeLayout, m.Schedule.Time)
		if err != nil {
			return Evaluation{}, fmt.Errorf("mission %s: invalid daily time %q: %w", m.ID, m.Schedule.Time, err)
		}
		slot := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		return evalSlot(m, local, slot, slot.AddDate(0, 0, 1)), nil

	case model.ScheduleWeekly:
		t, err := time.Parse(model.ScheduleTimeLayout, m.Schedule.Time)
		if err != nil {
			return Evaluation{}, fmt.Errorf("mission %s: invalid weekly time %q: %w", m.ID, m.Schedule.Time, err)
		}
		days, err := m.Schedule.Weekdays()
		if err != nil {
			return Evaluation{}, fmt.Errorf("mission %s: %w", m.ID, err)
		}
		if len(days) == 0 {
			return Evaluation{}, fmt.Errorf("mission %s: weekly schedule has no days", m.ID)
		}
		slot := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if !days[slot.Weekday()] {
			return Evaluation{Next: nextWeeklySlot(local, t.Hour(), t.Minute(), days, loc)}, nil
		}
		return evalSlot(m, local, slot, nextWeeklySlot(slot, t.Hour(), t.Minute(), days, loc)), nil

	case model.ScheduleOnce:
		t, err := time.ParseInLocation(model.ScheduleOnceLayout, m.Schedule.Time, loc)
		if err != nil {
			return Evaluation{}, fmt.Errorf("mission %s: invalid once time %q: %w", m.ID, m.Schedule.Time, err)
		}
		if m.LastFiredAt != nil {
			return Evaluation{}, nil // 已消耗唯一一次
		}
		if local.Before(t) {
			return Evaluation{Next: t}, nil
		}
		return Evaluation{Due: true, Occurrence: t}, nil

	case model.ScheduleInterval:
		interval := time.Duration(m.Schedule.IntervalMinutes) * time.Minute
		if interval <= 0 {
			return Evaluation{}, fmt.Errorf("mission %s: interval must be positive", m.ID)
		}
		if m.LastFiredAt == nil {
			// 从未触发过：立即到期
			occ := local.Truncate(time.Minute)
			return Evaluation{Due: true, Occurrence: occ, Next: occ.Add(interval)}, nil
		}
		elapsed := local.Sub(*m.LastFiredAt)
		if elapsed < interval {
			return Evaluation{Next: m.LastFiredAt.Add(interval)}, nil
		}
		// 停摆追赶只对齐到最近一个排期时刻，错过的中间时刻不补发
		steps := int64(elapsed / interval)
		occ := m.LastFiredAt.Add(time.Duration(steps) * interval)
		return Evaluation{Due: true, Occurrence: occ, Next: occ.Add(interval)}, nil
	}

	return Evaluation{}, fmt.Errorf("mission %s: unknown schedule mode %q", m.ID, m.Schedule.Mode)
}

// evalSlot daily/weekly 共用的槽位判定
//
// 槽位已过且水位未覆盖它 → 到期（晚到的评估照常触发，"at or after
// the slot"）；水位不早于槽位 → 今天已触发过。
func evalSlot(m *model.Mission, local, slot, next time.Time) Evaluation {
	if local.Before(slot) {
		return Evaluation{Next: slot}
	}
	if m.LastFiredAt != nil && !m.LastFiredAt.Before(slot) {
		return Evaluation{Next: next}
	}
	return Evaluation{Due: true, Occurrence: slot, Next: next}
}

// nextWeeklySlot 严格晚于 after 的第一个合法槽位
func nextWeeklySlot(after time.Time, hour, minute int, days map[time.Weekday]bool, loc *time.Location) time.Time {
	local := after.In(loc)
	base := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for i := 0; i < 8; i++ {
		slot := base.AddDate(0, 0, i)
		if days[slot.Weekday()] && slot.After(after) {
			return slot
		}
	}
	return time.Time{}
}
