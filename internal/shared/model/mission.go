// Package model 定义核心数据模型
//
// mission.go 包含任务编排（mission）相关的模型：
//   - Mission：一条自动化任务 = 调度 + 有序步骤流水线
//   - Schedule / ScheduleMode：调度定义
//   - RunStats：运行统计（每次完成的运行恰好更新一次）
//   - MissionContent：可版本化的内容快照（版本库的存取单元）
package model

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// ScheduleMode - 调度模式枚举
// ============================================================================

// ScheduleMode 调度模式
type ScheduleMode string

const (
	// ScheduleDaily 每天在 Time 指定时刻触发一次
	ScheduleDaily ScheduleMode = "daily"

	// ScheduleWeekly 仅在 Days 列出的星期几、Time 时刻触发
	ScheduleWeekly ScheduleMode = "weekly"

	// ScheduleOnce 在 Time 指定的单一时刻触发一次，之后任务被停用
	ScheduleOnce ScheduleMode = "once"

	// ScheduleInterval 距上次成功触发 IntervalMinutes 分钟后再次触发
	ScheduleInterval ScheduleMode = "interval"
)

// 调度时间的两种解析布局
const (
	// ScheduleTimeLayout daily/weekly 的 Time 字段布局（当地时间）
	ScheduleTimeLayout = "15:04"

	// ScheduleOnceLayout once 的 Time 字段布局（当地时间的完整时刻）
	ScheduleOnceLayout = "2006-01-02T15:04"
)

// weekdayTokens 星期缩写 → time.Weekday
var weekdayTokens = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ============================================================================
// Schedule - 调度定义
// ============================================================================

// Schedule 调度定义
//
// Time 的含义随 Mode 变化：daily/weekly 用 "15:04"；once 用
// "2006-01-02T15:04"；interval 忽略 Time 只看 IntervalMinutes。
type Schedule struct {
	Mode            ScheduleMode `json:"mode" bson:"mode"`
	Time            string       `json:"time,omitempty" bson:"time,omitempty"`
	Timezone        string       `json:"timezone,omitempty" bson:"timezone,omitempty"`
	Days            []string     `json:"days,omitempty" bson:"days,omitempty"`
	IntervalMinutes int          `json:"intervalMinutes,omitempty" bson:"interval_minutes,omitempty"`
}

// Location 解析时区，空值回落到 UTC
func (s Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Weekdays 把 Days 解析为 time.Weekday 集合
func (s Schedule) Weekdays() (map[time.Weekday]bool, error) {
	out := make(map[time.Weekday]bool, len(s.Days))
	for _, d := range s.Days {
		wd, ok := weekdayTokens[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, fmt.Errorf("schedule: invalid day token %q", d)
		}
		out[wd] = true
	}
	return out, nil
}

// Validate 校验调度定义
func (s Schedule) Validate() error {
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("schedule: invalid timezone %q: %w", s.Timezone, err)
	}
	switch s.Mode {
	case ScheduleDaily:
		if _, err := time.Parse(ScheduleTimeLayout, s.Time); err != nil {
			return fmt.Errorf("schedule: daily time must be HH:MM: %w", err)
		}
	case ScheduleWeekly:
		if _, err := time.Parse(ScheduleTimeLayout, s.Time); err != nil {
			return fmt.Errorf("schedule: weekly time must be HH:MM: %w", err)
		}
		if len(s.Days) == 0 {
			return fmt.Errorf("schedule: weekly requires at least one day")
		}
		if _, err := s.Weekdays(); err != nil {
			return err
		}
	case ScheduleOnce:
		if _, err := time.Parse(ScheduleOnceLayout, s.Time); err != nil {
			return fmt.Errorf("schedule: once time must be YYYY-MM-DDTHH:MM: %w", err)
		}
	case ScheduleInterval:
		if s.IntervalMinutes <= 0 {
			return fmt.Errorf("schedule: interval requires positive intervalMinutes")
		}
	default:
		return fmt.Errorf("schedule: invalid mode %q", s.Mode)
	}
	return nil
}

// ============================================================================
// Mission - 自动化任务
// ============================================================================

// RunStats 运行统计
//
// 不变式：每次完成的运行恰好把统计更新一次，且与 LastRunAt 原子更新。
type RunStats struct {
	RunCount     int        `json:"runCount" bson:"run_count" db:"run_count"`
	SuccessCount int        `json:"successCount" bson:"success_count" db:"success_count"`
	FailureCount int        `json:"failureCount" bson:"failure_count" db:"failure_count"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty" bson:"last_run_at,omitempty" db:"last_run_at"`
}

// Mission 一条自动化任务
//
// 归属 UserID 指定的用户；内容（标签、描述、调度、步骤、输出集成）
// 只通过构建/编辑边界或版本恢复被修改，每次内容变更递增 Version。
type Mission struct {
	ID          string `json:"id" bson:"_id" db:"id"`
	UserID      string `json:"userId" bson:"user_id" db:"user_id"`
	Label       string `json:"label" bson:"label" db:"label"`
	Description string `json:"description,omitempty" bson:"description,omitempty" db:"description"`

	// OutputIntegration 任务级默认输出集成标识（输出步骤可覆盖）
	OutputIntegration string `json:"outputIntegration,omitempty" bson:"output_integration,omitempty" db:"output_integration"`

	Schedule Schedule `json:"schedule" bson:"schedule" db:"schedule"`
	Enabled  bool     `json:"enabled" bson:"enabled" db:"enabled"`
	Steps    StepList `json:"steps" bson:"steps" db:"steps"`
	Stats    RunStats `json:"stats" bson:"stats"`

	// Version 内容版本计数器，内容变更单调递增
	Version int `json:"version" bson:"version" db:"version"`

	// LastFiredAt 上次成功触发对应的排期时刻；编辑调度后清空以重新武装
	LastFiredAt *time.Time `json:"lastFiredAt,omitempty" bson:"last_fired_at,omitempty" db:"last_fired_at"`

	CreatedAt time.Time `json:"createdAt" bson:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at" db:"updated_at"`
}

// Validate 校验任务定义（调度 + 步骤）
func (m *Mission) Validate() error {
	if m.Label == "" {
		return fmt.Errorf("mission: label required")
	}
	if err := m.Schedule.Validate(); err != nil {
		return err
	}
	return m.Steps.Validate()
}

// ============================================================================
// MissionContent - 可版本化内容快照
// ============================================================================

// MissionContent 任务的可版本化内容
//
// 版本记录保存与恢复的单元。运行统计、启用开关、触发水位这类
// 运行期状态不属于内容，恢复不会回滚它们。
type MissionContent struct {
	Label             string   `json:"label" bson:"label"`
	Description       string   `json:"description,omitempty" bson:"description,omitempty"`
	OutputIntegration string   `json:"outputIntegration,omitempty" bson:"output_integration,omitempty"`
	Schedule          Schedule `json:"schedule" bson:"schedule"`
	Steps             StepList `json:"steps" bson:"steps"`
}

// ContentSnapshot 提取当前内容快照
func (m *Mission) ContentSnapshot() MissionContent {
	return MissionContent{
		Label:             m.Label,
		Description:       m.Description,
		OutputIntegration: m.OutputIntegration,
		Schedule:          m.Schedule,
		Steps:             m.Steps,
	}
}

// ApplyContent 用快照替换当前内容（调用方负责递增 Version 与持久化）
func (m *Mission) ApplyContent(c MissionContent) {
	m.Label = c.Label
	m.Description = c.Description
	m.OutputIntegration = c.OutputIntegration
	m.Schedule = c.Schedule
	m.Steps = c.Steps
}

// ScheduleChanged 判断两份内容的调度定义是否不同（用于重新武装判定）
func ScheduleChanged(a, b Schedule) bool {
	if a.Mode != b.Mode || a.Time != b.Time || a.Timezone != b.Timezone ||
		a.IntervalMinutes != b.IntervalMinutes || len(a.Days) != len(b.Days) {
		return true
	}
	for i := range a.Days {
		if !strings.EqualFold(a.Days[i], b.Days[i]) {
			return true
		}
	}
	return false
}
