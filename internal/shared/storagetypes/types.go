// Package storagetypes 定义存储层共享数据类型
//
// 独立包，避免循环导入：接口定义（storage）、具体实现
// （repository/mongostore）与 API 层都会引用这些过滤条件。
package storagetypes

import "time"

// ============================================================================
// 查询过滤条件
// ============================================================================

// MissionFilter 任务列表查询条件
type MissionFilter struct {
	// UserID 归属用户，空值不过滤（管理视角）
	UserID string

	// Enabled 启用状态过滤，nil 不过滤
	Enabled *bool

	// Mode 调度模式过滤，空值不过滤
	Mode string

	Limit  int
	Offset int
}

// RunFilter 运行历史查询条件
type RunFilter struct {
	MissionID string
	UserID    string

	// Status 运行状态过滤，空值不过滤
	Status string

	Limit  int
	Offset int
}

// EngineEventFilter 引擎事件查询条件
type EngineEventFilter struct {
	// Since 只取该时刻之后的事件（可靠性回看窗口的下界）
	Since time.Time

	// MissionID 限定任务，空值不过滤
	MissionID string

	Limit int
}

// VersionFilter 版本记录查询条件
type VersionFilter struct {
	MissionID string
	Limit     int
}

// DeadLetterFilter 死信查询条件
type DeadLetterFilter struct {
	MissionID string
	Limit     int
	Offset    int
}
