// Package cache 缓存层类型定义
package cache

import (
	"time"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// BuildResult 构建结果缓存数据
type BuildResult struct {
	MissionID string    `json:"mission_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RunState 执行运行时状态
type RunState struct {
	State       string `json:"state" redis:"state"`
	StepIndex   int    `json:"step_index" redis:"step_index"`
	CurrentStep string `json:"current_step" redis:"current_step"`
	Error       string `json:"error,omitempty" redis:"error"`
}

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// Key 前缀
	KeyIdemClaim   = "idem:"
	KeyBuildResult = "build_result:"
	KeyRunState    = "run_state:"

	// TTL 常量
	TTLBuildResult = 10 * time.Minute
	TTLRunState    = 1 * time.Hour
)
