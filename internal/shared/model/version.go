// Package model 定义核心数据模型
//
// version.go 包含任务内容版本化的模型：
//   - VersionRecord：追加式版本记录（只写入，永不更新或删除）
//   - VersionEventType：快照 / 恢复前备份 / 恢复 三种事件
package model

import "time"

// ============================================================================
// VersionEventType - 版本事件类型
// ============================================================================

// VersionEventType 版本记录的事件类型
type VersionEventType string

const (
	// VersionEventSnapshot 普通快照：内容变更时追加，不影响恢复谱系
	VersionEventSnapshot VersionEventType = "snapshot"

	// VersionEventPreRestoreBackup 恢复前备份：恢复操作写入恢复记录
	// 之前，必须先把当前活动内容落盘为一条备份
	VersionEventPreRestoreBackup VersionEventType = "pre_restore_backup"

	// VersionEventRestore 恢复：活动内容被替换为目标版本的内容
	VersionEventRestore VersionEventType = "restore"
)

// ============================================================================
// VersionRecord - 版本记录
// ============================================================================

// VersionRecord 一条不可变的版本记录
//
// 不变式：
//   - 记录写入后永不更新、永不删除
//   - SourceMissionVersion 沿链单调递增
//   - 每条 restore 必须在同一事务中被一条 pre_restore_backup 先行，
//     且备份的 SourceMissionVersion 等于恢复前一刻任务的版本号
type VersionRecord struct {
	VersionID string `json:"versionId" bson:"_id" db:"version_id"`
	MissionID string `json:"missionId" bson:"mission_id" db:"mission_id"`

	// ActorID 触发本次写入的用户
	ActorID string `json:"actorId" bson:"actor_id" db:"actor_id"`

	EventType VersionEventType `json:"eventType" bson:"event_type" db:"event_type"`
	Reason    string           `json:"reason,omitempty" bson:"reason,omitempty" db:"reason"`

	// SourceMissionVersion 写入时任务的内容版本号
	SourceMissionVersion int `json:"sourceMissionVersion" bson:"source_mission_version" db:"source_mission_version"`

	// Content 捕获的内容快照（restore 记录捕获恢复后的活动内容）
	Content MissionContent `json:"content" bson:"content"`

	// RestoredVersionID restore 记录引用的被恢复版本
	RestoredVersionID string `json:"restoredVersionId,omitempty" bson:"restored_version_id,omitempty" db:"restored_version_id"`

	// BackupVersionID restore 记录引用的配对恢复前备份
	BackupVersionID string `json:"backupVersionId,omitempty" bson:"backup_version_id,omitempty" db:"backup_version_id"`

	CreatedAt time.Time `json:"createdAt" bson:"created_at" db:"created_at"`
}

// RestoreOutcome 恢复操作的返回：更新后的任务 + 两个关键版本号
type RestoreOutcome struct {
	Mission           *Mission `json:"mission"`
	RestoredVersionID string   `json:"restoredVersionId"`
	BackupVersionID   string   `json:"backupVersionId"`
}
