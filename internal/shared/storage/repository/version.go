// Package repository VersionRecord 相关的存储操作
//
// 版本表只追加：本文件没有任何 UPDATE/DELETE 语句（任务级联删除
// 在 mission.go 里）。恢复操作在单个事务内完成"备份先行"序列。
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storagetypes"
)

// versionColumns SELECT 列清单，与 scanVersion 的扫描顺序严格一致
const versionColumns = `version_id, mission_id, actor_id, event_type, reason,
	source_mission_version, content, restored_version_id, backup_version_id, created_at`

// AppendVersion 追加一条版本记录
func (s *Store) AppendVersion(ctx context.Context, rec *model.VersionRecord) error {
	contentJSON, err := marshalJSON(rec.Content)
	if err != nil {
		return err
	}
	query := s.rebind(`
		INSERT INTO mission_versions (version_id, mission_id, actor_id, event_type, reason,
			source_mission_version, content, restored_version_id, backup_version_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	_, err = s.db.ExecContext(ctx, query,
		rec.VersionID, rec.MissionID, rec.ActorID, rec.EventType, rec.Reason,
		rec.SourceMissionVersion, contentJSON, rec.RestoredVersionID, rec.BackupVersionID, rec.CreatedAt)
	return err
}

// GetVersion 获取指定任务的一条版本记录
func (s *Store) GetVersion(ctx context.Context, missionID, versionID string) (*model.VersionRecord, error) {
	query := s.rebind(`SELECT ` + versionColumns + ` FROM mission_versions WHERE mission_id = $1 AND version_id = $2`)
	rec, err := scanVersion(s.db.QueryRowContext(ctx, query, missionID, versionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// scanVersion 辅助函数：从数据库行扫描 VersionRecord
func scanVersion(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.VersionRecord, error) {
	rec := &model.VersionRecord{}
	var contentJSON []byte
	err := scanner.Scan(
		&rec.VersionID, &rec.MissionID, &rec.ActorID, &rec.EventType, &rec.Reason,
		&rec.SourceMissionVersion, &contentJSON, &rec.RestoredVersionID, &rec.BackupVersionID, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(contentJSON) > 0 && string(contentJSON) != "null" {
		if err := json.Unmarshal(contentJSON, &rec.Content); err != nil {
			return nil, fmt.Errorf("unmarshal version content: %w", err)
		}
	}
	return rec, nil
}

// ListVersions 按时间倒序列出任务的版本记录
func (s *Store) ListVersions(ctx context.Context, filter storagetypes.VersionFilter) ([]*model.VersionRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT ` + versionColumns + ` FROM mission_versions
		WHERE mission_id = $1 ORDER BY created_at DESC, version_id DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, filter.MissionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*model.VersionRecord
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RestoreVersion 恢复任务内容到目标版本
//
// 单事务内按固定顺序执行：
//  1. 读出任务当前内容与版本号
//  2. 先写 pre_restore_backup（捕获恢复前活动内容，
//     source_mission_version = 恢复前版本号）
//  3. 再替换活动内容、版本号 +1
//  4. 最后写 restore 记录，引用目标版本与刚写入的备份
//
// 备份写在内容替换之前，事务提交即保证备份先于恢复落盘。
// 任务或目标版本不存在时返回 (nil, nil)。
func (s *Store) RestoreVersion(ctx context.Context, missionID, versionID, reason, actorID string) (*model.RestoreOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	mission, err := scanMission(tx.QueryRowContext(ctx,
		s.rebind(`SELECT `+missionColumns+` FROM missions WHERE id = $1`), missionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	target, err := scanVersion(tx.QueryRowContext(ctx,
		s.rebind(`SELECT `+versionColumns+` FROM mission_versions WHERE mission_id = $1 AND version_id = $2`),
		missionID, versionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	insertVersion := s.rebind(`
		INSERT INTO mission_versions (version_id, mission_id, actor_id, event_type, reason,
			source_mission_version, content, restored_version_id, backup_version_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)

	backupID := newID("ver")
	backupContent, err := marshalJSON(mission.ContentSnapshot())
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, insertVersion,
		backupID, missionID, actorID, model.VersionEventPreRestoreBackup, reason,
		mission.Version, backupContent, "", "", now)
	if err != nil {
		return nil, err
	}

	restored := target.Content
	scheduleJSON, err := marshalJSON(restored.Schedule)
	if err != nil {
		return nil, err
	}
	stepsJSON, err := marshalJSON(restored.Steps)
	if err != nil {
		return nil, err
	}

	// 调度定义变化时清空触发水位，与编辑路径的重新武装规则一致
	set := `label = $1, description = $2, output_integration = $3, schedule = $4, steps = $5,
		version = version + 1, updated_at = ` + s.now()
	if model.ScheduleChanged(mission.Schedule, restored.Schedule) {
		set += ", last_fired_at = NULL"
	}
	_, err = tx.ExecContext(ctx, s.rebind(fmt.Sprintf(`UPDATE missions SET %s WHERE id = $6`, set)),
		restored.Label, restored.Description, restored.OutputIntegration, scheduleJSON, stepsJSON, missionID)
	if err != nil {
		return nil, err
	}

	restoreID := newID("ver")
	restoreContent, err := marshalJSON(restored)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, insertVersion,
		restoreID, missionID, actorID, model.VersionEventRestore, reason,
		mission.Version+1, restoreContent, versionID, backupID, now.Add(time.Millisecond))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated, err := s.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return &model.RestoreOutcome{
		Mission:           updated,
		RestoredVersionID: versionID,
		BackupVersionID:   backupID,
	}, nil
}
