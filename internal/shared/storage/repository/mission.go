// Package repository Mission 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storagetypes"
)

// missionColumns SELECT 列清单，与 scanMission 的扫描顺序严格一致
const missionColumns = `id, user_id, label, description, output_integration, schedule, enabled, steps,
	run_count, success_count, failure_count, last_run_at, version, last_fired_at, created_at, updated_at`

// CreateMission 创建任务
func (s *Store) CreateMission(ctx context.Context, m *model.Mission) error {
	scheduleJSON, err := marshalJSON(m.Schedule)
	if err != nil {
		return err
	}
	stepsJSON, err := marshalJSON(m.Steps)
	if err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO missions (id, user_id, label, description, output_integration, schedule, enabled, steps,
			run_count, success_count, failure_count, last_run_at, version, last_fired_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`)
	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.UserID, m.Label, m.Description, m.OutputIntegration, scheduleJSON, m.Enabled, stepsJSON,
		m.Stats.RunCount, m.Stats.SuccessCount, m.Stats.FailureCount, m.Stats.LastRunAt,
		m.Version, m.LastFiredAt, m.CreatedAt, m.UpdatedAt)
	return err
}

// UpsertMission 按提交的 ID 原子地建或改
//
// 冲突时只替换内容列：enabled、统计、user_id 保持原值；调度 JSON
// 发生变化时顺带清空触发水位（与编辑路径的重新武装规则一致）。
func (s *Store) UpsertMission(ctx context.Context, m *model.Mission) (*model.Mission, error) {
	scheduleJSON, err := marshalJSON(m.Schedule)
	if err != nil {
		return nil, err
	}
	stepsJSON, err := marshalJSON(m.Steps)
	if err != nil {
		return nil, err
	}

	conflict := s.dialect.UpsertConflict("id", []string{
		"label = EXCLUDED.label",
		"description = EXCLUDED.description",
		"output_integration = EXCLUDED.output_integration",
		"schedule = EXCLUDED.schedule",
		"steps = EXCLUDED.steps",
		"version = missions.version + 1",
		"last_fired_at = CASE WHEN missions.schedule <> EXCLUDED.schedule THEN NULL ELSE missions.last_fired_at END",
		"updated_at = EXCLUDED.updated_at",
	})
	query := s.rebind(`
		INSERT INTO missions (id, user_id, label, description, output_integration, schedule, enabled, steps,
			run_count, success_count, failure_count, last_run_at, version, last_fired_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	` + conflict)
	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.UserID, m.Label, m.Description, m.OutputIntegration, scheduleJSON, m.Enabled, stepsJSON,
		m.Stats.RunCount, m.Stats.SuccessCount, m.Stats.FailureCount, m.Stats.LastRunAt,
		m.Version, m.LastFiredAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s.GetMission(ctx, m.ID)
}

// GetMission 获取任务
func (s *Store) GetMission(ctx context.Context, id string) (*model.Mission, error) {
	query := s.rebind(`SELECT ` + missionColumns + ` FROM missions WHERE id = $1`)
	m, err := scanMission(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// scanMission 辅助函数：从数据库行扫描 Mission
func scanMission(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Mission, error) {
	m := &model.Mission{}
	var scheduleJSON, stepsJSON []byte
	err := scanner.Scan(
		&m.ID, &m.UserID, &m.Label, &m.Description, &m.OutputIntegration,
		&scheduleJSON, &m.Enabled, &stepsJSON,
		&m.Stats.RunCount, &m.Stats.SuccessCount, &m.Stats.FailureCount, &m.Stats.LastRunAt,
		&m.Version, &m.LastFiredAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(scheduleJSON) > 0 && string(scheduleJSON) != "null" {
		if err := json.Unmarshal(scheduleJSON, &m.Schedule); err != nil {
			return nil, fmt.Errorf("unmarshal mission schedule: %w", err)
		}
	}
	if len(stepsJSON) > 0 && string(stepsJSON) != "null" {
		if err := json.Unmarshal(stepsJSON, &m.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal mission steps: %w", err)
		}
	}
	return m, nil
}

// scanMissions 批量扫描
func scanMissions(rows *sql.Rows) ([]*model.Mission, error) {
	var missions []*model.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

// ListMissions 列出任务
func (s *Store) ListMissions(ctx context.Context, filter storagetypes.MissionFilter) ([]*model.Mission, error) {
	var conds []string
	var args []interface{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		conds = append(conds, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if filter.Mode != "" {
		// schedule 是 JSON 列：PG 走 ::jsonb 取值，SQLite 由方言剥掉
		// 类型转换后用原生 ->> 运算符
		args = append(args, filter.Mode)
		conds = append(conds, fmt.Sprintf("schedule::jsonb->>'mode' = $%d", len(args)))
	}

	query := `SELECT ` + missionColumns + ` FROM missions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMissions(rows)
}

// ListEnabledMissions 列出所有启用的任务（调度器每个 tick 的扫描集）
func (s *Store) ListEnabledMissions(ctx context.Context) ([]*model.Mission, error) {
	query := s.rebind(`SELECT ` + missionColumns + ` FROM missions WHERE enabled = $1 ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMissions(rows)
}

// UpdateMissionContent 替换任务内容并递增版本号
//
// rearm=true 时同时清空 last_fired_at：调度定义变了，旧水位对新
// 排期没有意义，清空后新排期的首个时刻即可触发。
func (s *Store) UpdateMissionContent(ctx context.Context, id string, content model.MissionContent, rearm bool) (*model.Mission, error) {
	scheduleJSON, err := marshalJSON(content.Schedule)
	if err != nil {
		return nil, err
	}
	stepsJSON, err := marshalJSON(content.Steps)
	if err != nil {
		return nil, err
	}

	set := `label = $1, description = $2, output_integration = $3, schedule = $4, steps = $5,
		version = version + 1, updated_at = ` + s.now()
	if rearm {
		set += ", last_fired_at = NULL"
	}
	query := s.rebind(fmt.Sprintf(`UPDATE missions SET %s WHERE id = $6`, set))

	res, err := s.db.ExecContext(ctx, query,
		content.Label, content.Description, content.OutputIntegration, scheduleJSON, stepsJSON, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetMission(ctx, id)
}

// UpdateMissionEnabled 切换启用开关
func (s *Store) UpdateMissionEnabled(ctx context.Context, id string, enabled bool) error {
	query := s.rebind(`UPDATE missions SET enabled = $1, updated_at = ` + s.now() + ` WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, enabled, id)
	return err
}

// UpdateMissionFired 推进触发水位
func (s *Store) UpdateMissionFired(ctx context.Context, id string, firedAt time.Time) error {
	query := s.rebind(`UPDATE missions SET last_fired_at = $1, updated_at = ` + s.now() + ` WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, firedAt, id)
	return err
}

// ApplyRunOutcome 原子落账一次完成的运行
//
// run_count、对应成败计数与 last_run_at 在同一条 UPDATE 里更新，
// 保证统计推进与 last_run_at 的原子性。
func (s *Store) ApplyRunOutcome(ctx context.Context, id string, success bool, endedAt time.Time) error {
	col := "failure_count"
	if success {
		col = "success_count"
	}
	query := s.rebind(fmt.Sprintf(
		`UPDATE missions SET run_count = run_count + 1, %s = %s + 1, last_run_at = $1, updated_at = %s WHERE id = $2`,
		col, col, s.now()))
	_, err := s.db.ExecContext(ctx, query, endedAt, id)
	return err
}

// DeleteMission 删除任务及其全部运行记录和版本记录
func (s *Store) DeleteMission(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM mission_runs WHERE mission_id = $1`), id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM mission_versions WHERE mission_id = $1`), id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM missions WHERE id = $1`), id); err != nil {
		return err
	}
	return tx.Commit()
}
