// Package repository EngineEvent 相关的存储操作
//
// 引擎事件是可靠性聚合的唯一输入，表结构刻意扁平：
// 聚合查询只需要 type / duration_ms / created_at 三列。
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storagetypes"
)

// AppendEngineEvent 追加一条引擎事件（id 由数据库自增分配）
func (s *Store) AppendEngineEvent(ctx context.Context, ev *model.EngineEvent) error {
	query := s.rebind(`
		INSERT INTO engine_events (type, mission_id, run_id, duration_ms, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	_, err := s.db.ExecContext(ctx, query,
		ev.Type, ev.MissionID, ev.RunID, ev.DurationMs, ev.Detail, ev.CreatedAt)
	return err
}

// ListEngineEvents 按过滤条件列出引擎事件（时间升序）
func (s *Store) ListEngineEvents(ctx context.Context, filter storagetypes.EngineEventFilter) ([]*model.EngineEvent, error) {
	var conds []string
	var args []interface{}

	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.MissionID != "" {
		args = append(args, filter.MissionID)
		conds = append(conds, fmt.Sprintf("mission_id = $%d", len(args)))
	}

	query := `SELECT id, type, mission_id, run_id, duration_ms, detail, created_at FROM engine_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.EngineEvent
	for rows.Next() {
		ev := &model.EngineEvent{}
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.MissionID, &ev.RunID,
			&ev.DurationMs, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEngineEvents 统计某时刻之后的事件总数
func (s *Store) CountEngineEvents(ctx context.Context, since time.Time) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM engine_events WHERE created_at >= $1`)
	var count int
	err := s.db.QueryRowContext(ctx, query, since).Scan(&count)
	return count, err
}
