// Package repository DeadLetter 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"missions-admin/internal/shared/model"
	"missions-admin/internal/shared/storagetypes"
)

// deadLetterColumns SELECT 列清单，与 scanDeadLetter 的扫描顺序严格一致
const deadLetterColumns = `id, mission_id, run_id, idem_key, attempts, reason, last_error, payload, created_at`

// CreateDeadLetter 追加一条死信（重试配额耗尽的运行）
func (s *Store) CreateDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	query := s.rebind(`
		INSERT INTO dead_letters (id, mission_id, run_id, idem_key, attempts, reason, last_error, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	_, err := s.db.ExecContext(ctx, query,
		dl.ID, dl.MissionID, dl.RunID, dl.Key, dl.Attempts, dl.Reason, dl.LastError, dl.Payload, dl.CreatedAt)
	return err
}

// GetDeadLetter 获取死信
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*model.DeadLetter, error) {
	query := s.rebind(`SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = $1`)
	dl, err := scanDeadLetter(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return dl, err
}

// scanDeadLetter 辅助函数：从数据库行扫描 DeadLetter
func scanDeadLetter(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.DeadLetter, error) {
	dl := &model.DeadLetter{}
	err := scanner.Scan(
		&dl.ID, &dl.MissionID, &dl.RunID, &dl.Key, &dl.Attempts,
		&dl.Reason, &dl.LastError, &dl.Payload, &dl.CreatedAt)
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// ListDeadLetters 按时间倒序列出死信
func (s *Store) ListDeadLetters(ctx context.Context, filter storagetypes.DeadLetterFilter) ([]*model.DeadLetter, error) {
	var args []interface{}
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	if filter.MissionID != "" {
		args = append(args, filter.MissionID)
		query += " WHERE mission_id = $1"
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
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

	var letters []*model.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
