// Package repository MissionRun 相关的存储操作
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

// runColumns SELECT 列清单，与 scanRun 的扫描顺序严格一致
const runColumns = `id, mission_id, user_id, status, trigger_source, occurrence, mission_version, attempts,
	success, reason, traces, results, novachat_queued, duration_ms, started_at, ended_at, created_at`

// CreateRun 创建运行记录（初始 queued，轨迹已按当时步骤顺序建好）
func (s *Store) CreateRun(ctx context.Context, run *model.MissionRun) error {
	tracesJSON, err := marshalJSON(run.Traces)
	if err != nil {
		return err
	}
	resultsJSON, err := marshalJSON(run.Results)
	if err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO mission_runs (id, mission_id, user_id, status, trigger_source, occurrence, mission_version,
			attempts, success, reason, traces, results, novachat_queued, duration_ms, started_at, ended_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`)
	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.MissionID, run.UserID, run.Status, run.Trigger, run.Occurrence, run.MissionVersion,
		run.Attempts, run.Success, run.Reason, tracesJSON, resultsJSON, run.NovachatQueued,
		run.DurationMs, run.StartedAt, run.EndedAt, run.CreatedAt)
	return err
}

// GetRun 获取运行记录
func (s *Store) GetRun(ctx context.Context, id string) (*model.MissionRun, error) {
	query := s.rebind(`SELECT ` + runColumns + ` FROM mission_runs WHERE id = $1`)
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// scanRun 辅助函数：从数据库行扫描 MissionRun
func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.MissionRun, error) {
	run := &model.MissionRun{}
	var tracesJSON, resultsJSON []byte
	err := scanner.Scan(
		&run.ID, &run.MissionID, &run.UserID, &run.Status, &run.Trigger, &run.Occurrence,
		&run.MissionVersion, &run.Attempts, &run.Success, &run.Reason, &tracesJSON, &resultsJSON,
		&run.NovachatQueued, &run.DurationMs, &run.StartedAt, &run.EndedAt, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(tracesJSON) > 0 && string(tracesJSON) != "null" {
		if err := json.Unmarshal(tracesJSON, &run.Traces); err != nil {
			return nil, fmt.Errorf("unmarshal run traces: %w", err)
		}
	}
	if len(resultsJSON) > 0 && string(resultsJSON) != "null" {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return nil, fmt.Errorf("unmarshal run results: %w", err)
		}
	}
	return run, nil
}

// scanRuns 批量扫描
func scanRuns(rows *sql.Rows) ([]*model.MissionRun, error) {
	var runs []*model.MissionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRuns 按过滤条件列出运行历史
func (s *Store) ListRuns(ctx context.Context, filter storagetypes.RunFilter) ([]*model.MissionRun, error) {
	var conds []string
	var args []interface{}

	if filter.MissionID != "" {
		args = append(args, filter.MissionID)
		conds = append(conds, fmt.Sprintf("mission_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM mission_runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
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
	return scanRuns(rows)
}

// ListStaleQueuedRuns 找出滞留在 queued 超过阈值的运行
//
// 队列投递丢失时的兜底：调度器周期性捞出这些运行重新投递。
func (s *Store) ListStaleQueuedRuns(ctx context.Context, threshold time.Duration) ([]*model.MissionRun, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	query := s.rebind(`SELECT ` + runColumns + ` FROM mission_runs
		WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT 100`)
	rows, err := s.db.QueryContext(ctx, query, model.RunStatusQueued, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// MarkRunRunning 置为 running 并记录开始时间
func (s *Store) MarkRunRunning(ctx context.Context, id string, startedAt time.Time) error {
	query := s.rebind(`UPDATE mission_runs SET status = $1, started_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, model.RunStatusRunning, startedAt, id)
	return err
}

// FinishRun 写入终态（状态、成败、轨迹、结果、时长一次落盘）
func (s *Store) FinishRun(ctx context.Context, run *model.MissionRun) error {
	tracesJSON, err := marshalJSON(run.Traces)
	if err != nil {
		return err
	}
	resultsJSON, err := marshalJSON(run.Results)
	if err != nil {
		return err
	}

	query := s.rebind(`UPDATE mission_runs SET status = $1, success = $2, reason = $3, traces = $4,
		results = $5, novachat_queued = $6, duration_ms = $7, attempts = $8, ended_at = $9 WHERE id = $10`)
	_, err = s.db.ExecContext(ctx, query,
		run.Status, run.Success, run.Reason, tracesJSON, resultsJSON,
		run.NovachatQueued, run.DurationMs, run.Attempts, run.EndedAt, run.ID)
	return err
}

// UpdateRunAttempts 运行级重试后推进尝试计数
func (s *Store) UpdateRunAttempts(ctx context.Context, id string, attempts int) error {
	query := s.rebind(`UPDATE mission_runs SET attempts = $1 WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, attempts, id)
	return err
}
