// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机轻量部署场景。
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"missions-admin/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) UpsertConflict(conflictColumn string, updateExprs []string) string {
	result := fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET ", conflictColumn)
	for i, expr := range updateExprs {
		if i > 0 {
			result += ", "
		}
		result += expr
	}
	return result
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:missions.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// 内存库不跨连接共享，限制为单连接，避免连接池拿到空库
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（等价于 PostgreSQL 迁移文件）
const schema = `
-- missions
CREATE TABLE IF NOT EXISTS missions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    label VARCHAR(200) NOT NULL,
    description TEXT,
    output_integration VARCHAR(100),
    schedule TEXT NOT NULL,
    enabled INTEGER DEFAULT 1,
    steps TEXT NOT NULL,
    run_count INTEGER DEFAULT 0,
    success_count INTEGER DEFAULT 0,
    failure_count INTEGER DEFAULT 0,
    last_run_at DATETIME,
    version INTEGER DEFAULT 1,
    last_fired_at DATETIME,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_missions_user ON missions(user_id);
CREATE INDEX IF NOT EXISTS idx_missions_enabled ON missions(enabled);

-- mission_runs
CREATE TABLE IF NOT EXISTS mission_runs (
    id VARCHAR(64) PRIMARY KEY,
    mission_id VARCHAR(64) NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL,
    status VARCHAR(32) DEFAULT 'queued',
    trigger_source VARCHAR(16) DEFAULT 'schedule',
    occurrence DATETIME NOT NULL,
    mission_version INTEGER DEFAULT 1,
    attempts INTEGER DEFAULT 1,
    success INTEGER DEFAULT 0,
    reason TEXT,
    traces TEXT DEFAULT '[]',
    results TEXT DEFAULT '[]',
    novachat_queued INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    started_at DATETIME,
    ended_at DATETIME,
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_runs_mission ON mission_runs(mission_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON mission_runs(status);

-- mission_versions（只追加，无 UPDATE/DELETE 路径）
CREATE TABLE IF NOT EXISTS mission_versions (
    version_id VARCHAR(64) PRIMARY KEY,
    mission_id VARCHAR(64) NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
    actor_id VARCHAR(64),
    event_type VARCHAR(32) NOT NULL,
    reason TEXT,
    source_mission_version INTEGER NOT NULL,
    content TEXT NOT NULL,
    restored_version_id VARCHAR(64),
    backup_version_id VARCHAR(64),
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_versions_mission ON mission_versions(mission_id, created_at);

-- dead_letters
CREATE TABLE IF NOT EXISTS dead_letters (
    id VARCHAR(64) PRIMARY KEY,
    mission_id VARCHAR(64),
    run_id VARCHAR(64),
    idem_key TEXT,
    attempts INTEGER DEFAULT 0,
    reason TEXT,
    last_error TEXT,
    payload TEXT,
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_created ON dead_letters(created_at);

-- engine_events（可靠性聚合的事件日志）
CREATE TABLE IF NOT EXISTS engine_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type VARCHAR(64) NOT NULL,
    mission_id VARCHAR(64),
    run_id VARCHAR(64),
    duration_ms INTEGER DEFAULT 0,
    detail TEXT,
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_engine_events_created ON engine_events(created_at);

-- users
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(200) UNIQUE NOT NULL,
    username VARCHAR(100),
    password_hash VARCHAR(200) NOT NULL,
    role VARCHAR(32) DEFAULT 'user',
    status VARCHAR(32) DEFAULT 'active',
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
`
