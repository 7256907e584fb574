// Package storage 存储工厂
//
// 按驱动类型构造 PersistentStore。MongoDB 后端因包依赖方向
// （mongostore 引用本包的领域错误）由 infra 层直接构造。
package storage

import (
	"fmt"

	"missions-admin/internal/shared/storage/dbutil"
	postgresdriver "missions-admin/internal/shared/storage/driver/postgres"
	sqlitedriver "missions-admin/internal/shared/storage/driver/sqlite"
	"missions-admin/internal/shared/storage/repository"
)

// 编译期确认 SQL 实现满足组合接口
var _ PersistentStore = (*repository.Store)(nil)

// NewSQLiteStore 创建 SQLite 存储（含自动建表）
func NewSQLiteStore(dsn string) (*repository.Store, error) {
	db, err := sqlitedriver.Open(dsn)
	if err != nil {
		return nil, err
	}
	dialect := sqlitedriver.NewDialect()
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite auto-migrate failed: %w", err)
	}
	return repository.NewStore(db, dialect), nil
}

// NewPostgresStore 创建 PostgreSQL 存储（含幂等建表）
func NewPostgresStore(databaseURL string) (*repository.Store, error) {
	db, err := postgresdriver.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	dialect := postgresdriver.NewDialect()
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres auto-migrate failed: %w", err)
	}
	return repository.NewStore(db, dialect), nil
}

// NewPersistentStoreFromDSN 根据驱动类型和 DSN 创建持久化存储
// 支持的驱动类型：postgres, sqlite
func NewPersistentStoreFromDSN(driver dbutil.DriverType, dsn string) (PersistentStore, error) {
	switch driver {
	case dbutil.DriverPostgres:
		return NewPostgresStore(dsn)
	case dbutil.DriverSQLite:
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
