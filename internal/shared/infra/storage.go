// Package infra 持久化存储初始化
package infra

import (
	"fmt"
	"log"

	"missions-admin/internal/config"
	"missions-admin/internal/shared/storage"
	"missions-admin/internal/shared/storage/dbutil"
	"missions-admin/internal/shared/storage/mongostore"
)

// NewStorage 按配置构建持久化存储
//
// driver 取值 postgres / sqlite / mongodb。SQL 两种走
// storage 工厂（自动迁移建表），MongoDB 在这里构建以保持
// storage 包不反向依赖 mongostore。
func NewStorage(cfg *config.Config) (storage.PersistentStore, error) {
	switch cfg.DatabaseDriver {
	case "mongodb":
		store, err := mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseDBName)
		if err != nil {
			return nil, fmt.Errorf("failed to init mongodb storage: %w", err)
		}
		log.Printf("[Infra/Storage] MongoDB storage ready: db=%s", cfg.DatabaseDBName)
		return store, nil
	case "postgres", "sqlite":
		store, err := storage.NewPersistentStoreFromDSN(dbutil.DriverType(cfg.DatabaseDriver), cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to init %s storage: %w", cfg.DatabaseDriver, err)
		}
		log.Printf("[Infra/Storage] %s storage ready", cfg.DatabaseDriver)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.DatabaseDriver)
	}
}
