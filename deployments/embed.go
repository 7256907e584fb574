// Package deployments 嵌入部署相关文件到二进制
//
// 包含：
//   - init-db.sql: PostgreSQL 全量建表脚本，Postgres 驱动
//     启动时幂等执行
//
// docker-compose.infra.yml 是开发用基础设施编排，按文件发布，
// 不进二进制。
package deployments

import (
	_ "embed"
)

// InitDBSQL PostgreSQL 全量初始化脚本（幂等，启动时执行）
//
//go:embed init-db.sql
var InitDBSQL string
