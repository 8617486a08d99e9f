// Package migrations 内嵌事件日志 MySQL 驱动使用的 SQL 迁移文件。
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
