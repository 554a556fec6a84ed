package migrations

import "embed"

// Files 暴露状态表与交易回执表的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
