// Package mysql 提供基于 MySQL 的合约状态后端。
// 状态以扁平键值形式保存在 kv_state 表中，表结构由 deploy/migrations
// 中嵌入的迁移脚本维护，批量写入在单个数据库事务内完成。
package mysql
