// Package redis 提供基于 Redis 的合约状态后端。每个状态键映射为一个
// 带前缀的 Redis 字符串，批量写入通过 MULTI/EXEC 管道原子提交。
package redis
