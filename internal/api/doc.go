// Package api 暴露交易提交、只读查询以及市场状态的 REST 接口。
package api
