// Package config 负责加载 ddxfd 节点的 YAML 配置，并为缺省字段填充默认值。
package config
