package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"DDXF-Market/pkg/logger"
)

// Config 描述了节点在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   logger.Config   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	TxPool    TxPoolConfig    `yaml:"txpool"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Contracts ContractsConfig `yaml:"contracts"`
	Genesis   GenesisConfig   `yaml:"genesis"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// SyncTimeout 限制同步执行接口等待的时间。
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// StorageConfig 选择合约状态的存储后端。
type StorageConfig struct {
	Driver string      `yaml:"driver"`
	MySQL  MySQLConfig `yaml:"mysql"`
	Redis  RedisConfig `yaml:"redis"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// EventsConfig 选择合约通知的发布方式。
type EventsConfig struct {
	Driver       string              `yaml:"driver"`
	HistoryLimit int                 `yaml:"history_limit"`
	Redis        RedisEventsConfig   `yaml:"redis"`
	RabbitMQ     RabbitMQEventConfig `yaml:"rabbitmq"`
}

// RedisEventsConfig 描述通知写入的频道或 Stream。
type RedisEventsConfig struct {
	RedisConfig `yaml:",inline"`
	Channel     string `yaml:"channel"`
	Stream      string `yaml:"stream"`
	StreamCap   int64  `yaml:"stream_cap"`
}

// RabbitMQEventConfig 描述通知使用的交换机。
type RabbitMQEventConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Durable  bool   `yaml:"durable"`
}

// TxPoolConfig 控制异步交易通道。
type TxPoolConfig struct {
	Enabled   bool        `yaml:"enabled"`
	Workers   int         `yaml:"workers"`
	Store     string      `yaml:"store"`
	Queue     QueueConfig `yaml:"queue"`
	QueueSize int         `yaml:"queue_size"`
}

// QueueConfig 选择交易队列实现。
type QueueConfig struct {
	Driver    string        `yaml:"driver"`
	Name      string        `yaml:"name"`
	Redis     RedisConfig   `yaml:"redis"`
	BlockWait time.Duration `yaml:"block_wait"`
	RabbitMQ  struct {
		URL      string `yaml:"url"`
		Prefetch int    `yaml:"prefetch"`
		Durable  bool   `yaml:"durable"`
	} `yaml:"rabbitmq"`
}

// AlertingConfig 配置告警渠道，全部留空时只写审计日志。
type AlertingConfig struct {
	DingTalkWebhook string `yaml:"dingtalk_webhook"`
	SlackWebhook    string `yaml:"slack_webhook"`
}

// RuntimeConfig 放置执行环境参数。
type RuntimeConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// ContractsConfig 给出各合约的固定地址与管理员。
type ContractsConfig struct {
	Admin       string `yaml:"admin"`
	Native      string `yaml:"native"`
	Governance  string `yaml:"governance"`
	Ledger      string `yaml:"ledger"`
	Settlement  string `yaml:"settlement"`
	Accountant  string `yaml:"accountant"`
	Marketplace string `yaml:"marketplace"`
}

// Addresses 是解析后的合约地址集合。
type Addresses struct {
	Admin       common.Address
	Native      common.Address
	Governance  common.Address
	Ledger      common.Address
	Settlement  common.Address
	Accountant  common.Address
	Marketplace common.Address
}

// GenesisConfig 描述启动时写入的初始余额。
type GenesisConfig struct {
	Balances []GenesisBalance `yaml:"balances"`
}

// GenesisBalance 是一条初始余额，Amount 为十进制字符串。
type GenesisBalance struct {
	Currency string `yaml:"currency"`
	Account  string `yaml:"account"`
	Amount   string `yaml:"amount"`
}

// Load 解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse 解析 YAML 内容并校验。
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.SyncTimeout <= 0 {
		c.Server.SyncTimeout = 10 * time.Second
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "ddxfd"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "ddxf:state:"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.HistoryLimit <= 0 {
		c.Events.HistoryLimit = 1024
	}
	if c.Events.Redis.Channel == "" && c.Events.Redis.Stream == "" {
		c.Events.Redis.Channel = "ddxf:events"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "ddxf.events"
	}
	if c.TxPool.Workers <= 0 {
		c.TxPool.Workers = 4
	}
	if c.TxPool.Store == "" {
		c.TxPool.Store = "memory"
	}
	if c.TxPool.Queue.Driver == "" {
		c.TxPool.Queue.Driver = "memory"
	}
	if c.TxPool.QueueSize <= 0 {
		c.TxPool.QueueSize = 1024
	}
	if c.TxPool.Queue.BlockWait <= 0 {
		c.TxPool.Queue.BlockWait = 5 * time.Second
	}
	if c.Runtime.MaxDepth <= 0 {
		c.Runtime.MaxDepth = 16
	}

	ct := &c.Contracts
	defaults := []struct {
		field *string
		value string
	}{
		{&ct.Native, "0x0000000000000000000000000000000000000101"},
		{&ct.Governance, "0x0000000000000000000000000000000000000102"},
		{&ct.Ledger, "0x0000000000000000000000000000000000000201"},
		{&ct.Settlement, "0x0000000000000000000000000000000000000301"},
		{&ct.Accountant, "0x0000000000000000000000000000000000000401"},
		{&ct.Marketplace, "0x0000000000000000000000000000000000000501"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}
}

func (c *Config) resolvePaths(baseDir string) {
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// Validate 检查枚举值与地址格式。
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(name, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 不支持 %q (可选: %s)", name, value, strings.Join(allowed, ", ")))
	}
	oneOf("storage.driver", c.Storage.Driver, "memory", "mysql", "redis")
	oneOf("events.driver", c.Events.Driver, "memory", "redis", "rabbitmq", "none")
	oneOf("txpool.store", c.TxPool.Store, "memory", "mysql")
	oneOf("txpool.queue.driver", c.TxPool.Queue.Driver, "memory", "redis", "rabbitmq")

	if c.Storage.Driver == "mysql" && c.Storage.MySQL.DSN == "" {
		errs = append(errs, errors.New("storage.mysql.dsn 不能为空"))
	}
	if c.TxPool.Store == "mysql" && c.Storage.MySQL.DSN == "" {
		errs = append(errs, errors.New("txpool.store=mysql 需要 storage.mysql.dsn"))
	}
	if _, err := c.Contracts.Resolve(); err != nil {
		errs = append(errs, err)
	}
	for i, b := range c.Genesis.Balances {
		if _, err := b.Parse(); err != nil {
			errs = append(errs, fmt.Errorf("genesis.balances[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Resolve 把十六进制地址解析为 common.Address。admin 必须显式配置。
func (c ContractsConfig) Resolve() (Addresses, error) {
	var out Addresses
	var errs []error
	parse := func(name, value string, dst *common.Address) {
		if !common.IsHexAddress(value) {
			errs = append(errs, fmt.Errorf("contracts.%s 不是合法地址: %q", name, value))
			return
		}
		*dst = common.HexToAddress(value)
	}
	parse("admin", c.Admin, &out.Admin)
	parse("native", c.Native, &out.Native)
	parse("governance", c.Governance, &out.Governance)
	parse("ledger", c.Ledger, &out.Ledger)
	parse("settlement", c.Settlement, &out.Settlement)
	parse("accountant", c.Accountant, &out.Accountant)
	parse("marketplace", c.Marketplace, &out.Marketplace)
	if err := errors.Join(errs...); err != nil {
		return Addresses{}, err
	}
	seen := make(map[common.Address]string)
	for name, addr := range map[string]common.Address{
		"native": out.Native, "governance": out.Governance, "ledger": out.Ledger,
		"settlement": out.Settlement, "accountant": out.Accountant, "marketplace": out.Marketplace,
	} {
		if prev, ok := seen[addr]; ok {
			return Addresses{}, fmt.Errorf("contracts.%s 与 contracts.%s 地址重复", name, prev)
		}
		seen[addr] = name
	}
	return out, nil
}

// ParsedBalance 是解析后的初始余额。
type ParsedBalance struct {
	Governance bool
	Account    common.Address
	Amount     *big.Int
}

// Parse 校验并解析一条初始余额。
func (b GenesisBalance) Parse() (ParsedBalance, error) {
	var out ParsedBalance
	switch strings.ToLower(b.Currency) {
	case "", "native":
	case "governance":
		out.Governance = true
	default:
		return out, fmt.Errorf("未知币种 %q", b.Currency)
	}
	if !common.IsHexAddress(b.Account) {
		return out, fmt.Errorf("账户地址不合法: %q", b.Account)
	}
	out.Account = common.HexToAddress(b.Account)
	amount, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return out, fmt.Errorf("金额不合法: %q", b.Amount)
	}
	out.Amount = amount
	return out, nil
}
