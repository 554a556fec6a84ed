// Package node 根据配置组装存储、合约、交易池与 API，并负责它们的生命周期。
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"DDXF-Market/internal/api"
	"DDXF-Market/internal/config"
	"DDXF-Market/internal/contracts/accountant"
	"DDXF-Market/internal/contracts/currency"
	"DDXF-Market/internal/contracts/ledger"
	"DDXF-Market/internal/contracts/marketplace"
	"DDXF-Market/internal/contracts/settlement"
	"DDXF-Market/internal/events"
	"DDXF-Market/internal/observability/alerting"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/storage"
	"DDXF-Market/internal/storage/memory"
	mysqlstore "DDXF-Market/internal/storage/mysql"
	redisstore "DDXF-Market/internal/storage/redis"
	"DDXF-Market/internal/txpool"
	"DDXF-Market/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Node 持有一个运行中的市场节点的全部组件。
type Node struct {
	Runtime   *runtime.Runtime
	Addresses config.Addresses
	Pool      *txpool.Service
	Server    *api.Server

	processor *txpool.Processor
	closers   []func() error
	log       *slog.Logger
}

// Build 按配置创建节点。返回错误时已打开的资源会被释放。
func Build(ctx context.Context, cfg *config.Config) (*Node, error) {
	addrs, err := cfg.Contracts.Resolve()
	if err != nil {
		return nil, err
	}
	n := &Node{Addresses: addrs, log: logger.Named("node")}
	if err := n.build(ctx, cfg); err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) build(ctx context.Context, cfg *config.Config) error {
	addrs := n.Addresses

	backend, err := n.openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	store := storage.New(backend)
	n.closers = append(n.closers, store.Close)

	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return err
	}
	n.closers = append(n.closers, publisher.Close)

	n.Runtime = runtime.New(store,
		runtime.WithPublisher(publisher),
		runtime.WithMaxDepth(cfg.Runtime.MaxDepth),
		runtime.WithLogger(logger.Named("runtime")),
	)
	if err := Deploy(n.Runtime, addrs); err != nil {
		return err
	}
	if err := ApplyGenesis(ctx, n.Runtime, addrs, cfg.Genesis); err != nil {
		return err
	}

	if cfg.TxPool.Enabled {
		if err := n.openPool(ctx, cfg); err != nil {
			return err
		}
	}

	n.Server = api.NewServer(api.Options{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		SyncTimeout:  cfg.Server.SyncTimeout,
	}, n.Runtime, n.Pool, api.Contracts{
		Marketplace: addrs.Marketplace,
		Ledger:      addrs.Ledger,
		Settlement:  addrs.Settlement,
	})
	return nil
}

func (n *Node) openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.New(), nil
	case "mysql":
		return mysqlstore.NewStateBackend(ctx, mysqlConfig(cfg.Storage.MySQL))
	case "redis":
		return redisstore.NewStateBackend(ctx, redisstore.Config{
			Address:  cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func mysqlConfig(c config.MySQLConfig) mysqlstore.Config {
	return mysqlstore.Config{
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "memory":
		return events.NewMemoryPublisher(cfg.HistoryLimit), nil
	case "none":
		return events.Nop{}, nil
	case "redis":
		return events.NewRedisPublisher(events.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Channel:   cfg.Redis.Channel,
			Stream:    cfg.Redis.Stream,
			StreamCap: cfg.Redis.StreamCap,
		})
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的通知驱动: %s", cfg.Driver)
	}
}

func (n *Node) openPool(ctx context.Context, cfg *config.Config) error {
	var store txpool.Store
	switch cfg.TxPool.Store {
	case "memory":
		store = txpool.NewMemoryStore()
	case "mysql":
		s, err := txpool.NewMySQLStore(ctx, mysqlConfig(cfg.Storage.MySQL))
		if err != nil {
			return err
		}
		store = s
	default:
		return fmt.Errorf("未知的回执存储: %s", cfg.TxPool.Store)
	}

	qc := cfg.TxPool.Queue
	var queue txpool.Queue
	switch qc.Driver {
	case "memory":
		queue = txpool.NewMemoryQueue(cfg.TxPool.QueueSize)
	case "redis":
		q, err := txpool.NewRedisQueue(ctx, txpool.RedisQueueConfig{
			Address:   qc.Redis.Address,
			Password:  qc.Redis.Password,
			DB:        qc.Redis.DB,
			Queue:     qc.Name,
			BlockWait: qc.BlockWait,
		})
		if err != nil {
			_ = store.Close()
			return err
		}
		queue = q
	case "rabbitmq":
		q, err := txpool.NewRabbitMQQueue(txpool.RabbitMQConfig{
			URL:      qc.RabbitMQ.URL,
			Queue:    qc.Name,
			Prefetch: qc.RabbitMQ.Prefetch,
			Durable:  qc.RabbitMQ.Durable,
		})
		if err != nil {
			_ = store.Close()
			return err
		}
		queue = q
	default:
		_ = store.Close()
		return fmt.Errorf("未知的队列驱动: %s", qc.Driver)
	}

	n.Pool = txpool.NewService(store, queue)
	n.closers = append(n.closers, n.Pool.Close)
	n.processor = txpool.NewProcessor(n.Runtime, store, queue,
		txpool.WithWorkerCount(cfg.TxPool.Workers),
		txpool.WithProcessorLogger(logger.Named("txpool")),
		txpool.WithAlertDispatcher(alertDispatcher(cfg.Alerting)),
	)
	return nil
}

func alertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	client := &http.Client{}
	if cfg.DingTalkWebhook != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{Kind: alerting.ChannelDingTalk, URL: cfg.DingTalkWebhook, Client: client})
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{Kind: alerting.ChannelSlack, URL: cfg.SlackWebhook, Client: client})
	}
	return alerting.NewFanout(notifiers...)
}

// Deploy 在固定地址注册全部合约。
func Deploy(rt *runtime.Runtime, addrs config.Addresses) error {
	reg := currency.Registry{Native: addrs.Native, Governance: addrs.Governance}
	contracts := []struct {
		addr common.Address
		name string
		impl runtime.Contract
	}{
		{addrs.Native, "native", currency.New("native", addrs.Admin)},
		{addrs.Governance, "governance", currency.New("governance", addrs.Admin)},
		{addrs.Ledger, "ledger", ledger.New(ledger.Config{Admin: addrs.Admin, Marketplace: addrs.Marketplace})},
		{addrs.Settlement, "settlement", settlement.New(reg)},
		{addrs.Accountant, "accountant", accountant.New(accountant.Config{Admin: addrs.Admin, Currencies: reg})},
		{addrs.Marketplace, "marketplace", marketplace.New(marketplace.Config{Admin: addrs.Admin, Ledger: addrs.Ledger, Currencies: reg})},
	}
	for _, c := range contracts {
		if err := rt.Register(c.addr, c.name, c.impl); err != nil {
			return fmt.Errorf("注册合约 %s 失败: %w", c.name, err)
		}
	}
	return nil
}

// ApplyGenesis 为尚未发行过的币种写入初始余额，已有供应量的币种保持不变。
func ApplyGenesis(ctx context.Context, rt *runtime.Runtime, addrs config.Addresses, genesis config.GenesisConfig) error {
	pending := map[common.Address][]config.ParsedBalance{}
	for _, b := range genesis.Balances {
		parsed, err := b.Parse()
		if err != nil {
			return err
		}
		token := addrs.Native
		if parsed.Governance {
			token = addrs.Governance
		}
		pending[token] = append(pending[token], parsed)
	}
	for _, token := range []common.Address{addrs.Native, addrs.Governance} {
		balances := pending[token]
		if len(balances) == 0 {
			continue
		}
		out, err := rt.Query(ctx, token, currency.MethodTotalSupply, nil)
		if err != nil {
			return err
		}
		var supply *big.Int
		if err := runtime.DecodeResult(out, &supply); err != nil {
			return err
		}
		if supply != nil && supply.Sign() > 0 {
			continue
		}
		for _, b := range balances {
			raw, err := runtime.EncodeArgs(&currency.MintArgs{To: b.Account, Amount: b.Amount})
			if err != nil {
				return err
			}
			call := runtime.HostCall{Contract: token, Method: currency.MethodMint, Args: raw, Witnesses: []common.Address{addrs.Admin}}
			if _, err := rt.Invoke(ctx, call); err != nil {
				return fmt.Errorf("写入初始余额失败: %w", err)
			}
		}
	}
	return nil
}

// Run 启动交易处理器与 API 服务，直到 ctx 取消或任一组件退出。
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if n.Pool != nil {
		if _, err := n.Pool.Recover(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)
	running := 1
	if n.processor != nil {
		running++
		go func() { errCh <- n.processor.Start(ctx) }()
	}
	go func() { errCh <- n.Server.Start(ctx) }()

	var first error
	for i := 0; i < running; i++ {
		err := <-errCh
		if first == nil {
			first = err
			cancel()
		}
	}
	if errors.Is(first, context.Canceled) {
		return nil
	}
	return first
}

// Close 按创建的逆序释放资源。
func (n *Node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}
	n.closers = nil
	return errors.Join(errs...)
}
