package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"DDXF-Market/internal/config"
	"DDXF-Market/internal/node"
	"DDXF-Market/pkg/logger"
)

// main 是 DDXF 市场节点的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("ddxfd 运行失败: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("ddxfd", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", defaultConfigPath(), "配置文件路径，可用 DDXF_CONFIG 覆盖默认值")
	address := flags.String("address", "", "覆盖 server.address")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *address != "" {
		cfg.Server.Address = *address
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	log := logger.Named("ddxfd")

	n, err := node.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Error("关闭节点失败", "error", err)
		}
	}()

	log.Info("节点已启动",
		"address", cfg.Server.Address,
		"storage", cfg.Storage.Driver,
		"events", cfg.Events.Driver,
		"txpool", cfg.TxPool.Enabled,
		"marketplace", n.Addresses.Marketplace.Hex(),
	)
	return n.Run(ctx)
}

func defaultConfigPath() string {
	if path := os.Getenv("DDXF_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "ddxfd.yaml")
}
