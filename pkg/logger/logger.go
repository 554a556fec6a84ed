// Package logger 封装 log/slog，提供进程级日志与独立的审计日志。
//
// 审计日志记录每笔交易的提交或回滚，写入按大小轮转的 JSON 文件。
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config 描述日志行为，可直接嵌入节点 YAML 配置。
type Config struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Service     string      `yaml:"service"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type state struct {
	main    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.RWMutex
	current *state
)

// Init 按配置重建全局日志器，并关闭上一次打开的输出。
func Init(cfg Config) error {
	next, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	prev := current
	current = next
	mu.Unlock()
	if prev != nil {
		return closeAll(prev.closers)
	}
	return nil
}

func build(cfg Config) (*state, error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	handler, closers, err := buildHandler(cfg.Format, cfg.OutputPaths, opts)
	if err != nil {
		return nil, err
	}
	s := &state{main: slog.New(handler), closers: closers}
	if cfg.Service != "" {
		s.main = s.main.With(slog.String("service", cfg.Service))
	}
	s.audit = s.main
	if cfg.Audit.Enabled {
		w, err := buildAuditWriter(cfg.Audit)
		if err != nil {
			_ = closeAll(s.closers)
			return nil, err
		}
		s.closers = append(s.closers, w)
		s.audit = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
		if cfg.Service != "" {
			s.audit = s.audit.With(slog.String("service", cfg.Service))
		}
	}
	return s, nil
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, []io.Closer, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	var (
		writers []io.Writer
		closers []io.Closer
	)
	for _, out := range outputs {
		w, c, err := openWriter(out)
		if err != nil {
			_ = closeAll(closers)
			return nil, nil, err
		}
		writers = append(writers, w)
		if c != nil {
			closers = append(closers, c)
		}
	}
	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), closers, nil
	}
	return slog.NewJSONHandler(writer, opts), closers, nil
}

func buildAuditWriter(cfg AuditConfig) (*rotatingWriter, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}
	return newRotatingWriter(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, file, nil
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if strings.EqualFold(level, "warning") {
		level = "warn"
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}

func loaded() *state {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		return s
	}
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = &state{main: slog.New(slog.NewJSONHandler(os.Stdout, nil))}
		current.audit = current.main
	}
	return current
}

// L 返回全局日志器，未初始化时输出 JSON 到标准输出。
func L() *slog.Logger { return loaded().main }

// Audit 返回审计日志器，未启用时退化为全局日志器。
func Audit() *slog.Logger { return loaded().audit }

// Sync 关闭文件输出，之后的日志写回标准输出。
func Sync() error {
	mu.Lock()
	prev := current
	current = nil
	mu.Unlock()
	if prev == nil {
		return nil
	}
	return closeAll(prev.closers)
}

// Named 返回带 component 属性的子日志器。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Tx 返回携带交易标识的审计日志器。
func Tx(hash, contract, method string) *slog.Logger {
	return Audit().With(
		slog.String("tx_hash", hash),
		slog.String("contract", contract),
		slog.String("method", method),
	)
}
