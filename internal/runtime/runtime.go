package runtime

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/events"
	"DDXF-Market/internal/storage"
	"DDXF-Market/pkg/logger"
)

// DefaultMaxDepth 是默认的最大调用深度。
const DefaultMaxDepth = 16

// ErrReplayed 表示同一交易哈希已经提交过。
var ErrReplayed = xerrors.New(xerrors.CodeConflict, "transaction already committed")

// Result 是一笔已提交交易的执行结果。
type Result struct {
	TxHash  common.Hash
	Return  []byte
	Events  []events.Event
	Signers []common.Address
}

// HostCall 描述一次由宿主直接发起的调用。Witnesses 由调用方保证真实性，
// 外部请求应当通过 Execute 进入，由签名恢复见证。
type HostCall struct {
	Contract  common.Address
	Method    string
	Args      []byte
	Witnesses []common.Address
	TxHash    common.Hash
}

// Runtime 串行执行交易。
type Runtime struct {
	mu        sync.Mutex
	store     *storage.Store
	regMu     sync.RWMutex
	contracts map[common.Address]Contract
	names     map[common.Address]string
	publisher events.Publisher
	clock     func() time.Time
	maxDepth  int
	logger    *slog.Logger
}

// Option 定义可选配置。
type Option func(*Runtime)

// WithPublisher 指定通知发布器。
func WithPublisher(p events.Publisher) Option {
	return func(r *Runtime) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithClock 替换宿主时钟，主要用于测试。
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithMaxDepth 设置最大调用深度。
func WithMaxDepth(depth int) Option {
	return func(r *Runtime) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// New 创建宿主。
func New(store *storage.Store, opts ...Option) *Runtime {
	r := &Runtime{
		store:     store,
		contracts: make(map[common.Address]Contract),
		names:     make(map[common.Address]string),
		publisher: events.Nop{},
		clock:     time.Now,
		maxDepth:  DefaultMaxDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("runtime")
	}
	return r
}

// Register 把合约部署到固定地址。
func (r *Runtime) Register(addr common.Address, name string, c Contract) error {
	if c == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "contract 不能为空")
	}
	if addr == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "合约地址不能为零地址")
	}
	r.regMu.Lock()
	defer r.regMu.Unlock()
	if _, ok := r.contracts[addr]; ok {
		return xerrors.Newf(xerrors.CodeConflict, "address %s already has a contract", addr.Hex())
	}
	r.contracts[addr] = c
	r.names[addr] = name
	return nil
}

// Lookup 根据名称查找合约地址。
func (r *Runtime) Lookup(name string) (common.Address, bool) {
	r.regMu.RLock()
	defer r.regMu.RUnlock()
	for addr, n := range r.names {
		if n == name {
			return addr, true
		}
	}
	return common.Address{}, false
}

func (r *Runtime) nameOf(addr common.Address) string {
	r.regMu.RLock()
	defer r.regMu.RUnlock()
	if n, ok := r.names[addr]; ok {
		return n
	}
	return addr.Hex()
}

// Execute 校验签名并执行交易，成功时提交状态。
func (r *Runtime) Execute(ctx context.Context, tx *Transaction) (*Result, error) {
	if tx == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "transaction 不能为空")
	}
	signers, err := tx.Signers()
	if err != nil {
		return nil, err
	}
	res, err := r.run(ctx, HostCall{
		Contract:  tx.Contract,
		Method:    tx.Method,
		Args:      tx.Args,
		Witnesses: signers,
		TxHash:    tx.Hash(),
	}, false)
	if err != nil {
		return nil, err
	}
	res.Signers = signers
	return res, nil
}

// Invoke 以给定见证执行调用并提交。未指定 TxHash 时生成随机哈希。
func (r *Runtime) Invoke(ctx context.Context, call HostCall) (*Result, error) {
	if call.TxHash == (common.Hash{}) {
		id := uuid.New()
		call.TxHash = common.BytesToHash(id[:])
	}
	return r.run(ctx, call, false)
}

// Query 执行只读调用，状态修改总是被丢弃。
func (r *Runtime) Query(ctx context.Context, contract common.Address, method string, args []byte, witnesses ...common.Address) ([]byte, error) {
	res, err := r.run(ctx, HostCall{Contract: contract, Method: method, Args: args, Witnesses: witnesses}, true)
	if err != nil {
		return nil, err
	}
	return res.Return, nil
}

func (r *Runtime) run(ctx context.Context, call HostCall, readOnly bool) (*Result, error) {
	if r.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "runtime 未配置存储")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stx := r.store.Begin(ctx)
	exec := &execution{
		rt:        r,
		ctx:       ctx,
		tx:        stx,
		hash:      call.TxHash,
		timestamp: uint64(r.clock().Unix()),
		witnesses: make(map[common.Address]struct{}, len(call.Witnesses)),
	}
	for _, w := range call.Witnesses {
		exec.witnesses[w] = struct{}{}
	}

	out, err := r.apply(exec, call, readOnly)
	if err != nil || readOnly {
		stx.Rollback()
		if err != nil {
			if !readOnly {
				r.audit(call, err)
			}
			return nil, err
		}
		return &Result{TxHash: call.TxHash, Return: out}, nil
	}
	if err := stx.Commit(); err != nil {
		r.audit(call, err)
		return nil, err
	}
	r.audit(call, nil)

	for i := range exec.events {
		exec.events[i].ID = uuid.NewString()
	}
	if len(exec.events) > 0 {
		if pubErr := r.publisher.Publish(ctx, exec.events); pubErr != nil {
			r.logger.Warn("发布通知失败", slog.Any("error", pubErr), slog.String("tx_hash", call.TxHash.Hex()))
		}
	}
	return &Result{TxHash: call.TxHash, Return: out, Events: exec.events}, nil
}

func (r *Runtime) apply(exec *execution, call HostCall, readOnly bool) ([]byte, error) {
	var seenKey []byte
	if !readOnly {
		seenKey = append([]byte{runtimeNamespace}, Key("seen", call.TxHash[:])...)
		seen, err := exec.tx.Has(seenKey)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, ErrReplayed
		}
	}
	out, err := r.invoke(exec, common.Address{}, call.Contract, call.Method, call.Args, 1)
	if err == nil && exec.failed != nil {
		err = xerrors.Wrap(xerrors.CodeExternalCall, exec.failed, "nested call failed")
	}
	if err != nil {
		return nil, err
	}
	if seenKey != nil {
		if err := exec.tx.Put(seenKey, []byte{1}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Runtime) invoke(exec *execution, caller, target common.Address, method string, args []byte, depth int) ([]byte, error) {
	if depth > r.maxDepth {
		return nil, xerrors.Precondition("call depth %d exceeds limit %d", depth, r.maxDepth)
	}
	r.regMu.RLock()
	contract, ok := r.contracts[target]
	r.regMu.RUnlock()
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "no contract at %s", target.Hex())
	}
	if err := exec.ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "交易被取消")
	}

	exec.stack = append(exec.stack, target)
	defer func() { exec.stack = exec.stack[:len(exec.stack)-1] }()

	prefix := append([]byte{contractNamespace}, target.Bytes()...)
	frame := &Context{
		exec:    exec,
		self:    target,
		caller:  caller,
		depth:   depth,
		storage: newStorage(exec.tx, prefix),
	}
	return contract.Invoke(frame, method, args)
}

func (r *Runtime) audit(call HostCall, err error) {
	lg := logger.Tx(call.TxHash.Hex(), r.nameOf(call.Contract), call.Method)
	if err == nil {
		lg.Info("交易已提交")
		return
	}
	attrs := []any{
		slog.String("error_code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()),
	}
	if stdErrors.Is(err, ErrReplayed) {
		lg.Info("重复交易被拒绝", attrs...)
		return
	}
	lg.Warn("交易已回滚", attrs...)
}
