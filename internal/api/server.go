package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/observability/metrics"
	"DDXF-Market/internal/runtime"
	"DDXF-Market/internal/txpool"
	"DDXF-Market/pkg/logger"
)

// Chain 是 API 依赖的执行能力，由 runtime.Runtime 实现。
type Chain interface {
	Execute(ctx context.Context, tx *runtime.Transaction) (*runtime.Result, error)
	Query(ctx context.Context, contract common.Address, method string, args []byte, witnesses ...common.Address) ([]byte, error)
}

// Contracts 给出状态视图查询的合约地址。
type Contracts struct {
	Marketplace common.Address
	Ledger      common.Address
	Settlement  common.Address
}

// Options 控制 HTTP 服务参数。
type Options struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SyncTimeout  time.Duration
}

// Server 负责暴露 REST 接口。
type Server struct {
	opts      Options
	chain     Chain
	pool      *txpool.Service
	contracts Contracts
	log       *slog.Logger
}

// NewServer 构造 API 服务实例。pool 为空时不支持异步提交与回执查询。
func NewServer(opts Options, chain Chain, pool *txpool.Service, contracts Contracts) *Server {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 10 * time.Second
	}
	return &Server{opts: opts, chain: chain, pool: pool, contracts: contracts, log: logger.Named("api")}
}

// Handler 返回带指标与请求 ID 的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.Middleware(name, h))
	}
	route("POST /api/v1/transactions", "submit_transaction", s.handleSubmit)
	route("GET /api/v1/transactions/{hash}", "get_transaction", s.handleReceipt)
	route("GET /api/v1/transactions", "list_transactions", s.handleListReceipts)
	route("POST /api/v1/query", "query", s.handleQuery)
	route("GET /api/v1/items/{id}", "get_item", s.handleItem)
	route("GET /api/v1/quotas/{template}/{holder}", "get_quota", s.handleQuota)
	route("GET /api/v1/settlements/{key}", "get_settlement", s.handleSettlement)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return withRequestID(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.opts.Address))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if req.Method == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "method 不能为空"))
		return
	}
	tx := req.transaction()

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if s.pool == nil {
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "交易池未启用"))
			return
		}
		receipt, err := s.pool.Submit(r.Context(), tx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, receiptFromPool(receipt))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SyncTimeout)
	defer cancel()
	res, err := s.chain.Execute(ctx, tx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptFromResult(res))
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "交易池未启用"))
		return
	}
	hash := r.PathValue("hash")
	if !isHash(hash) {
		writeError(w, xerrors.Newf(xerrors.CodeInvalidArgument, "非法的交易哈希 %q", hash))
		return
	}
	receipt, err := s.pool.Get(r.Context(), common.HexToHash(hash).Hex())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptFromPool(receipt))
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "交易池未启用"))
		return
	}
	q := r.URL.Query()
	opts := []txpool.ListOption{}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, txpool.WithLimit(n))
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, txpool.WithOffset(n))
		}
	}
	if statuses := q["status"]; len(statuses) > 0 {
		list := make([]txpool.Status, 0, len(statuses))
		for _, st := range statuses {
			list = append(list, txpool.Status(st))
		}
		opts = append(opts, txpool.WithStatuses(list...))
	}
	if code := q.Get("error_code"); code != "" {
		opts = append(opts, txpool.WithErrorCode(code))
	}
	receipts, err := s.pool.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]Receipt, 0, len(receipts))
	for _, rc := range receipts {
		out = append(out, receiptFromPool(rc))
	}
	stats, err := s.pool.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": out, "stats": stats})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	out, err := s.chain.Query(r.Context(), req.Contract, req.Method, req.Args, req.Witnesses...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Return: out})
}

// statusOf 把错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, txpool.CodeTxValidation:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusForbidden
	case xerrors.CodeNotFound, txpool.CodeTxNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, txpool.CodeTxConflict:
		return http.StatusConflict
	case xerrors.CodePrecondition, xerrors.CodeArithmetic:
		return http.StatusUnprocessableEntity
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err), slog.String("error_code", string(code)))
	}
	writeJSON(w, status, ErrorResponse{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isHash(s string) bool {
	if len(s) == 2+2*common.HashLength && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// withRequestID 为每个请求分配 X-Request-ID。
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
