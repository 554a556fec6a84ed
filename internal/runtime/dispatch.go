package runtime

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	xerrors "DDXF-Market/internal/errors"
)

// Contract 是宿主可调度的合约。参数与返回值均为 RLP 编码。
type Contract interface {
	Invoke(ctx *Context, method string, args []byte) ([]byte, error)
}

// Handler 处理一个方法调用。
type Handler func(ctx *Context, args []byte) ([]byte, error)

// Router 是方法名到处理函数的分发表。
type Router map[string]Handler

// Dispatch 根据方法名调用处理函数。
func (r Router) Dispatch(ctx *Context, method string, args []byte) ([]byte, error) {
	h, ok := r[method]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown method %q", method)
	}
	return h(ctx, args)
}

// Method 把带类型的处理函数包装为 Handler，负责参数解码与结果编码。
func Method[A any, R any](fn func(ctx *Context, args *A) (R, error)) Handler {
	return func(ctx *Context, raw []byte) ([]byte, error) {
		var args A
		if err := DecodeArgs(raw, &args); err != nil {
			return nil, err
		}
		res, err := fn(ctx, &args)
		if err != nil {
			return nil, err
		}
		return EncodeResult(res)
	}
}

// NoArgs 用于没有参数的方法。
type NoArgs struct{}

var emptyList = []byte{0xc0}

// DecodeArgs 解码 RLP 参数列表，空参数视为空列表。
func DecodeArgs(raw []byte, v any) error {
	if len(raw) == 0 {
		raw = emptyList
	}
	if err := rlp.DecodeBytes(raw, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析调用参数失败")
	}
	return nil
}

// EncodeArgs 编码 RLP 参数列表。
func EncodeArgs(v any) ([]byte, error) {
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码调用参数失败")
	}
	return data, nil
}

// EncodeResult 编码返回值。
func EncodeResult(v any) ([]byte, error) {
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码返回值失败")
	}
	return data, nil
}

// DecodeResult 解码返回值。
func DecodeResult(raw []byte, v any) error {
	if err := rlp.DecodeBytes(raw, v); err != nil {
		return xerrors.Wrap(xerrors.CodeExternalCall, err, "解析返回值失败")
	}
	return nil
}

// Call 发起一次带类型的嵌套调用。
func Call[R any](ctx *Context, target common.Address, method string, args any) (R, error) {
	var out R
	raw, err := EncodeArgs(args)
	if err != nil {
		return out, err
	}
	res, err := ctx.Invoke(target, method, raw)
	if err != nil {
		return out, err
	}
	if err := DecodeResult(res, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Resolve 解析可选合约引用：nil 表示使用默认地址。
func Resolve(ref *common.Address, def common.Address) common.Address {
	if ref == nil {
		return def
	}
	return *ref
}
