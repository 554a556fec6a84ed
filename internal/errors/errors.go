// Package errors 定义节点统一的错误码与错误类型。
//
// 合约、存储与交易池返回的错误都携带 Code，API 层据此映射 HTTP 状态，
// 告警模块据此决定是否通知。
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于审计日志。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodePrecondition          Code = "PRECONDITION_FAILED"
	CodeArithmetic            Code = "ARITHMETIC_OVERFLOW"
	CodeExternalCall          Code = "EXTERNAL_CALL_FAILED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[Code]Attributes)
)

func init() {
	builtin := []struct {
		code Code
		attr Attributes
	}{
		{CodeUnknown, Attributes{"unknown error", SeverityCritical, false, true}},
		{CodeInvalidArgument, Attributes{"invalid argument", SeverityInfo, false, false}},
		{CodeNotFound, Attributes{"resource not found", SeverityInfo, false, false}},
		{CodeConflict, Attributes{"resource conflict", SeverityWarning, false, false}},
		// 缺少见证或调用方不是受信任合约。
		{CodeUnauthorized, Attributes{"request rejected", SeverityWarning, false, true}},
		// 库存耗尽、已过期、额度不足、重复注册、重复提取等。
		{CodePrecondition, Attributes{"precondition failed", SeverityInfo, false, false}},
		{CodeArithmetic, Attributes{"arithmetic overflow", SeverityCritical, false, true}},
		{CodeExternalCall, Attributes{"nested call failed", SeverityWarning, false, false}},
		{CodeInitializationFailure, Attributes{"service not initialized", SeverityWarning, true, true}},
		{CodeStorageFailure, Attributes{"storage failure", SeverityCritical, true, true}},
		{CodeQueueFailure, Attributes{"queue failure", SeverityCritical, true, true}},
		{CodeTimeout, Attributes{"operation timed out", SeverityWarning, true, true}},
	}
	for _, b := range builtin {
		registry[b.code] = b.attr
	}
}

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性，未注册的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code    Code
	message string
	cause   error
}

// New 创建错误，message 为空时使用错误码的默认描述。
func New(code Code, message string) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	return &Error{code: code, message: message}
}

// Newf 使用格式化信息创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

// Unauthorized 构造见证或调用方校验失败的错误。
func Unauthorized(format string, args ...any) *Error {
	return Newf(CodeUnauthorized, format, args...)
}

// Precondition 构造前置条件不满足的错误。
func Precondition(format string, args ...any) *Error {
	return Newf(CodePrecondition, format, args...)
}

// Overflow 构造算术溢出错误。
func Overflow(op string) *Error {
	return Newf(CodeArithmetic, "%s overflows", op)
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，使 errors.Is 可以匹配哨兵错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// CodeOf 返回错误对应的错误码。
//
// 嵌套调用失败会被包裹为 EXTERNAL_CALL_FAILED，这里返回最内层的业务错误码，
// 以便调用方区分授权失败与前置条件失败。
func CodeOf(err error) Code {
	var e *Error
	if !stdErrors.As(err, &e) {
		return CodeUnknown
	}
	for e.code == CodeExternalCall {
		var inner *Error
		if !stdErrors.As(e.cause, &inner) {
			break
		}
		e = inner
	}
	return e.code
}

// HasCode 判断错误链中是否存在指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// SeverityOf 返回错误码对应的严重程度。
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}
