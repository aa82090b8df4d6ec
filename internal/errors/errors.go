// Package errors 定义钱包层统一的错误码。
//
// 每个业务包在 init 中通过 Register 声明自己的错误码及其默认属性，
// 调用方只按错误码判断错误，不比较错误文本。
package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Code 是稳定的、可对外暴露的错误码。
type Code string

// Severity 决定错误写入日志时的级别。
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Attributes 是错误码的默认属性。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

// 通用错误码，业务相关的错误码由各自的包注册。
const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeStorageFailure  Code = "STORAGE_FAILURE"
)

var (
	mu       sync.RWMutex
	registry = make(map[Code]Attributes)
)

func init() {
	Register(CodeUnknown, Attributes{Message: "unknown error", Severity: SeverityError})
	Register(CodeInvalidArgument, Attributes{Message: "invalid argument", Severity: SeverityInfo})
	Register(CodeStorageFailure, Attributes{Message: "ledger storage failure", Severity: SeverityError, Retryable: true})
}

// Register 声明错误码。同一错误码以不同属性重复注册会 panic。
func Register(code Code, attr Attributes) {
	if code == "" {
		panic("errors: register with empty code")
	}
	mu.Lock()
	defer mu.Unlock()
	if prev, ok := registry[code]; ok && prev != attr {
		panic(fmt.Sprintf("errors: code %s registered twice with different attributes", code))
	}
	registry[code] = attr
}

// Lookup 返回错误码的属性。ok 为 false 时返回 UNKNOWN 的属性。
func Lookup(code Code) (Attributes, bool) {
	mu.RLock()
	defer mu.RUnlock()
	attr, ok := registry[code]
	if !ok {
		return registry[CodeUnknown], false
	}
	return attr, true
}

// Codes 返回已注册的错误码，按字母排序。
func Codes() []Code {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Code, 0, len(registry))
	for code := range registry {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Error 携带错误码、说明、附加字段以及可选的底层原因。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 修改新建的 Error。
type Option func(*Error)

// WithMetadata 附加一个键值，例如 network 或 tx_id。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 1)
		}
		e.metadata[key] = value
	}
}

// New 创建错误。message 为空时使用注册的默认说明。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		attr, _ := Lookup(code)
		message = attr.Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 以 code 包装 cause。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) metadataKeys() []string {
	keys := make([]string, 0, len(e.metadata))
	for k := range e.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Error 的格式为 [CODE] message (k=v, ...): cause。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.code))
	b.WriteString("] ")
	b.WriteString(e.message)
	if len(e.metadata) > 0 {
		pairs := make([]string, 0, len(e.metadata))
		for _, k := range e.metadataKeys() {
			pairs = append(pairs, k+"="+e.metadata[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(pairs, ", "))
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// LogValue 让 slog 以结构化字段输出错误。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
	}
	for _, k := range e.metadataKeys() {
		attrs = append(attrs, slog.String(k, e.metadata[k]))
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码匹配，便于 errors.Is(err, New(code, ""))。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加字段的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

func (e *Error) Retryable() bool {
	attr, _ := Lookup(e.Code())
	return attr.Retryable
}

func (e *Error) Severity() Severity {
	attr, _ := Lookup(e.Code())
	return attr.Severity
}

// From 返回错误链中最外层的 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回最外层错误码，普通错误为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsCode 判断错误链中任一 *Error 是否带有 code。
func IsCode(err error, code Code) bool {
	for err != nil {
		e, ok := From(err)
		if !ok {
			return false
		}
		if e.code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// RetryableError 判断 err 的最外层错误码是否可重试。
func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}
