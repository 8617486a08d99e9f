package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示插件协调器内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与事件分级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认描述。
type Attributes struct {
	Message  string
	Severity Severity
}

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeRegistrationCycle Code = "REGISTRATION_CYCLE"
	CodePluginFailure     Code = "PLUGIN_FAILURE"
	CodePluginPanic       Code = "PLUGIN_PANIC"
	CodeLoadFailure       Code = "LOAD_FAILURE"
	CodeConfigInvalid     Code = "CONFIG_INVALID"
	CodeJournalFailure    Code = "JOURNAL_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:           {Message: "unknown error", Severity: SeverityCritical},
		CodeInvalidArgument:   {Message: "invalid argument", Severity: SeverityInfo},
		CodeNotFound:          {Message: "plugin not found", Severity: SeverityInfo},
		CodeConflict:          {Message: "plugin already registered", Severity: SeverityWarning},
		CodeRegistrationCycle: {Message: "registration would create a coordinator cycle", Severity: SeverityWarning},
		CodePluginFailure:     {Message: "plugin lifecycle call failed", Severity: SeverityWarning},
		CodePluginPanic:       {Message: "plugin panicked", Severity: SeverityCritical},
		CodeLoadFailure:       {Message: "plugin could not be loaded", Severity: SeverityCritical},
		CodeConfigInvalid:     {Message: "invalid configuration", Severity: SeverityWarning},
		CodeJournalFailure:    {Message: "event journal failure", Severity: SeverityWarning},
	}
)

// Register 允许其他模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性，未注册时返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是协调器内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如插件 ID。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// CauseOf 返回最内层的原始错误，用于日志中的 "caused by" 字段。
func CauseOf(err error) error {
	if err == nil {
		return nil
	}
	for {
		next := stdErrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
