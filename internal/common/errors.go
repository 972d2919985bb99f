package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind 错误类别标签。
// 所有业务错误都携带一个 Kind，上层通过 Kind（而不是类型断言链）
// 决定 HTTP 状态码、是否计入熔断器、是否可重试。
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindForbidden   ErrorKind = "forbidden"
	KindConflict    ErrorKind = "conflict"
	KindRateLimited ErrorKind = "rate_limited"
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindProvider    ErrorKind = "provider"
	KindCircuitOpen ErrorKind = "circuit_open"
	KindDatabase    ErrorKind = "database"
	KindCache       ErrorKind = "cache"
	KindInternal    ErrorKind = "internal"
)

// statusByKind Kind 到 HTTP 状态码的唯一映射表。
var statusByKind = map[ErrorKind]int{
	KindValidation:  http.StatusBadRequest,
	KindNotFound:    http.StatusNotFound,
	KindForbidden:   http.StatusForbidden,
	KindConflict:    http.StatusConflict,
	KindRateLimited: http.StatusTooManyRequests,
	KindNetwork:     http.StatusBadGateway,
	KindTimeout:     http.StatusGatewayTimeout,
	KindProvider:    http.StatusBadGateway,
	KindCircuitOpen: http.StatusServiceUnavailable,
	KindDatabase:    http.StatusInternalServerError,
	KindCache:       http.StatusInternalServerError,
	KindInternal:    http.StatusInternalServerError,
}

// Error 统一的业务错误类型。
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式匹配。
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail 附加上下文信息，返回自身便于链式调用。
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError 创建指定类别的错误。
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError 包装底层错误并打上类别标签。
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 提取错误的类别；未打标签的错误一律视为 internal。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否属于指定类别。
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient 判断错误是否为瞬时故障（计入熔断器失败阈值）。
// 永久性错误（not_found、validation、forbidden 等）不计入。
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindProvider:
		return true
	}
	return false
}

// HTTPStatus 按类别查表返回 HTTP 状态码，未知类别返回 500。
func HTTPStatus(err error) int {
	if status, ok := statusByKind[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
