package httpapi

import (
	"errors"
	"fmt"

	"wisefido-checkin/internal/location"
	"wisefido-checkin/internal/service"
)

// Result 统一响应包装
// - code: 2000 成功，-1 失败
// - type: 'success' | 'error'
// - message: 失败时为提示文案
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

const msgInvalidBody = "invalid body"

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// failFromError 把业务错误映射为失败响应
// 定位错误直接使用面向用户的提示文案；找不到/校验失败带上操作描述
// expected=false 表示存储或其他意外错误，调用方需要记录日志
func failFromError(op string, err error) (res Result[any], expected bool) {
	var le *location.Error
	if errors.As(err, &le) {
		return Fail(le.Error()), true
	}
	expected = errors.Is(err, service.ErrPersonNotFound) ||
		errors.Is(err, service.ErrContactNotFound) ||
		errors.Is(err, service.ErrInvalidPerson) ||
		errors.Is(err, service.ErrInvalidContact)
	return Fail(fmt.Sprintf("%s: %v", op, err)), expected
}
