// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors 提供统一错误辅助与 bridge 错误分类，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 错误分类哨兵
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")

	// ErrTimeout 请求超时（硬超时，不重试）
	ErrTimeout = errors.New("network timeout")
	// ErrConnection 瞬时连接失败（可重试）
	ErrConnection = errors.New("connection failure")
	// ErrSessionNotFound runtime 侧 session 不存在
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired 本地缓存的 session 超出有效期
	ErrSessionExpired = errors.New("session expired")
	// ErrMalformedFrame 单行帧无法解析（本地恢复，不终止流）
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrStreamAborted 流被消费方或传输中断
	ErrStreamAborted = errors.New("stream aborted")
	// ErrValidation 持久化 session 结构不合法
	ErrValidation = errors.New("validation failed")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// TransportError runtime 返回非 2xx 时的错误，携带状态码与响应体
type TransportError struct {
	Op     string
	Status int
	Body   string
}

// Error 实现 error 接口
func (e *TransportError) Error() string {
	return fmt.Sprintf("[Transport] %s 返回 %d: %s", e.Op, e.Status, e.Body)
}

// Is 404 视为 ErrSessionNotFound，便于 errors.Is 判断
func (e *TransportError) Is(target error) bool {
	return target == ErrSessionNotFound && e.Status == 404
}

// NewTransportError 创建 TransportError
func NewTransportError(op string, status int, body string) *TransportError {
	return &TransportError{Op: op, Status: status, Body: body}
}

// IsTransportError 检查是否为 TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// GetTransportError 获取 TransportError
func GetTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// ValidationError 验证错误
type ValidationError struct {
	Field   string
	Message string
}

// Error 实现 error 接口
func (e *ValidationError) Error() string {
	return fmt.Sprintf("验证错误: %s: %s", e.Field, e.Message)
}

// Unwrap 统一归类到 ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError 创建新的验证错误
func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// UserMessage 每类失败对应一条面向用户的提示，不暴露传输细节
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "The assistant took too long to respond. Please try again."
	case errors.Is(err, ErrConnection):
		return "Unable to reach the assistant service. Please check your connection and retry."
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
		return "Your conversation session has ended. A new session will be started when you retry."
	case errors.Is(err, ErrStreamAborted):
		return "The response was interrupted. Please try again."
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidArg):
		return "The request could not be processed. Please check your input and retry."
	case IsTransportError(err):
		return "The assistant service returned an error. Please try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}
