// Package apperr 定义流水线中的错误类别，以及到 Temporal ApplicationError 的转换
package apperr

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"
)

// Kind 错误类别，同时作为 ApplicationError 的 type
type Kind string

const (
	BadParams              Kind = "BadParams"
	TaskNotFound           Kind = "TaskNotFound"
	InstanceNotFound       Kind = "InstanceNotFound"
	Mongodb                Kind = "Mongodb"
	SQLError               Kind = "SQLError"
	LmehGenerator          Kind = "LmehGenerator"
	ResponseError          Kind = "ResponseError"
	Unexpected             Kind = "Unexpected"
	SummarizeError         Kind = "SummarizeError"
	TaxonomySummarizeError Kind = "TaxonomySummarizeError"
)

// Retryable 只有 ResponseError 允许重试，后续可能还会有响应写入
func (k Kind) Retryable() bool {
	return k == ResponseError
}

// NonRetryableKinds 返回用于 RetryPolicy.NonRetryableErrorTypes 的类别名
func NonRetryableKinds() []string {
	return []string{
		string(BadParams),
		string(TaskNotFound),
		string(InstanceNotFound),
		string(Mongodb),
		string(SQLError),
		string(LmehGenerator),
		string(Unexpected),
		string(SummarizeError),
		string(TaxonomySummarizeError),
	}
}

// Error 带类别的错误
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New 创建错误
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误，err 为 nil 时返回 nil
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// KindOf 返回错误链上第一个 *Error 的类别，没有则为 Unexpected
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// Is 判断错误链上是否有指定类别
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ToTemporal 在 activity 边界把错误转换为 ApplicationError。
// 已经是 ApplicationError 或 CanceledError 的错误原样返回。
func ToTemporal(err error) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}
	var canceled *temporal.CanceledError
	if errors.As(err, &canceled) {
		return err
	}

	var e *Error
	if !errors.As(err, &e) {
		return temporal.NewNonRetryableApplicationError(err.Error(), string(Unexpected), err)
	}
	if e.Kind.Retryable() {
		return temporal.NewApplicationErrorWithCause(e.Error(), string(e.Kind), e.Cause)
	}
	return temporal.NewNonRetryableApplicationError(e.Error(), string(e.Kind), e.Cause)
}
