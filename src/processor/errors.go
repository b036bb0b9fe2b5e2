package processor

import (
	"errors"
	"fmt"
)

// ErrorKind 管道错误分类
type ErrorKind string

const (
	KindFileNotFound ErrorKind = "file-not-found"
	KindParse        ErrorKind = "parse"
	KindSchema       ErrorKind = "schema"
	KindStore        ErrorKind = "store"
	KindExport       ErrorKind = "export"
)

// Error 带分类与步骤的错误
type Error struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf 返回错误链中第一个 *Error 的分类，没有则为空串
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind 判断错误是否属于某一分类
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
