// Package apperr defines the error taxonomy shared by every bundlehub
// component. Each failure carries a Kind so the CLI (and any other host
// surface) can report a stable tag next to the human readable message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind 标识错误类别，对外输出时作为稳定的标签。
type Kind string

const (
	KindCredentials      Kind = "credentials"
	KindInvalidReference Kind = "invalid_reference"
	KindNetwork          Kind = "network"
	KindExtract          Kind = "extract"
	KindIO               Kind = "io"
	KindTimeout          Kind = "timeout"
)

// 每个 Kind 对应一个哨兵错误，调用方可以直接使用 errors.Is 判断类别。
var (
	ErrCredentials      = errors.New("credentials error")
	ErrInvalidReference = errors.New("invalid reference")
	ErrNetwork          = errors.New("network error")
	ErrExtract          = errors.New("extract error")
	ErrIO               = errors.New("io error")
	ErrTimeout          = errors.New("timeout")
)

var sentinels = map[Kind]error{
	KindCredentials:      ErrCredentials,
	KindInvalidReference: ErrInvalidReference,
	KindNetwork:          ErrNetwork,
	KindExtract:          ErrExtract,
	KindIO:               ErrIO,
	KindTimeout:          ErrTimeout,
}

// Error 组合类别、描述信息与底层原因。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if detail := e.Detail(); detail != "" {
		return e.Kind.label() + ": " + detail
	}
	return e.Kind.label()
}

// Detail 返回不带类别前缀的描述，供已单独输出类别标签的调用方使用。
func (e *Error) Detail() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return ""
	}
}

// Unwrap 同时暴露类别哨兵与底层原因，两者都能被 errors.Is 命中。
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (k Kind) label() string {
	if s, ok := sentinels[k]; ok {
		return s.Error()
	}
	return string(k)
}

// New 构造不带底层原因的错误。
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 为 err 附加类别与描述；err 为 nil 时返回 nil。
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 返回错误链上第一个 *Error 的类别，未分类的错误（多为文件系统错误）归为 IO。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindIO
}

// Is reports whether err belongs to kind.
func Is(err error, kind Kind) bool {
	s, ok := sentinels[kind]
	if !ok {
		return false
	}
	return errors.Is(err, s)
}
