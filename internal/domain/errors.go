package domain

import (
	"errors"
	"fmt"
)

// Kind 表示错误的业务分类。
//
// 分类用于决定错误的处理策略：
//   - KindMail: 策略/校验失败（灰名单、限流、邮箱不存在、加密失败等），
//     只记录日志，不向发送方暴露细节
//   - KindDatabase: 存储层不可用或约束冲突，对外表现为临时失败
//   - KindInternal: 配置或程序错误
//   - KindNotFound: 资源不存在
//   - KindAuth: 认证失败（本服务不使用，保留与管理 API 一致的分类）
type Kind int

const (
	KindAuth Kind = iota
	KindDatabase
	KindMail
	KindInternal
	KindNotFound
)

// String 返回分类名称，用于日志和指标标签。
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindDatabase:
		return "database"
	case KindMail:
		return "mail"
	case KindInternal:
		return "internal"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// AppError 是带业务分类的错误类型。
type AppError struct {
	Kind    Kind
	Message string
	Err     error // 被包装的底层错误，可为 nil
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 返回底层错误，支持 errors.Is / errors.As。
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 使同类 AppError 之间可以用 errors.Is 比较哨兵值。
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// Mailf 创建邮件处理类错误。
func Mailf(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindMail, Message: fmt.Sprintf(format, args...)}
}

// Databasef 创建数据库类错误。
func Databasef(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindDatabase, Message: fmt.Sprintf(format, args...)}
}

// Internalf 创建内部错误。
func Internalf(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf 创建资源不存在错误。
func NotFoundf(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// WrapMail 包装底层错误为邮件处理类错误。
func WrapMail(msg string, err error) *AppError {
	return &AppError{Kind: KindMail, Message: msg, Err: err}
}

// WrapDatabase 包装底层错误为数据库类错误。
func WrapDatabase(msg string, err error) *AppError {
	return &AppError{Kind: KindDatabase, Message: msg, Err: err}
}

// KindOf 返回错误的业务分类。
//
// 非 AppError 的错误一律归为 KindInternal。
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// ErrGreylisted 表示灰名单延迟窗口内的临时拒绝。
//
// 协议层依赖这个哨兵值把灰名单失败映射为 451 临时错误，
// 其余 KindMail 错误只记日志、对发送方返回 250。
var ErrGreylisted = Mailf("greylisted, try again later")
