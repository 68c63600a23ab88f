// Package lifecycle 集成连接生命周期的公共规则
//
// 服务端与 Go SDK 共用同一套校验与推导逻辑：
// 触发事件、权限范围、URL/UUID 校验、成功率、过期判定、状态推导以及错误分类。
package lifecycle

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindBackend         Kind = "backend"
	KindUnknownResponse Kind = "unknown_response_shape"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
)

// 错误码，随响应返回给调用方
const (
	CodeValidation           = "validation_error"
	CodeNoValidApiKey        = "no_valid_api_key"
	CodeIntegrationDisabled  = "integration_disabled"
	CodeNoAuthURL            = "no_auth_url"
	CodeConfirmationRequired = "confirmation_required"
	CodeUnknownResponseShape = "unknown_response_shape"
	CodeBackend              = "backend_error"
	CodeNotFound             = "not_found"
	CodeConflict             = "conflict"
)

// Error 生命周期操作错误
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，便于 errors.Is(err, ErrNoValidApiKey)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNoValidApiKey = &Error{Kind: KindAuthorization, Code: CodeNoValidApiKey, Message: "API Key 无效、已停用或缺少所需权限"}

	ErrIntegrationDisabled = &Error{Kind: KindAuthorization, Code: CodeIntegrationDisabled, Message: "该集成尚未由管理员启用或配置"}

	ErrNoAuthURL = &Error{Kind: KindBackend, Code: CodeNoAuthURL, Message: "未能获取授权地址"}

	ErrConfirmationRequired = &Error{Kind: KindValidation, Code: CodeConfirmationRequired, Message: "该操作不可撤销，需要明确确认"}

	ErrUnknownResponseShape = &Error{Kind: KindUnknownResponse, Code: CodeUnknownResponseShape, Message: "无法识别的响应结构"}
)

// Validation 参数校验错误
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Field: field, Message: message}
}

// NoValidApiKey 带具体原因的 API Key 错误
func NoValidApiKey(message string) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeNoValidApiKey, Message: message}
}

// Backend 后端或上游调用失败，原始信息透传
func Backend(message string, err error) *Error {
	return &Error{Kind: KindBackend, Code: CodeBackend, Message: message, Err: err}
}

// NotFound 资源不存在
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// Conflict 资源状态冲突
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: message}
}

// AsError 提取 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 返回错误类别，非生命周期错误归为 backend
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindBackend
}

// FromCode 根据错误码还原错误（SDK 解析服务端响应时使用）
func FromCode(code, message string) *Error {
	var kind Kind
	switch code {
	case CodeValidation, CodeConfirmationRequired:
		kind = KindValidation
	case CodeNoValidApiKey, CodeIntegrationDisabled:
		kind = KindAuthorization
	case CodeUnknownResponseShape:
		kind = KindUnknownResponse
	case CodeNotFound:
		kind = KindNotFound
	case CodeConflict:
		kind = KindConflict
	default:
		kind = KindBackend
		if code == "" {
			code = CodeBackend
		}
	}
	return &Error{Kind: kind, Code: code, Message: message}
}
