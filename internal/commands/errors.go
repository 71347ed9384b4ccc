package commands

import (
	"errors"
	"fmt"
)

// 控制面错误码。
const (
	CodeInvalidSettings     = "invalid_settings"
	CodeWriteCacheConfig    = "write_cache_config"
	CodeCacheDirUnavailable = "cache_dir_unavailable"
	CodeNotEnabled          = "not_enabled"
	CodeInvalidEvent        = "invalid_event"
	CodeInvalidURL          = "invalid_url"
	CodeUsageUnavailable    = "usage_unavailable"
)

// Error 是控制面返回给调用方的结构化错误。
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	err         error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(code, message, remediation string, cause error) *Error {
	return &Error{Code: code, Message: message, Remediation: remediation, err: cause}
}

// AsError 从错误链中取出 *Error。
func AsError(err error) (*Error, bool) {
	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}
