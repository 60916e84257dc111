package models

import "errors"

// ErrorInfo 存储了关于错误的结构化信息。
type ErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"` // 错误的类型，例如 "setup_error", "dependency_error"
}

// NewErrorInfo 根据错误值构造 ErrorInfo，并按错误链中的分类填充 Type。
func NewErrorInfo(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	info := ErrorInfo{Message: err.Error()}
	var (
		configErr *ConfigError
		setupErr  *SetupError
		callErr   *CallError
		depErr    *DependencyError
		decodeErr *DecodeError
	)
	switch {
	case errors.As(err, &setupErr):
		info.Type = "setup_error"
	case errors.As(err, &configErr):
		info.Type = "config_error"
	case errors.As(err, &callErr):
		info.Type = "call_error"
	case errors.As(err, &depErr):
		info.Type = "dependency_error"
	case errors.As(err, &decodeErr):
		info.Type = "decode_error"
	}
	return info
}
