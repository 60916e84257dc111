package models

import (
	"fmt"
	"sort"
	"strings"
)

// ConfigError 表示未知或已禁用的服务/工具，不会发生任何 I/O。
type ConfigError struct {
	Server  string
	Tool    string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// SetupError 表示传输层无法建立会话，这是唯一会向调用方抛出的致命错误。
type SetupError struct {
	Transport string
	Err       error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s transport setup failed: %v", e.Transport, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// CallError 表示单次 RPC 调用失败，会话仍可继续使用。
type CallError struct {
	Method string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// DependencyError 列出任务未满足的依赖。
type DependencyError struct {
	// Unmet 以任务ID为键，值为缺失的依赖ID。
	Unmet map[string][]string
}

// Error 按任务ID排序输出，保证信息稳定。
func (e *DependencyError) Error() string {
	ids := make([]string, 0, len(e.Unmet))
	for id := range e.Unmet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s -> [%s]", id, strings.Join(e.Unmet[id], ", ")))
	}
	return "dependencies not satisfied: " + strings.Join(parts, "; ")
}

// MissingIDs 返回所有缺失的依赖ID（去重、排序）。
func (e *DependencyError) MissingIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, deps := range e.Unmet {
		for _, d := range deps {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// DecodeError 表示载荷无法解析；调用方会退化为原始文本包装。
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
