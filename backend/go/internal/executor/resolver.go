package executor

import (
	"asterism/backend/go/internal/models"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+)((?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// PlaceholderResolver 替换字符串参数中的 {{task_id.path}} 引用。
//
// 只引用成功的前序结果。字符串完全等于一个占位符时替换为原始值（保留类型），
// 否则按文本拼接。无法解析的占位符保持原样。
type PlaceholderResolver struct{}

// Resolve 实现 InputResolver。
func (PlaceholderResolver) Resolve(_ context.Context, _ models.Task, input map[string]interface{}, results []models.TaskResult) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(results))
	for _, r := range results {
		if r.Success {
			values[r.TaskID] = r.Result
		}
	}
	out, ok := resolveValue(input, values).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("resolved input is not an object")
	}
	return out, nil
}

func resolveValue(v interface{}, values map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return resolveString(val, values)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = resolveValue(item, values)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, values)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, values map[string]interface{}) interface{} {
	if m := placeholderPattern.FindStringSubmatch(s); m != nil && m[0] == strings.TrimSpace(s) {
		if v, ok := lookup(values, m[1], m[2]); ok {
			return v
		}
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := placeholderPattern.FindStringSubmatch(match)
		v, ok := lookup(values, m[1], m[2])
		if !ok {
			return match
		}
		return stringify(v)
	})
}

// lookup 沿点号路径查找值，支持对象字段和数组下标。
func lookup(values map[string]interface{}, taskID, path string) (interface{}, bool) {
	cur, ok := values[taskID]
	if !ok {
		return nil, false
	}
	if path == "" {
		return cur, true
	}
	for _, key := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
