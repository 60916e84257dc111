package executor

import (
	"asterism/backend/go/internal/models"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPreviewLength 是推理提示中单条结果的默认截断长度。
const DefaultPreviewLength = 500

const truncatedSuffix = "... [truncated]"

// FormatResults 把前序结果格式化为推理提示的历史部分。
// 只截断展示内容，存储的结果保持完整。previewLength <= 0 表示不截断。
func FormatResults(results []models.TaskResult, previewLength int) string {
	var b strings.Builder
	for i, r := range results {
		status := "✓"
		body := stringify(r.Result)
		if !r.Success {
			status = "✗"
			body = r.Error
		}
		if body == "" {
			body = "None"
		}
		fmt.Fprintf(&b, "\nTask %d (%s): %s\nResult: %s\n", i+1, r.TaskID, status, truncate(body, previewLength))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + truncatedSuffix
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
