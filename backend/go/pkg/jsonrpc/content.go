package jsonrpc

import (
	"asterism/backend/go/internal/models"
	"encoding/json"
	"fmt"
	"strings"
)

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError,omitempty"`
}

type toolDescriptor struct {
	Name string `json:"name"`
}

type listToolsResult struct {
	Tools []toolDescriptor `json:"tools"`
}

// DecodeToolResult 把 tools/call 的回复转换为 ToolResult。
//
// 文本内容会被尝试当作 JSON 解析；解析失败时包装为 {"text": 原文}，
// 内容列表为空时返回空映射。
func DecodeToolResult(resp *Response) models.ToolResult {
	if resp.Error != nil {
		return models.Failed(&models.CallError{Method: MethodToolsCall, Err: resp.Error})
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return models.Succeeded(wrapText(string(resp.Result)))
	}

	texts := make([]string, 0, len(result.Content))
	var others []interface{}
	for _, raw := range result.Content {
		var item contentItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if item.Type == "text" {
			texts = append(texts, item.Text)
			continue
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err == nil {
			others = append(others, generic)
		}
	}

	if result.IsError {
		msg := strings.Join(texts, "\n")
		if msg == "" {
			msg = "tool reported an error"
		}
		// 工具执行失败，服务本身正常，不标记为 Fault
		return models.Failed(fmt.Errorf("%s failed: %s", MethodToolsCall, msg))
	}

	switch {
	case len(texts) > 0:
		return models.Succeeded(DecodeText(texts[0]))
	case len(others) > 0:
		return models.Succeeded(map[string]interface{}{"content": others})
	default:
		return models.Succeeded(map[string]interface{}{})
	}
}

// DecodeText 尝试把文本当作 JSON 解析，失败时退化为 {"text": raw}。
func DecodeText(raw string) interface{} {
	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return wrapText(raw)
	}
	return decoded
}

func wrapText(raw string) map[string]interface{} {
	return map[string]interface{}{"text": raw}
}

// DecodeToolNames 从 tools/list 的回复中提取工具名。
func DecodeToolNames(resp *Response) ([]string, error) {
	if resp.Error != nil {
		return nil, &models.CallError{Method: MethodToolsList, Err: resp.Error}
	}
	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &models.DecodeError{Raw: string(resp.Result), Err: err}
	}
	names := make([]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return names, nil
}
