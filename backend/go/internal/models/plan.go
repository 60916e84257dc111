package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task 是计划中的一个执行单元，由规划器创建后不可变。
type Task struct {
	ID          string                 `json:"id" yaml:"id"`                                     // 计划内唯一的任务ID
	Description string                 `json:"description" yaml:"description"`                   // 任务描述
	ToolCall    string                 `json:"tool_call,omitempty" yaml:"tool_call,omitempty"`   // "server:tool" 形式的工具标识，为空表示纯推理任务
	ToolInput   map[string]interface{} `json:"tool_input,omitempty" yaml:"tool_input,omitempty"` // 工具参数
	DependsOn   []string               `json:"depends_on,omitempty" yaml:"depends_on,omitempty"` // 依赖的任务ID（有序）
}

// IsToolBacked 判断任务是否需要调用 MCP 工具。
func (t Task) IsToolBacked() bool {
	return strings.TrimSpace(t.ToolCall) != ""
}

// Plan 是一次规划周期的产物，重新规划时整体替换。
type Plan struct {
	Tasks     []Task `json:"tasks" yaml:"tasks"`
	Reasoning string `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
}

// TaskByID 根据ID查找任务。
func (p *Plan) TaskByID(id string) (Task, bool) {
	if p == nil {
		return Task{}, false
	}
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Fingerprint 返回计划任务列表的摘要，用于区分同一运行中先后出现的计划。
// 任务ID可以在重新规划后复用，因此只能按内容区分。nil 计划返回空串。
func (p *Plan) Fingerprint() string {
	if p == nil {
		return ""
	}
	data, err := json.Marshal(p.Tasks)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// TaskResult 记录一次任务执行的结果，只追加不修改。
type TaskResult struct {
	TaskID    string      `json:"task_id" bson:"task_id"`
	PlanKey   string      `json:"plan_key,omitempty" bson:"plan_key,omitempty"` // 产生该结果的计划的 Fingerprint
	Success   bool        `json:"success" bson:"success"`
	Result    interface{} `json:"result,omitempty" bson:"result,omitempty"`
	Error     string      `json:"error,omitempty" bson:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp"`
}

// NewTaskResult 由工具调用结果构造任务结果。
func NewTaskResult(taskID string, res ToolResult) TaskResult {
	return TaskResult{
		TaskID:    taskID,
		Success:   res.Success,
		Result:    res.Result,
		Error:     res.Error,
		Timestamp: time.Now(),
	}
}

// ToolResult 是单次工具调用的结构化结果：{success, result|error}。
type ToolResult struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Fault 为 true 表示调用本身失败（传输或协议层的 *CallError），
	// 工具自己报告的错误不算。
	Fault bool `json:"-"`
}

// Succeeded 构造一个成功的工具结果。
func Succeeded(result interface{}) ToolResult {
	return ToolResult{Success: true, Result: result}
}

// Failed 构造一个失败的工具结果。
func Failed(err error) ToolResult {
	var callErr *CallError
	return ToolResult{Success: false, Error: err.Error(), Fault: errors.As(err, &callErr)}
}

// ParseToolCall 将 "server:tool" 拆分为服务名和工具名。
func ParseToolCall(toolCall string) (server, tool string, err error) {
	server, tool, found := strings.Cut(strings.TrimSpace(toolCall), ":")
	if !found || server == "" || tool == "" {
		return "", "", &ConfigError{Message: fmt.Sprintf("invalid tool call %q, expected \"server:tool\"", toolCall)}
	}
	return server, tool, nil
}
