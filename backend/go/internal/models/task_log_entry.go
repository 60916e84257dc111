package models

import "time"

// TaskLogStatus 定义了任务进度日志的状态枚举。
type TaskLogStatus string

const (
	StatusExecuting      TaskLogStatus = "EXECUTING"
	StatusCallingMCPTool TaskLogStatus = "CALLING_MCP_TOOL"
	StatusReasoning      TaskLogStatus = "REASONING"
	StatusTaskSucceeded  TaskLogStatus = "TASK_SUCCEEDED"
	StatusTaskFailed     TaskLogStatus = "TASK_FAILED"
	StatusFinished       TaskLogStatus = "FINISHED"
	StatusError          TaskLogStatus = "ERROR"
)

// TaskLogEntry 定义了发送到 Kafka 的任务进度日志的统一结构。
type TaskLogEntry struct {
	RunID     string        `json:"run_id"`
	TaskID    string        `json:"task_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Status    TaskLogStatus `json:"status"`
	Message   string        `json:"message"`
	Content   interface{}   `json:"content,omitempty"`
}
