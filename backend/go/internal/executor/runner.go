package executor

import (
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"time"
)

// ToolExecutor 是 Runner 需要的注册表能力，*mcp.Registry 实现了它。
type ToolExecutor interface {
	ValidateToolCall(server, tool string) error
	ExecuteTool(ctx context.Context, server, tool string, args map[string]interface{}) (models.ToolResult, error)
}

// Reasoner 处理没有工具调用的纯推理任务。history 是已格式化的前序结果。
type Reasoner interface {
	Reason(ctx context.Context, task models.Task, history string) (string, error)
}

// InputResolver 可以根据前序结果改写工具参数。
type InputResolver interface {
	Resolve(ctx context.Context, task models.Task, input map[string]interface{}, results []models.TaskResult) (map[string]interface{}, error)
}

// ProgressSink 接收任务进度事件，kafka.LogPublisher 实现了它。
type ProgressSink interface {
	LogTaskProgress(ctx context.Context, entry *models.TaskLogEntry) error
}

// Runner 执行单个任务。
type Runner struct {
	tools         ToolExecutor
	reasoner      Reasoner
	resolver      InputResolver
	sink          ProgressSink
	previewLength int
	log           *logger.Logger
}

// RunnerOption 定义了配置 Runner 的函数。
type RunnerOption func(*Runner)

// WithReasoner 设置纯推理任务使用的推理器。
func WithReasoner(r Reasoner) RunnerOption {
	return func(rn *Runner) { rn.reasoner = r }
}

// WithInputResolver 设置参数解析器。
func WithInputResolver(r InputResolver) RunnerOption {
	return func(rn *Runner) { rn.resolver = r }
}

// WithProgressSink 设置进度事件的接收方。
func WithProgressSink(s ProgressSink) RunnerOption {
	return func(rn *Runner) { rn.sink = s }
}

// WithPreviewLength 设置推理提示中每条前序结果的最大长度。
func WithPreviewLength(n int) RunnerOption {
	return func(rn *Runner) { rn.previewLength = n }
}

// WithRunnerLogger 设置日志记录器。
func WithRunnerLogger(l *logger.Logger) RunnerOption {
	return func(rn *Runner) { rn.log = l }
}

// NewRunner 创建任务执行器。
func NewRunner(tools ToolExecutor, opts ...RunnerOption) *Runner {
	r := &Runner{
		tools:         tools,
		previewLength: DefaultPreviewLength,
		log:           logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 执行任务并返回结果。只有传输无法建立时才返回错误（*models.SetupError），
// 此时仍会返回一个失败结果。
func (r *Runner) Run(ctx context.Context, runID string, task models.Task, prior []models.TaskResult) (models.TaskResult, error) {
	log := r.log.With("run_id", runID).With("task_id", task.ID)

	var (
		res models.ToolResult
		err error
	)
	if task.IsToolBacked() {
		res, err = r.runTool(ctx, runID, task, prior, log)
	} else {
		res = r.runReasoning(ctx, runID, task, prior, log)
	}

	result := models.NewTaskResult(task.ID, res)
	if result.Success {
		r.emit(ctx, runID, task.ID, models.StatusTaskSucceeded, "任务执行成功", result.Result)
	} else {
		log.With("error", result.Error).Warn("任务执行失败")
		r.emit(ctx, runID, task.ID, models.StatusTaskFailed, result.Error, nil)
	}
	return result, err
}

func (r *Runner) runTool(ctx context.Context, runID string, task models.Task, prior []models.TaskResult, log *logger.Logger) (models.ToolResult, error) {
	server, tool, err := models.ParseToolCall(task.ToolCall)
	if err != nil {
		return models.Failed(err), nil
	}
	if r.tools == nil {
		return models.Failed(errors.New("no tool executor configured")), nil
	}
	if err := r.tools.ValidateToolCall(server, tool); err != nil {
		return models.Failed(err), nil
	}

	input := copyInput(task.ToolInput)
	if r.resolver != nil {
		resolved, err := r.resolver.Resolve(ctx, task, copyInput(task.ToolInput), prior)
		switch {
		case err != nil:
			log.With("error", err.Error()).Warn("参数解析失败，使用原始参数")
		case len(resolved) > 0:
			input = resolved
		}
	}

	r.emit(ctx, runID, task.ID, models.StatusCallingMCPTool, fmt.Sprintf("调用工具 %s", task.ToolCall), input)
	start := time.Now()
	res, err := r.tools.ExecuteTool(ctx, server, tool, input)
	log.With("tool_call", task.ToolCall).With("duration_ms", time.Since(start).Milliseconds()).Debug("工具调用结束")
	return res, err
}

func (r *Runner) runReasoning(ctx context.Context, runID string, task models.Task, prior []models.TaskResult, log *logger.Logger) models.ToolResult {
	if r.reasoner == nil {
		return models.Failed(fmt.Errorf("task %s has no tool_call and no reasoner configured", task.ID))
	}
	r.emit(ctx, runID, task.ID, models.StatusReasoning, task.Description, nil)

	out, err := r.reasoner.Reason(ctx, task, FormatResults(prior, r.previewLength))
	if err != nil {
		log.WithError(models.NewErrorInfo(err)).Error("推理失败")
		return models.Failed(fmt.Errorf("reasoning failed: %w", err))
	}
	return models.Succeeded(out)
}

// emit 发送进度事件。发送失败只记录日志。
func (r *Runner) emit(ctx context.Context, runID, taskID string, status models.TaskLogStatus, msg string, content interface{}) {
	if r.sink == nil {
		return
	}
	entry := &models.TaskLogEntry{
		RunID:     runID,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Status:    status,
		Message:   msg,
		Content:   content,
	}
	if err := r.sink.LogTaskProgress(ctx, entry); err != nil {
		r.log.With("status", string(status)).With("error", err.Error()).Warn("发送进度事件失败")
	}
}

func copyInput(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
