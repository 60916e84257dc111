package executor

import (
	"asterism/backend/go/internal/models"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubReasoner struct {
	history string
	err     error
}

func (s *stubReasoner) Reason(_ context.Context, task models.Task, history string) (string, error) {
	s.history = history
	if s.err != nil {
		return "", s.err
	}
	return "summary of " + task.ID, nil
}

func TestRunner_ConfigErrorWithoutIO(t *testing.T) {
	tools := newFakeTools()
	r := NewRunner(tools)

	res, err := r.Run(context.Background(), "r", models.Task{ID: "t", ToolCall: "web:fetch"}, nil)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "MCP server 'web' is not enabled", res.Error)
	require.Empty(t, tools.called())

	res, err = r.Run(context.Background(), "r", models.Task{ID: "t", ToolCall: "nocolon"}, nil)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "invalid tool call")
}

func TestRunner_ReasoningTasks(t *testing.T) {
	prior := []models.TaskResult{{TaskID: "a", Success: true, Result: strings.Repeat("x", 50)}}

	res, err := NewRunner(nil).Run(context.Background(), "r", models.Task{ID: "sum"}, prior)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "no reasoner configured")

	reasoner := &stubReasoner{}
	res, err = NewRunner(nil, WithReasoner(reasoner), WithPreviewLength(10)).Run(context.Background(), "r", models.Task{ID: "sum"}, prior)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "summary of sum", res.Result)
	require.Contains(t, reasoner.history, "xxxxxxxxxx... [truncated]")
	// 存储的结果不截断
	require.Len(t, prior[0].Result, 50)

	reasoner.err = errors.New("quota")
	res, _ = NewRunner(nil, WithReasoner(reasoner)).Run(context.Background(), "r", models.Task{ID: "sum"}, nil)
	require.False(t, res.Success)
	require.Equal(t, "reasoning failed: quota", res.Error)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, models.Task, map[string]interface{}, []models.TaskResult) (map[string]interface{}, error) {
	return nil, errors.New("resolver down")
}

type emptyResolver struct{}

func (emptyResolver) Resolve(context.Context, models.Task, map[string]interface{}, []models.TaskResult) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func TestRunner_ResolverFailuresKeepOriginalInput(t *testing.T) {
	tk := models.Task{ID: "t", ToolCall: "fs:read", ToolInput: map[string]interface{}{"path": "a.txt"}}

	for _, resolver := range []InputResolver{failingResolver{}, emptyResolver{}} {
		tools := newFakeTools()
		res, err := NewRunner(tools, WithInputResolver(resolver)).Run(context.Background(), "r", tk, nil)
		require.NoError(t, err)
		require.True(t, res.Success)
		require.Equal(t, map[string]interface{}{"path": "a.txt"}, tools.inputs["read"])
	}
}

func TestRunner_PlaceholderResolverDoesNotMutateTask(t *testing.T) {
	tools := newFakeTools()
	tk := models.Task{ID: "t", ToolCall: "fs:read", ToolInput: map[string]interface{}{"path": "{{a.tool}}.txt"}}
	prior := []models.TaskResult{{TaskID: "a", Success: true, Result: map[string]interface{}{"tool": "list"}}}

	res, err := NewRunner(tools, WithInputResolver(PlaceholderResolver{})).Run(context.Background(), "r", tk, prior)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "list.txt", tools.inputs["read"]["path"])
	require.Equal(t, "{{a.tool}}.txt", tk.ToolInput["path"])
}

func TestRunner_EmitsProgress(t *testing.T) {
	tools := newFakeTools()
	tools.fail["read"] = true
	sink := &recordingSink{}
	r := NewRunner(tools, WithProgressSink(sink))

	_, err := r.Run(context.Background(), "r", models.Task{ID: "t", ToolCall: "fs:read"}, nil)
	require.NoError(t, err)
	require.Equal(t, []models.TaskLogStatus{models.StatusCallingMCPTool, models.StatusTaskFailed}, sink.statuses())
	require.Equal(t, "t", sink.entries[1].TaskID)
	require.Equal(t, "read exploded", sink.entries[1].Message)
}
