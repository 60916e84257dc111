package llm

import (
	"asterism/backend/go/internal/models"
	"context"
	"errors"
	"fmt"
	"strings"
)

const reasonerSystemPrompt = `You are the reasoning step of a task execution agent.
Complete the task using only the execution history provided.
Answer with the result of the task, without restating the instructions.`

// Reasoner 用 LLM 完成没有工具调用的任务。
type Reasoner struct {
	model       LLM
	temperature float32
}

// NewReasoner 创建推理器。
func NewReasoner(model LLM, temperature float32) *Reasoner {
	return &Reasoner{model: model, temperature: temperature}
}

// Reason 根据任务描述和前序结果生成回答。
func (r *Reasoner) Reason(ctx context.Context, task models.Task, history string) (string, error) {
	resp, err := r.model.GenerateContent(ctx, &Request{
		System:      reasonerSystemPrompt,
		Messages:    []Message{{Role: RoleUser, Content: buildTaskPrompt(task, history)}},
		Temperature: r.temperature,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("model returned an empty response")
	}
	return text, nil
}

func buildTaskPrompt(task models.Task, history string) string {
	if strings.TrimSpace(history) == "" {
		history = "\n(no previous results)\n"
	}
	return fmt.Sprintf("=== EXECUTION HISTORY ===\n%s\n=== TASK ===\nTask ID: %s\nDescription: %s\n",
		history, task.ID, task.Description)
}
