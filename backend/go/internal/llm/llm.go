package llm

import (
	"asterism/backend/go/internal/config"
	"context"
	"fmt"
	"strings"
)

// Role 定义了消息发送者的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是一条对话消息。
type Message struct {
	Role    Role
	Content string
}

// Request 是一次文本生成请求。
type Request struct {
	System      string
	Messages    []Message
	Temperature float32
}

// Response 是一次文本生成的结果。
type Response struct {
	Text  string
	Model string
}

// LLM 定义了所有大型语言模型客户端必须实现的通用接口。
type LLM interface {
	GenerateContent(ctx context.Context, req *Request) (*Response, error)
}

// NewClient 是一个工厂函数，根据提供的配置创建并返回一个实现了 LLM 接口的客户端。
// Provider 为空时返回 nil，表示不启用纯推理任务。
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLM, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		if cfg.OpenAI.Model == "" {
			return nil, fmt.Errorf("no model configured for openai provider")
		}
		return NewOpenAI(cfg.OpenAI.Model, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL), nil
	case "ollama":
		if cfg.Ollama.Model == "" {
			return nil, fmt.Errorf("no model configured for ollama provider")
		}
		return NewOllama(cfg.Ollama.Model, cfg.Ollama.Host)
	case "gemini":
		if cfg.Gemini.Model == "" {
			return nil, fmt.Errorf("no model configured for gemini provider")
		}
		return NewGemini(ctx, cfg.Gemini.Model, cfg.Gemini.APIKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// flatten 把系统提示和消息拼成单个提示，供只接受纯文本的接口使用。
func flatten(req *Request) string {
	var sb strings.Builder
	for i, m := range req.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}
