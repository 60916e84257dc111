package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是一个用于 Ollama API 的 LLM 客户端。
type Ollama struct {
	client *olla.Client // Ollama 客户端实例。
	model  string       // 要使用的模型名称。
}

// NewOllama 创建一个新的 Ollama 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则读取 OLLAMA_HOST 环境变量。
//
// 返回值:
//
//	*Ollama: 新创建的 Ollama 客户端实例。
//	error: 如果基准 URL 无效，则返回错误。
func NewOllama(model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		client, err := olla.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("invalid OLLAMA_HOST: %w", err)
		}
		return &Ollama{client: client, model: model}, nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	hc := &http.Client{
		Timeout: 120 * time.Second,
	}
	return &Ollama{client: olla.NewClient(parsedURL, hc), model: model}, nil
}

// GenerateContent 使用 Ollama 的 generate 接口生成内容（非流式）。
//
// 参数:
//
//	ctx: 上下文，用于控制请求的生命周期。
//	req: 生成内容请求。
//
// 返回值:
//
//	*Response: 生成内容的响应。
//	error: 如果生成内容失败，则返回错误。
func (o *Ollama) GenerateContent(ctx context.Context, req *Request) (*Response, error) {
	stream := false
	var result olla.GenerateResponse

	err := o.client.Generate(ctx, &olla.GenerateRequest{
		Model:   o.model,
		System:  req.System,
		Prompt:  flatten(req),
		Stream:  &stream,
		Options: map[string]interface{}{"temperature": req.Temperature},
	}, func(resp olla.GenerateResponse) error {
		result = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with ollama: %w", err)
	}
	return &Response{Text: result.Response, Model: result.Model}, nil
}
