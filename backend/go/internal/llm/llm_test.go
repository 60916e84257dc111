package llm

import (
	"asterism/backend/go/internal/config"
	"asterism/backend/go/internal/models"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	req  *Request
	text string
	err  error
}

func (f *fakeLLM) GenerateContent(_ context.Context, req *Request) (*Response, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Text: f.text}, nil
}

func TestReasoner(t *testing.T) {
	model := &fakeLLM{text: "  the answer  "}
	r := NewReasoner(model, 0.2)

	out, err := r.Reason(context.Background(), models.Task{ID: "sum", Description: "summarize"}, "\nTask 1 (a): ✓\nResult: 42\n")
	require.NoError(t, err)
	require.Equal(t, "the answer", out)
	require.Equal(t, reasonerSystemPrompt, model.req.System)
	require.Equal(t, float32(0.2), model.req.Temperature)
	require.Contains(t, model.req.Messages[0].Content, "Description: summarize")
	require.Contains(t, model.req.Messages[0].Content, "Result: 42")

	_, err = r.Reason(context.Background(), models.Task{ID: "x"}, "")
	require.NoError(t, err)
	require.Contains(t, model.req.Messages[0].Content, "(no previous results)")

	model.text = "   "
	_, err = r.Reason(context.Background(), models.Task{ID: "x"}, "")
	require.EqualError(t, err, "model returned an empty response")

	model.err = errors.New("quota exceeded")
	_, err = r.Reason(context.Background(), models.Task{ID: "x"}, "")
	require.EqualError(t, err, "quota exceeded")
}

func TestOpenAI_GenerateContent(t *testing.T) {
	var got map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`)
	}))
	defer ts.Close()

	c := NewOpenAI("gpt-test", "sk-test", ts.URL)
	resp, err := c.GenerateContent(context.Background(), &Request{
		System:      "sys",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: 0.3,
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Text)
	require.Equal(t, "gpt-test", resp.Model)

	messages := got["messages"].([]interface{})
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	require.Equal(t, "hi", messages[1].(map[string]interface{})["content"])
	require.InDelta(t, 0.3, got["temperature"], 1e-6)
}

func TestOllama_GenerateContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sys", req["system"])
		require.Equal(t, "first\n\nsecond", req["prompt"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3","response":"pong","done":true}`)
	}))
	defer ts.Close()

	c, err := NewOllama("llama3", ts.URL)
	require.NoError(t, err)
	resp, err := c.GenerateContent(context.Background(), &Request{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "first"}, {Role: RoleUser, Content: "second"}},
	})
	require.NoError(t, err)
	require.Equal(t, "pong", resp.Text)
	require.Equal(t, "llama3", resp.Model)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(context.Background(), config.LLMConfig{})
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = NewClient(context.Background(), config.LLMConfig{Provider: "huggingface"})
	require.EqualError(t, err, "unsupported LLM provider: huggingface")

	_, err = NewClient(context.Background(), config.LLMConfig{Provider: "openai"})
	require.Error(t, err)

	c, err = NewClient(context.Background(), config.LLMConfig{Provider: "ollama", Ollama: config.OllamaConfig{Host: "http://localhost:11434", Model: "llama3"}})
	require.NoError(t, err)
	require.IsType(t, &Ollama{}, c)
}
