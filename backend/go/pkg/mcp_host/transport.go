package mcp_host

import (
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/logger"
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout 是握手与单次调用的默认超时时间。
const DefaultTimeout = 30 * time.Second

// Transport 是与单个 MCP 服务通信的会话对象。
// 三种实现（stdio、sse、http_stream）都建立在 mcp-go 的 client/transport 之上，
// 请求ID由会话自己的 jsonrpc.IDSequence 分配。
type Transport interface {
	// Start 建立会话。任何建立失败都返回 *models.SetupError，且传输不会处于存活状态。
	Start(ctx context.Context, identifier string, args []string) error
	// IsAlive 仅在会话句柄、地址/进程以及握手都就绪时返回 true。
	IsAlive() bool
	// ExecuteTool 调用工具；超时、网络错误等都转换为失败结果而不是阻塞或返回错误。
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) models.ToolResult
	// ListTools 列出服务端工具；未初始化或失败时返回空列表。
	ListTools(ctx context.Context) []string
	// Stop 释放进程/连接/会话并重置为未连接状态。
	Stop() error
}

type options struct {
	timeout       time.Duration
	clientName    string
	clientVersion string
	env           []string
	httpClient    *http.Client
	logger        *logger.Logger
}

// Option 定义了配置 Transport 的函数。
type Option func(*options)

// WithTimeout 设置握手与单次调用的超时时间。
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClientInfo 设置 initialize 时上报的客户端信息。
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		o.clientName = name
		o.clientVersion = version
	}
}

// WithEnv 为 stdio 子进程追加环境变量（KEY=VALUE）。
func WithEnv(env []string) Option {
	return func(o *options) {
		o.env = append(o.env, env...)
	}
}

// WithHTTPClient 替换网络传输使用的 HTTP 客户端。
// 事件订阅连接是长连接，客户端本身不应设置 Timeout。
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(kind models.TransportKind, opts []Option) options {
	o := options{
		timeout:       DefaultTimeout,
		clientName:    "asterism",
		clientVersion: "1.0.0",
		httpClient:    &http.Client{},
		logger:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("transport", string(kind))
	return o
}

// New 根据传输类型创建对应的 Transport。类型区分大小写。
func New(kind models.TransportKind, opts ...Option) (Transport, error) {
	switch kind {
	case models.TransportStdio:
		return NewStdioTransport(opts...), nil
	case models.TransportSSE:
		return NewSSETransport(opts...), nil
	case models.TransportHTTPStream:
		return NewHTTPStreamTransport(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", kind)
	}
}

// mcpLogger 把 mcp-go 传输内部的日志接到 logrus。
type mcpLogger struct {
	log *logger.Logger
}

func (l mcpLogger) Infof(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l mcpLogger) Errorf(format string, v ...any) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func setupError(kind models.TransportKind, format string, args ...interface{}) *models.SetupError {
	return &models.SetupError{Transport: string(kind), Err: fmt.Errorf(format, args...)}
}

func notConnected(kind models.TransportKind) models.ToolResult {
	return models.Failed(&models.CallError{
		Method: "tools/call",
		Err:    fmt.Errorf("%s transport is not connected", kind),
	})
}
