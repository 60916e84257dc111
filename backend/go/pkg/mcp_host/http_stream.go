package mcp_host

import (
	"asterism/backend/go/internal/models"
	"context"

	"github.com/mark3labs/mcp-go/client/transport"
)

// SessionHeader 是流式 HTTP 传输中携带会话ID的请求头。
const SessionHeader = transport.HeaderKeySessionID

// HTTPStreamTransport 每次调用都是一次独立的 POST 往返，
// 回复在响应体中以 JSON 或事件帧返回。
type HTTPStreamTransport struct {
	base
}

// NewHTTPStreamTransport 创建一个未连接的流式 HTTP 传输。
func NewHTTPStreamTransport(opts ...Option) *HTTPStreamTransport {
	t := &HTTPStreamTransport{}
	t.init(models.TransportHTTPStream, opts)
	return t
}

// Start 向 args[0] 发送 initialize，记录服务端分配的会话ID后发送 initialized 通知。
func (t *HTTPStreamTransport) Start(ctx context.Context, identifier string, args []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reuse() {
		return nil
	}
	if len(args) == 0 || args[0] == "" {
		return setupError(models.TransportHTTPStream, "http_stream transport requires server URL in args")
	}

	log := t.opts.logger.With("server", identifier)
	conn, err := transport.NewStreamableHTTP(args[0],
		transport.WithHTTPBasicClient(t.opts.httpClient),
		transport.WithHTTPLogger(mcpLogger{log: log}),
	)
	if err != nil {
		return setupError(models.TransportHTTPStream, "invalid server URL %q: %v", args[0], err)
	}
	s := newSession(log)
	s.conn = conn
	if err := conn.Start(ctx); err != nil {
		s.close()
		return setupError(models.TransportHTTPStream, "start: %v", err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, t.opts.timeout)
	defer cancel()
	if err := s.handshake(hsCtx, t.opts, false); err != nil {
		s.close()
		return setupError(models.TransportHTTPStream, "%v", err)
	}
	t.cur = s
	log.Info("http_stream 会话已建立")
	return nil
}

// SessionID 返回服务端分配的会话ID，没有时为空。
func (t *HTTPStreamTransport) SessionID() string {
	s := t.current()
	if s == nil || s.conn == nil {
		return ""
	}
	return s.conn.GetSessionId()
}
