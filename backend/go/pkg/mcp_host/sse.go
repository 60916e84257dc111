package mcp_host

import (
	"asterism/backend/go/internal/models"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
)

// SSETransport 通过长连接事件流接收回复，通过服务端宣告的消息地址 POST 请求。
type SSETransport struct {
	base
}

// NewSSETransport 创建一个未连接的 SSE 传输。
func NewSSETransport(opts ...Option) *SSETransport {
	t := &SSETransport{}
	t.init(models.TransportSSE, opts)
	return t
}

// Start 订阅 args[0] 指向的事件流，等待端点宣告后完成握手。
func (t *SSETransport) Start(ctx context.Context, identifier string, args []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reuse() {
		return nil
	}
	if len(args) == 0 || args[0] == "" {
		return setupError(models.TransportSSE, "sse transport requires server URL in args")
	}
	if _, err := url.Parse(args[0]); err != nil {
		return setupError(models.TransportSSE, "invalid server URL %q: %v", args[0], err)
	}

	log := t.opts.logger.With("server", identifier)
	s := newSession(log)
	client := watchStream(t.opts.httpClient, func(err error) {
		s.markDead(fmt.Errorf("event stream closed: %v", err))
	})
	conn, err := transport.NewSSE(args[0], transport.WithHTTPClient(client), transport.WithSSELogger(mcpLogger{log: log}))
	if err != nil {
		return setupError(models.TransportSSE, "invalid server URL %q: %v", args[0], err)
	}
	conn.SetConnectionLostHandler(func(err error) {
		s.markDead(fmt.Errorf("event stream lost: %v", err))
	})
	s.conn = conn

	// 事件流的生命周期独立于 Start 的 ctx，只有握手受超时约束
	streamCtx, cancelStream := context.WithCancel(context.Background())
	s.release = cancelStream
	timer := time.AfterFunc(t.opts.timeout, cancelStream)
	stopWatch := context.AfterFunc(ctx, cancelStream)
	err = conn.Start(streamCtx)
	timedOut := !timer.Stop()
	stopWatch()
	if err != nil {
		s.close()
		if timedOut {
			return setupError(models.TransportSSE, "timed out waiting for endpoint announcement")
		}
		return setupError(models.TransportSSE, "connect %s: %v", args[0], err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, t.opts.timeout)
	defer cancel()
	if err := s.handshake(hsCtx, t.opts, true); err != nil {
		s.close()
		return setupError(models.TransportSSE, "%v", err)
	}
	t.cur = s
	log.Info("sse 会话已建立")
	return nil
}

// MessageURL 返回服务端宣告的消息地址，未连接时为空。
func (t *SSETransport) MessageURL() string {
	s := t.current()
	if s == nil {
		return ""
	}
	conn, ok := s.conn.(*transport.SSE)
	if !ok || conn.GetEndpoint() == nil {
		return ""
	}
	return conn.GetEndpoint().String()
}

// watchStream 返回一个包装过的客户端：GET 事件流的响应体读到错误或 EOF 时调用 onClose。
func watchStream(c *http.Client, onClose func(error)) *http.Client {
	wrapped := *c
	rt := c.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	wrapped.Transport = &streamWatcher{base: rt, onClose: onClose}
	return &wrapped
}

type streamWatcher struct {
	base    http.RoundTripper
	onClose func(error)
}

func (w *streamWatcher) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := w.base.RoundTrip(req)
	if err != nil || req.Method != http.MethodGet {
		return resp, err
	}
	resp.Body = &watchedBody{
		watchedReader: &watchedReader{r: resp.Body, onClose: w.onClose},
		Closer:        resp.Body,
	}
	return resp, nil
}

type watchedBody struct {
	*watchedReader
	io.Closer
}
