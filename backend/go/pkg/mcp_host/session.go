package mcp_host

import (
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/jsonrpc"
	"asterism/backend/go/pkg/logger"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	errSessionClosed = errors.New("session closed before reply arrived")
	errLineTooLong   = errors.New("reply line too long")
)

// session 把本会话的请求ID序列接到一个 mcp-go 传输上。
// life 在底层连接失效时被取消，进行中的调用随之失败。
type session struct {
	conn    transport.Interface
	ids     jsonrpc.IDSequence
	ready   atomic.Bool
	life    context.Context
	kill    context.CancelCauseFunc
	release func()
	log     *logger.Logger
}

func newSession(log *logger.Logger) *session {
	life, kill := context.WithCancelCause(context.Background())
	return &session{life: life, kill: kill, log: log}
}

func (s *session) alive() bool {
	return s.conn != nil && s.ready.Load() && s.life.Err() == nil
}

// markDead 让会话失效；已在等待的调用立即以 cause 失败。
func (s *session) markDead(cause error) {
	if s.life.Err() == nil {
		s.log.Warn(fmt.Sprintf("会话已失效: %v", cause))
	}
	s.kill(cause)
}

func (s *session) call(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error) {
	if s.life.Err() != nil {
		return nil, context.Cause(s.life)
	}
	id := s.ids.Next()
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	reply, err := s.conn.SendRequest(callCtx, jsonrpc.NewRequest(id, method, params))
	if err != nil {
		switch {
		case s.life.Err() != nil:
			return nil, context.Cause(s.life)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("timed out waiting for reply to %s (id %d)", method, id)
		case errors.Is(err, transport.ErrSessionTerminated):
			// 会话已被服务端回收
			s.markDead(err)
		}
		return nil, err
	}
	return jsonrpc.FromTransport(reply)
}

// handshake 发送 initialize 与 initialized 通知。
// 通知发送失败只记录警告，是否致命由 strictNotify 决定。
func (s *session) handshake(ctx context.Context, o options, strictNotify bool) error {
	resp, err := s.call(ctx, jsonrpc.MethodInitialize, jsonrpc.InitializeParams(o.clientName, o.clientVersion))
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if hc, ok := s.conn.(transport.HTTPConnection); ok {
		var result mcp.InitializeResult
		if json.Unmarshal(resp.Result, &result) == nil && result.ProtocolVersion != "" {
			hc.SetProtocolVersion(result.ProtocolVersion)
		}
	}
	if err := s.conn.SendNotification(ctx, jsonrpc.NewNotification(jsonrpc.MethodInitialized)); err != nil {
		if strictNotify {
			return fmt.Errorf("send initialized notification: %w", err)
		}
		s.log.WithError(models.NewErrorInfo(err)).Warn("initialized 通知发送失败")
	}
	s.ready.Store(true)
	return nil
}

func (s *session) executeTool(ctx context.Context, o options, name string, args map[string]interface{}) models.ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := s.call(callCtx, jsonrpc.MethodToolsCall, jsonrpc.CallToolParams(name, args))
	if err != nil {
		return models.Failed(&models.CallError{Method: jsonrpc.MethodToolsCall, Err: err})
	}
	return jsonrpc.DecodeToolResult(resp)
}

func (s *session) listTools(ctx context.Context, o options) []string {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := s.call(callCtx, jsonrpc.MethodToolsList, nil)
	if err != nil {
		s.log.WithError(models.NewErrorInfo(err)).Warn("tools/list 调用失败")
		return []string{}
	}
	names, err := jsonrpc.DecodeToolNames(resp)
	if err != nil {
		s.log.WithError(models.NewErrorInfo(err)).Warn("tools/list 回复无法解析")
		return []string{}
	}
	return names
}

func (s *session) close() {
	s.ready.Store(false)
	s.kill(errSessionClosed)
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Debug(fmt.Sprintf("关闭传输: %v", err))
		}
	}
	if s.release != nil {
		s.release()
	}
}

// base 是三种传输共用的会话管理：持有当前会话并实现 Transport 的公共方法。
type base struct {
	kind models.TransportKind
	opts options

	mu  sync.Mutex
	cur *session
}

func (b *base) init(kind models.TransportKind, opts []Option) {
	b.kind = kind
	b.opts = newOptions(kind, opts)
}

// reuse 必须在持有 mu 时调用：会话仍存活则返回 true，否则清理旧会话。
func (b *base) reuse() bool {
	if b.cur == nil {
		return false
	}
	if b.cur.alive() {
		return true
	}
	b.cur.close()
	b.cur = nil
	return false
}

func (b *base) current() *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// IsAlive 实现 Transport 接口。
func (b *base) IsAlive() bool {
	s := b.current()
	return s != nil && s.alive()
}

// ExecuteTool 实现 Transport 接口。
func (b *base) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) models.ToolResult {
	s := b.current()
	if s == nil || !s.alive() {
		return notConnected(b.kind)
	}
	return s.executeTool(ctx, b.opts, name, args)
}

// ListTools 实现 Transport 接口。
func (b *base) ListTools(ctx context.Context) []string {
	s := b.current()
	if s == nil || !s.alive() {
		return []string{}
	}
	return s.listTools(ctx, b.opts)
}

// Stop 释放当前会话并重置为未连接状态，可重复调用。
func (b *base) Stop() error {
	b.mu.Lock()
	s := b.cur
	b.cur = nil
	b.mu.Unlock()
	if s != nil {
		s.close()
	}
	return nil
}

// LastRequestID 返回当前会话最近分配的请求ID。
func (b *base) LastRequestID() int64 {
	s := b.current()
	if s == nil {
		return 0
	}
	return s.ids.Last()
}

// watchedReader 在底层读取第一次返回错误（包括 EOF）时调用 onClose。
// maxLine 大于 0 时，未结束的一行累计达到该长度也视为连接失效。
type watchedReader struct {
	r       io.Reader
	maxLine int
	line    int
	once    sync.Once
	onClose func(error)
}

func (w *watchedReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if w.maxLine > 0 && n > 0 {
		if i := bytes.LastIndexByte(p[:n], '\n'); i >= 0 {
			w.line = n - i - 1
		} else {
			w.line += n
		}
		if w.line >= w.maxLine {
			w.fire(fmt.Errorf("%w: limit is %d bytes", errLineTooLong, w.maxLine))
		}
	}
	if err != nil {
		w.fire(err)
	}
	return n, err
}

func (w *watchedReader) fire(err error) {
	if w.onClose != nil {
		w.once.Do(func() { w.onClose(err) })
	}
}
