// Package mcp 维护工具服务目录，并把 "server:tool" 调用路由到对应的传输会话。
package mcp

import (
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/circuitbreaker"
	"asterism/backend/go/pkg/logger"
	"asterism/backend/go/pkg/mcp_host"
	"asterism/backend/go/pkg/ratelimiter"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TransportFactory 为服务描述创建一个未启动的传输。
type TransportFactory func(d models.ServerDescriptor) (mcp_host.Transport, error)

// Registry 持有服务目录以及每个服务的惰性连接。它以引用方式传递，不是全局单例。
type Registry struct {
	servers map[string]models.ServerDescriptor
	names   []string
	factory TransportFactory
	log     *logger.Logger

	breakerSettings *circuitbreaker.Settings
	limiterSettings *ratelimiter.Settings

	mu    sync.Mutex
	conns map[string]*serverConn
}

// serverConn 串行化同一服务的启动，不同服务之间互不阻塞。
type serverConn struct {
	mu        sync.Mutex
	transport mcp_host.Transport
	breaker   *circuitbreaker.Breaker
	limiter   ratelimiter.RateLimiter
}

// Option 定义了配置 Registry 的函数。
type Option func(*Registry)

// WithTransportFactory 替换传输的创建方式，测试中用于注入假传输。
func WithTransportFactory(f TransportFactory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithTransportOptions 使用默认工厂，并为每个传输追加选项。
func WithTransportOptions(opts ...mcp_host.Option) Option {
	return func(r *Registry) { r.factory = DefaultTransportFactory(opts...) }
}

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithCircuitBreaker 为每个服务启用熔断。
func WithCircuitBreaker(s circuitbreaker.Settings) Option {
	return func(r *Registry) { r.breakerSettings = &s }
}

// WithRateLimiter 为每个服务启用限流。
func WithRateLimiter(s ratelimiter.Settings) Option {
	return func(r *Registry) { r.limiterSettings = &s }
}

// DefaultTransportFactory 根据描述中的传输类型创建传输，并带上服务声明的环境变量。
func DefaultTransportFactory(opts ...mcp_host.Option) TransportFactory {
	return func(d models.ServerDescriptor) (mcp_host.Transport, error) {
		all := append([]mcp_host.Option{}, opts...)
		all = append(all, mcp_host.WithEnv(d.Env))
		return mcp_host.New(d.Transport, all...)
	}
}

// NewRegistry 创建注册表。重复的服务名以后出现的为准。
func NewRegistry(servers []models.ServerDescriptor, opts ...Option) (*Registry, error) {
	r := &Registry{
		servers: make(map[string]models.ServerDescriptor, len(servers)),
		factory: DefaultTransportFactory(),
		log:     logger.Discard(),
		conns:   make(map[string]*serverConn),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, d := range servers {
		if _, seen := r.servers[d.Name]; !seen {
			r.names = append(r.names, d.Name)
		}
		r.servers[d.Name] = d
	}
	sort.Strings(r.names)

	for _, name := range r.names {
		conn := &serverConn{}
		if r.breakerSettings != nil {
			conn.breaker = circuitbreaker.New(name, *r.breakerSettings)
		}
		if r.limiterSettings != nil {
			limiter, err := ratelimiter.New(*r.limiterSettings)
			if err != nil {
				return nil, fmt.Errorf("创建服务 %s 的限流器失败: %w", name, err)
			}
			conn.limiter = limiter
		}
		r.conns[name] = conn
	}
	return r, nil
}

// IsServerEnabled 判断服务是否存在且已启用。
func (r *Registry) IsServerEnabled(server string) bool {
	d, ok := r.servers[server]
	return ok && d.Enabled
}

// ValidateToolCall 校验服务已启用且声明了该工具，失败时返回 *models.ConfigError。
func (r *Registry) ValidateToolCall(server, tool string) error {
	if !r.IsServerEnabled(server) {
		return &models.ConfigError{
			Server:  server,
			Tool:    tool,
			Message: fmt.Sprintf("MCP server '%s' is not enabled", server),
		}
	}
	if !r.servers[server].HasTool(tool) {
		return &models.ConfigError{
			Server:  server,
			Tool:    tool,
			Message: fmt.Sprintf("Tool '%s' is not available on server '%s'", tool, server),
		}
	}
	return nil
}

// GetAvailableTools 返回每个已启用服务声明的工具。
func (r *Registry) GetAvailableTools() map[string][]string {
	out := make(map[string][]string)
	for _, name := range r.names {
		d := r.servers[name]
		if !d.Enabled {
			continue
		}
		out[name] = append([]string(nil), d.Tools...)
	}
	return out
}

// Servers 返回按名称排序的全部服务描述。
func (r *Registry) Servers() []models.ServerDescriptor {
	out := make([]models.ServerDescriptor, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.servers[name])
	}
	return out
}

// ListTools 启动服务（如有必要）并返回服务端实际提供的工具。
func (r *Registry) ListTools(ctx context.Context, server string) ([]string, error) {
	if !r.IsServerEnabled(server) {
		return nil, &models.ConfigError{Server: server, Message: fmt.Sprintf("MCP server '%s' is not enabled", server)}
	}
	t, err := r.connect(ctx, server)
	if err != nil {
		return nil, err
	}
	return t.ListTools(ctx), nil
}

// ExecuteTool 校验并把调用转发给服务的传输。
//
// 配置错误、限流、熔断以及调用失败都以失败结果返回；
// 只有传输无法建立时才返回 *models.SetupError。
func (r *Registry) ExecuteTool(ctx context.Context, server, tool string, args map[string]interface{}) (models.ToolResult, error) {
	log := r.log.With("server", server).With("tool", tool)

	if err := r.ValidateToolCall(server, tool); err != nil {
		log.Warn(err.Error())
		return models.Failed(err), nil
	}

	conn := r.conn(server)
	if conn.limiter != nil && !conn.limiter.Allow() {
		err := fmt.Errorf("rate limit exceeded for MCP server '%s'", server)
		log.Warn(err.Error())
		return models.Failed(err), nil
	}
	if conn.breaker != nil {
		if err := conn.breaker.Allow(); err != nil {
			log.Warn(err.Error())
			return models.Failed(err), nil
		}
	}

	t, err := r.connect(ctx, server)
	if err != nil {
		if conn.breaker != nil {
			conn.breaker.Record(false)
		}
		log.WithError(models.NewErrorInfo(err)).Error("传输建立失败")
		return models.Failed(err), err
	}

	start := time.Now()
	res := t.ExecuteTool(ctx, tool, args)
	if conn.breaker != nil {
		// 只有传输或协议层失败计入熔断，工具返回的 isError 说明服务仍然健康
		conn.breaker.Record(!res.Fault)
	}
	log = log.With("duration_ms", time.Since(start).Milliseconds())
	if res.Success {
		log.Debug("工具调用成功")
	} else {
		log.With("error", res.Error).Warn("工具调用失败")
	}
	return res, nil
}

// Start 立即启动所有已启用的服务，返回遇到的所有建立错误。
func (r *Registry) Start(ctx context.Context) error {
	var errs []error
	for _, name := range r.names {
		if !r.servers[name].Enabled {
			continue
		}
		if _, err := r.connect(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 停止所有已启动的传输。
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.names {
		conn := r.conn(name)
		conn.mu.Lock()
		if conn.transport != nil {
			if err := conn.transport.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			}
			conn.transport = nil
		}
		conn.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (r *Registry) conn(server string) *serverConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[server]
}

// connect 返回服务的存活传输，必要时创建并启动。已死亡的传输会被重新启动。
func (r *Registry) connect(ctx context.Context, server string) (mcp_host.Transport, error) {
	d := r.servers[server]
	conn := r.conn(server)

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.transport != nil && conn.transport.IsAlive() {
		return conn.transport, nil
	}
	if conn.transport == nil {
		t, err := r.factory(d)
		if err != nil {
			return nil, &models.SetupError{Transport: string(d.Transport), Err: err}
		}
		conn.transport = t
	}

	var err error
	switch d.Transport {
	case models.TransportStdio:
		err = conn.transport.Start(ctx, d.Command(), d.Args())
	default:
		err = conn.transport.Start(ctx, d.Name, d.Connection)
	}
	if err != nil {
		var setupErr *models.SetupError
		if !errors.As(err, &setupErr) {
			err = &models.SetupError{Transport: string(d.Transport), Err: err}
		}
		return nil, err
	}
	r.log.With("server", server).With("transport", string(d.Transport)).Info("MCP 服务已连接")
	return conn.transport, nil
}
