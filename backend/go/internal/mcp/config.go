package mcp

import (
	"asterism/backend/go/internal/config"
	"asterism/backend/go/pkg/circuitbreaker"
	"asterism/backend/go/pkg/logger"
	"asterism/backend/go/pkg/mcp_host"
	"asterism/backend/go/pkg/ratelimiter"
	"fmt"
)

// OptionsFromConfig 把 mcp 与 middleware 配置转换为注册表选项。
func OptionsFromConfig(cfg *config.AppConfig, log *logger.Logger) []Option {
	opts := []Option{
		WithLogger(log),
		WithTransportOptions(
			mcp_host.WithTimeout(cfg.MCP.CallTimeout()),
			mcp_host.WithClientInfo(cfg.MCP.ClientName, cfg.MCP.ClientVersion),
			mcp_host.WithLogger(log),
		),
	}

	if rl := cfg.Middleware.RateLimiter; rl.Enabled {
		opts = append(opts, WithRateLimiter(ratelimiter.Settings{
			Algorithm: rl.Algorithm,
			Rate:      rl.TokenBucket.Rate,
			Capacity:  rl.TokenBucket.Capacity,
			Limit:     rl.FixedWindow.Limit,
			Window:    rl.FixedWindow.WindowDuration(),
		}))
	}
	if cb := cfg.Middleware.CircuitBreaker; cb.Enabled {
		opts = append(opts, WithCircuitBreaker(circuitbreaker.Settings{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			OpenTimeout:      cb.OpenTimeout(),
		}))
	}
	return opts
}

// NewRegistryFromConfig 加载服务目录并创建注册表。
func NewRegistryFromConfig(cfg *config.AppConfig, log *logger.Logger) (*Registry, error) {
	servers, err := config.LoadServers(cfg.ServersPath())
	if err != nil {
		return nil, fmt.Errorf("加载服务目录失败: %w", err)
	}
	return NewRegistry(servers, OptionsFromConfig(cfg, log)...)
}
