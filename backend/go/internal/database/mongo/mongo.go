package mongo

import (
	"asterism/backend/go/internal/config"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NewClient 连接到 MongoDB 并检查连通性。
func NewClient(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("未配置 MongoDB 地址")
	}
	// 应用连接URI。
	clientOptions := options.Client().ApplyURI(cfg.Address)
	// 如果配置了用户名和密码，则设置认证信息。
	if cfg.Username != "" && cfg.Password != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("无法连接到 MongoDB: %w", err)
	}
	if err = c.Ping(ctx, nil); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("无法 Ping MongoDB: %w", err)
	}
	return c, nil
}

// HealthCheck 检查 MongoDB 连接的健康状况。
func HealthCheck(ctx context.Context, c *mongo.Client) error {
	if c == nil {
		return fmt.Errorf("MongoDB 客户端未初始化")
	}
	return c.Ping(ctx, nil)
}
