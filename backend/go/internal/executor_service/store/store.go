// Package store 提供任务结果的追加式存储。
package store

import (
	"asterism/backend/go/internal/config"
	"asterism/backend/go/internal/models"
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
)

// ResultStore 追加保存任务结果，并按写入顺序读取一次运行的全部结果。
type ResultStore interface {
	Append(ctx context.Context, runID string, results ...models.TaskResult) error
	List(ctx context.Context, runID string) ([]models.TaskResult, error)
}

// Backends 是创建存储时可用的连接，按配置选择其一。
type Backends struct {
	Mongo *mongo.Database
	Redis *redis.Client
}

// New 根据配置创建结果存储。
func New(cfg config.StoreConfig, b Backends) (ResultStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "mongo":
		if b.Mongo == nil {
			return nil, fmt.Errorf("store backend mongo requires a MongoDB connection")
		}
		return NewMongoStore(b.Mongo.Collection(cfg.Collection)), nil
	case "redis":
		if b.Redis == nil {
			return nil, fmt.Errorf("store backend redis requires a Redis connection")
		}
		return NewRedisStore(b.Redis, cfg.KeyPrefix, cfg.ResultTTL()), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// MemoryStore 是进程内的结果存储，CLI 和测试使用。
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]models.TaskResult
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]models.TaskResult)}
}

// Append 实现 ResultStore。
func (s *MemoryStore) Append(_ context.Context, runID string, results ...models.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = append(s.runs[runID], results...)
	return nil
}

// List 实现 ResultStore，返回副本。
func (s *MemoryStore) List(_ context.Context, runID string) ([]models.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TaskResult(nil), s.runs[runID]...), nil
}
