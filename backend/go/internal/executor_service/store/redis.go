package store

import (
	"asterism/backend/go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore 把每次运行的结果保存为一个 JSON 列表。
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 结果存储。ttl 为 0 表示不过期。
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(runID string) string {
	return s.prefix + runID
}

// Append 用一个事务管道写入结果并刷新过期时间。
func (s *RedisStore) Append(ctx context.Context, runID string, results ...models.TaskResult) error {
	if len(results) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(results))
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal result %s: %w", r.TaskID, err)
		}
		values = append(values, data)
	}

	key := s.key(runID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append results for run %s: %w", runID, err)
	}
	return nil
}

// List 读取一次运行的全部结果。
func (s *RedisStore) List(ctx context.Context, runID string) ([]models.TaskResult, error) {
	raw, err := s.client.LRange(ctx, s.key(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list results for run %s: %w", runID, err)
	}
	out := make([]models.TaskResult, 0, len(raw))
	for i, item := range raw {
		var r models.TaskResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode result %d for run %s: %w", i, runID, err)
		}
		out = append(out, r)
	}
	return out, nil
}
