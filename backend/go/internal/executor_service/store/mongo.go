package store

import (
	"asterism/backend/go/internal/models"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// resultDocument 是 Mongo 中的一条结果记录。seq 保证同一时间戳内的写入顺序。
type resultDocument struct {
	RunID     string      `bson:"run_id"`
	Seq       int64       `bson:"seq"`
	TaskID    string      `bson:"task_id"`
	PlanKey   string      `bson:"plan_key,omitempty"`
	Success   bool        `bson:"success"`
	Result    interface{} `bson:"result,omitempty"`
	Error     string      `bson:"error,omitempty"`
	Timestamp time.Time   `bson:"timestamp"`
}

// MongoStore 把结果追加到一个集合中，每条结果一个文档。
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore 创建 Mongo 结果存储。
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// Append 批量插入结果。
func (s *MongoStore) Append(ctx context.Context, runID string, results ...models.TaskResult) error {
	if len(results) == 0 {
		return nil
	}
	base := time.Now().UnixNano()
	docs := make([]interface{}, 0, len(results))
	for i, r := range results {
		docs = append(docs, resultDocument{
			RunID:     runID,
			Seq:       base + int64(i),
			TaskID:    r.TaskID,
			PlanKey:   r.PlanKey,
			Success:   r.Success,
			Result:    r.Result,
			Error:     r.Error,
			Timestamp: r.Timestamp,
		})
	}
	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert results for run %s: %w", runID, err)
	}
	return nil
}

// List 按写入顺序返回一次运行的结果。
func (s *MongoStore) List(ctx context.Context, runID string) ([]models.TaskResult, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"run_id": runID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find results for run %s: %w", runID, err)
	}
	defer cursor.Close(ctx)

	var docs []resultDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode results for run %s: %w", runID, err)
	}
	out := make([]models.TaskResult, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.TaskResult{
			TaskID:    d.TaskID,
			PlanKey:   d.PlanKey,
			Success:   d.Success,
			Result:    normalize(d.Result),
			Error:     d.Error,
			Timestamp: d.Timestamp,
		})
	}
	return out, nil
}

// normalize 把驱动解码出的 BSON 类型转换为与 JSON 解码一致的 map 和切片。
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case primitive.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
