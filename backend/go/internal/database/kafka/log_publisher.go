package kafka

import (
	"asterism/backend/go/internal/models"
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter 是 *kafka.Writer 的最小子集，测试中可替换。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher 把值序列化为 JSON 后写入指定主题。
type Publisher struct {
	writer MessageWriter
}

// NewPublisher 基于共享 writer 创建发布器。
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

// Publish 发送一条以 key 分区的 JSON 消息。
func (p *Publisher) Publish(ctx context.Context, topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// LogPublisher 封装了向 Kafka 发送任务日志的逻辑。
type LogPublisher struct {
	publisher *Publisher
	topic     string
}

// NewLogPublisher 创建一个新的 LogPublisher 实例。
func NewLogPublisher(p *Publisher, topic string) *LogPublisher {
	return &LogPublisher{publisher: p, topic: topic}
}

// LogTaskProgress 将 TaskLogEntry 发送到日志主题。同一运行的日志使用相同的键以保持顺序。
func (p *LogPublisher) LogTaskProgress(ctx context.Context, entry *models.TaskLogEntry) error {
	return p.publisher.Publish(ctx, p.topic, entry.RunID, entry)
}
