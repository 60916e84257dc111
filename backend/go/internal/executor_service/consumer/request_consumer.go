package consumer

import (
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/logger"
	"context"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"
)

// MessageReader 是 *kafka.Reader 中消费者使用的部分。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler 处理一条消息。返回错误只会被记录，消息仍会提交。
type Handler func(context.Context, kafka.Message) error

// RequestConsumer is responsible for consuming execution requests from Kafka.
type RequestConsumer struct {
	reader MessageReader
	logger *logger.Logger
	done   chan struct{}
}

// NewRequestConsumer creates a new RequestConsumer.
func NewRequestConsumer(reader MessageReader, logger *logger.Logger) *RequestConsumer {
	return &RequestConsumer{reader: reader, logger: logger, done: make(chan struct{})}
}

// Start begins consuming messages in a background goroutine.
func (c *RequestConsumer) Start(ctx context.Context, handler Handler) {
	go func() {
		defer close(c.done)
		c.run(ctx, handler)
	}()
}

// Done is closed once the consume loop has exited.
func (c *RequestConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *RequestConsumer) run(ctx context.Context, handler Handler) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Stopping Kafka request consumer...")
				return
			}
			c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error fetching message from Kafka")
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.WithError(models.NewErrorInfo(err)).WithPayload(map[string]interface{}{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("Error handling Kafka message")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to commit Kafka message")
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *RequestConsumer) Close() error {
	return c.reader.Close()
}
