package publisher

import (
	"asterism/backend/go/internal/database/kafka"
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/logger"
	"context"
)

// ResultPublisher is responsible for publishing execution states to Kafka.
type ResultPublisher struct {
	publisher *kafka.Publisher
	topic     string
	logger    *logger.Logger
}

// NewResultPublisher creates a new ResultPublisher for the given topic.
func NewResultPublisher(p *kafka.Publisher, topic string, logger *logger.Logger) *ResultPublisher {
	return &ResultPublisher{publisher: p, topic: topic, logger: logger}
}

// Publish sends a message keyed by run id to the results topic.
func (p *ResultPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	if err := p.publisher.Publish(ctx, p.topic, key, value); err != nil {
		p.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"topic": p.topic}).Error("Failed to write result message to Kafka")
		return err
	}
	return nil
}
