package repository

import (
	"context"
	"fmt"

	"FinSight/internal/domain/models"
	pkgkafka "FinSight/pkg/kafka"
)

// KafkaEventPublisher publishes completed analyses to the downstream
// topic, keyed by symbol so per-symbol ordering survives partitioning.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaEventPublisher creates a Kafka-backed event publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

// PublishAnalysis emits one analysis event.
func (p *KafkaEventPublisher) PublishAnalysis(ctx context.Context, ev models.AnalysisEvent) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(ev.Symbol), ev); err != nil {
		return fmt.Errorf("publish analysis event: %w", err)
	}
	return nil
}

// Close closes the underlying producer.
func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}
