package repository

import (
	"context"

	"EnigmaHub/internal/domain/models"
	"EnigmaHub/internal/domain/repository"
	pkgkafka "EnigmaHub/pkg/kafka"
)

// KafkaFirehose publishes classified signals to a Kafka topic.
type KafkaFirehose struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaFirehose creates a Kafka signal publisher.
func NewKafkaFirehose(producer *pkgkafka.Producer, topic string) repository.Firehose {
	return &KafkaFirehose{producer: producer, topic: topic}
}

func (p *KafkaFirehose) Publish(ctx context.Context, s *models.Signal) error {
	key := []byte(s.Symbol)
	if s.Symbol == "" {
		key = []byte(s.ID)
	}
	return p.producer.Publish(ctx, p.topic, key, s)
}

func (p *KafkaFirehose) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
