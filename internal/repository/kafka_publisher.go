package repository

import (
	"context"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
	pkgkafka "BarPulse/pkg/kafka"
)

// KafkaPredictionPublisher pushes predictions to the downstream topic, keyed
// by symbol so consumers see per-symbol order.
type KafkaPredictionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.PredictionPublisher = (*KafkaPredictionPublisher)(nil)

// NewKafkaPredictionPublisher binds a producer to the predictions topic.
func NewKafkaPredictionPublisher(producer *pkgkafka.Producer, topic string) *KafkaPredictionPublisher {
	return &KafkaPredictionPublisher{producer: producer, topic: topic}
}

func (p *KafkaPredictionPublisher) Publish(ctx context.Context, pred *models.Prediction) error {
	return p.producer.Publish(ctx, p.topic, []byte(pred.Symbol), pred)
}

func (p *KafkaPredictionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
