package usecase

import (
	"context"
	"encoding/json"

	"EnigmaHub/internal/domain/models"
	domrepo "EnigmaHub/internal/domain/repository"
	"EnigmaHub/internal/hub"
	pkgkafka "EnigmaHub/pkg/kafka"
)

// KafkaSignalsHandler consumes raw signal payloads from Kafka and pushes
// them through the hub pipeline, same as a frame arriving over WebSocket.
type KafkaSignalsHandler struct {
	topic   string
	hub     *hub.Hub
	metrics domrepo.Metrics
}

func NewKafkaSignalsHandler(topic string, h *hub.Hub, metrics domrepo.Metrics) *KafkaSignalsHandler {
	return &KafkaSignalsHandler{topic: topic, hub: h, metrics: metrics}
}

func (h *KafkaSignalsHandler) Topic() string { return h.topic }

func (h *KafkaSignalsHandler) Handle(ctx context.Context, b []byte) error {
	var raw models.RawSignal
	if err := json.Unmarshal(b, &raw); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	h.hub.IngestSignal(ctx, &raw, "kafka")
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaSignalsHandler)(nil)
