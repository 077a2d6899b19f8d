package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/climate-layers-etl/internal/config"
	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// Publisher announces finished layers on a Kafka topic.
// It implements pipeline.Notifier.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured layer event topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishLayerEvent writes one event keyed by its layer, so events for the
// same layer stay ordered within a partition.
func (p *Publisher) PublishLayerEvent(ctx context.Context, event domain.LayerEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Layer, err)
	}
	p.logger.Debug("layer event published", "layer", event.Layer, "event_id", event.ID)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a LayerEvent into a Kafka message.
func serializeToMessage(event domain.LayerEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize layer event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Layer),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "layer", Value: []byte(event.Layer)},
			{Key: "status", Value: []byte(event.Status)},
			{Key: "emitted_at", Value: []byte(event.EmittedAt.Format(time.RFC3339))},
		},
	}, nil
}

// DecodeMessage parses a message written by PublishLayerEvent.
func DecodeMessage(msg kafkago.Message) (domain.LayerEvent, error) {
	var event domain.LayerEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return domain.LayerEvent{}, fmt.Errorf("decode layer event: %w", err)
	}
	return event, nil
}
