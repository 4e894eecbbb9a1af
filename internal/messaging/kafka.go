package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/pkg/models"
)

// InteractionProducer publishes tracked interaction events to the
// platform's interaction topic so downstream consumers (analytics,
// other engines) see the same feed the recommendation engine reads.
type InteractionProducer struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

func NewInteractionProducer(cfg *config.Config, logger *logrus.Logger) *InteractionProducer {
	return &InteractionProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topics.Interactions,
			Balancer:     &kafka.Hash{}, // key by product so per-product ordering holds
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
		logger: logger,
	}
}

func (p *InteractionProducer) Publish(ctx context.Context, ev models.InteractionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal interaction event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ProductID.String()),
		Value: payload,
		Time:  ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("publish interaction event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"product_id": ev.ProductID,
		"kind":       ev.Kind,
	}).Debug("Published interaction event")

	return nil
}

func (p *InteractionProducer) Close() error {
	return p.writer.Close()
}
