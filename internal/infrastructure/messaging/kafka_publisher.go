// Package messaging forwards outbox events to Kafka
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/tradeledger/backend/internal/domain/shared"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Header keys set on every published message
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
	HeaderOccurredAt    = "occurred_at"
)

var (
	// ErrNoBrokers is returned when Kafka is enabled without brokers
	ErrNoBrokers = errors.New("kafka brokers required")
	// ErrNoTopic is returned when Kafka is enabled without a topic
	ErrNoTopic = errors.New("kafka topic required")
)

// KafkaPublisher forwards outbox entries to a Kafka topic. Messages are keyed
// by aggregate id so one aggregate's events stay on one partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewProducerConfig returns the producer settings used for the ledger feed:
// idempotent writes acknowledged by all in-sync replicas
func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	return cfg
}

// NewKafkaPublisher connects a sync producer to the configured brokers
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		return nil, ErrNoTopic
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer. The publisher takes
// ownership and closes it on Close.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.Named("kafka"),
	}
}

// Name implements event.Forwarder
func (p *KafkaPublisher) Name() string {
	return "kafka:" + p.topic
}

// Forward implements event.Forwarder
func (p *KafkaPublisher) Forward(ctx context.Context, entry *shared.OutboxEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(entry.AggregateID.String()),
		Value: sarama.ByteEncoder(entry.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventID), Value: []byte(entry.EventID.String())},
			{Key: []byte(HeaderEventType), Value: []byte(entry.EventType)},
			{Key: []byte(HeaderAggregateType), Value: []byte(entry.AggregateType)},
			{Key: []byte(HeaderOccurredAt), Value: []byte(entry.CreatedAt.UTC().Format(time.RFC3339Nano))},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("kafka publish failed",
			zap.String("topic", p.topic),
			zap.String("event_id", entry.EventID.String()),
			zap.String("event_type", entry.EventType),
			zap.Error(err))
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	p.logger.Debug("event forwarded",
		zap.String("event_id", entry.EventID.String()),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the producer
func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
