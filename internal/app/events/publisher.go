// Package events publishes tip lifecycle events for downstream consumers
// (ledgers, analytics). Publishing is advisory: the tip record stays the
// source of truth and a failed publish never fails the operation that
// produced it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
)

// DefaultTopic carries every tip lifecycle event.
const DefaultTopic = "tips.lifecycle"

// Event types.
const (
	TypeTipCreated       = "tip.created"
	TypeTipStatusChanged = "tip.status_changed"
)

// Lifecycle is one tip lifecycle event.
type Lifecycle struct {
	Type       string     `json:"type"`
	TipID      string     `json:"tipId"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Amount     string     `json:"amount"`
	From       tip.Status `json:"from,omitempty"`
	To         tip.Status `json:"to"`
	Reason     string     `json:"reason,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// Created builds the event for a newly persisted tip.
func Created(t tip.Tip) Lifecycle {
	return Lifecycle{
		Type:       TypeTipCreated,
		TipID:      t.ID,
		SenderID:   t.SenderID,
		ReceiverID: t.ReceiverID,
		Amount:     t.Amount.String(),
		To:         t.Status,
		OccurredAt: time.Now().UTC(),
	}
}

// StatusChanged builds the event for a status transition.
func StatusChanged(t tip.Tip, from tip.Status, reason string) Lifecycle {
	ev := Created(t)
	ev.Type = TypeTipStatusChanged
	ev.From = from
	ev.Reason = reason
	return ev
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Lifecycle) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by tip id so a tip's
// events stay ordered within its partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher dials brokers with a synchronous, fully acknowledged
// producer.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Lifecycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.TipID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(ev.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher discards events. Used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Lifecycle) error { return nil }
func (NoopPublisher) Close() error                             { return nil }
