// Package events publishes payment settlement notifications for downstream
// services (account activation, wallet top-up).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
)

const DefaultTopic = "payment.settled"

// Settlement is emitted once, when a transaction first reaches a terminal state.
type Settlement struct {
	Reference     string          `json:"reference"`
	Purpose       string          `json:"purpose,omitempty"` // ACT, DEP, UPG
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Phone         string          `json:"phone,omitempty"`
	Receipt       string          `json:"receipt,omitempty"`
	ResultCode    int             `json:"result_code"`
	ResultDesc    string          `json:"result_desc,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	SettledAt     time.Time       `json:"settled_at"`
}

type Publisher interface {
	PublishSettlement(ctx context.Context, s Settlement) error
	Close() error
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) PublishSettlement(context.Context, Settlement) error { return nil }
func (Nop) Close() error                                        { return nil }

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer that waits for all in-sync
// replicas. Retries a few times while the broker comes up.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	var (
		producer sarama.SyncProducer
		err      error
	)
	for i := 1; i <= 5; i++ {
		producer, err = sarama.NewSyncProducer(brokers, cfg)
		if err == nil {
			slog.Info("kafka producer ready", "brokers", brokers, "topic", topic)
			return NewKafkaPublisherFromProducer(producer, topic), nil
		}
		slog.Warn("waiting for kafka", "attempt", i, "err", err)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("kafka producer: %w", err)
}

func NewKafkaPublisherFromProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: p, topic: topic}
}

// PublishSettlement keys the message by reference so every event for one
// payment lands on the same partition.
func (k *KafkaPublisher) PublishSettlement(ctx context.Context, s Settlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(s.Reference),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", s.Reference, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error { return k.producer.Close() }
