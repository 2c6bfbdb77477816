package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const writeTimeout = 10 * time.Second

type kafkaMessage struct {
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

// KafkaChannel publishes deliveries keyed by recipient so one recipient's
// messages stay ordered on a single partition.
type KafkaChannel struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaChannel(brokers []string, topic string) (*KafkaChannel, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka delivery requires brokers")
	}
	if topic == "" {
		return nil, errors.New("kafka delivery requires a topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaChannel{writer: writer, topic: topic}, nil
}

func (k *KafkaChannel) Deliver(ctx context.Context, recipient, message string) error {
	sentAt := time.Now().UTC()
	value, err := json.Marshal(kafkaMessage{Recipient: recipient, Message: message, SentAt: sentAt})
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(recipient),
		Value: value,
		Time:  sentAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka topic %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}
