package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"spawnwatch/internal/config"
	"spawnwatch/internal/model"
)

// KafkaConsumer reads webhook payloads (single envelopes or arrays) from a
// topic and feeds parsed events to the pipeline.
type KafkaConsumer struct {
	reader   *kafka.Reader
	out      chan<- model.Event
	onReject RejectFunc
	logger   *slog.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, out chan<- model.Event, onReject RejectFunc, logger *slog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	return &KafkaConsumer{reader: reader, out: out, onReject: onReject, logger: logger}
}

// Run consumes until ctx is done. Read errors back off and retry.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.logger != nil {
				c.logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		c.handle(ctx, m.Value)
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, value []byte) {
	envelopes, err := DecodeEnvelopes(value)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("kafka payload undecodable", "err", err)
		}
		if c.onReject != nil {
			c.onReject(KindUnknown, err)
		}
		return
	}
	for _, env := range envelopes {
		ev, err := Parse(env)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("kafka webhook rejected", "type", env.Type, "err", err)
			}
			if c.onReject != nil {
				c.onReject(KindOf(env.Type), err)
			}
			continue
		}
		SendNonBlocking(ctx, c.out, ev, c.logger)
	}
}
