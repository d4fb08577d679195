package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// UpdateHandler receives one normalized source update.
type UpdateHandler func(ctx context.Context, u domain.SourceUpdate) error

// Consumer feeds SourceUpdates published by external feed decoders into the engine.
type Consumer struct {
	reader messageReader
	handle UpdateHandler
	now    func() time.Time
}

// NewConsumer creates a consumer-group reader on topic.
func NewConsumer(brokers []string, topic, groupID string, handle UpdateHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
			MaxWait:  100 * time.Millisecond,
		}),
		handle: handle,
		now:    time.Now,
	}
}

// Run reads until ctx is cancelled. Malformed messages are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var u domain.SourceUpdate
		if err := json.Unmarshal(m.Value, &u); err != nil {
			slog.Warn("kafka: bad update message", "offset", m.Offset, "err", err)
			continue
		}
		if u.EventID == "" || u.Source == "" {
			slog.Warn("kafka: update without event or source", "offset", m.Offset)
			continue
		}
		if u.ReceivedAt.IsZero() {
			u.ReceivedAt = c.now()
		}
		if err := c.handle(ctx, u); err != nil {
			slog.Error("kafka: apply update", "event", u.EventID, "source", u.Source, "err", err)
		}
	}
}
