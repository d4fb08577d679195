// Package kafka publishes journal records to, and consumes normalized
// source updates from, Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// Record kinds, carried in the "kind" header.
const (
	KindActivity    = "activity"
	KindClosedTrade = "closed_trade"
	KindRedemption  = "redemption"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements ports.Journal on a Kafka topic, one JSON message per record.
type Publisher struct {
	w messageWriter
}

// NewPublisher constructs a kafka.Writer compatible with kafka-go v0.4.x.
func NewPublisher(brokers []string, topic string) *Publisher {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
		Async:        true,
	})
	return &Publisher{w: w}
}

type activityRecord struct {
	At       time.Time `json:"at"`
	EventID  string    `json:"event_id"`
	Label    string    `json:"label"`
	Source   string    `json:"source,omitempty"`
	Score    string    `json:"score"`
	Goal     string    `json:"goal,omitempty"`
	Decision string    `json:"decision"`
	Reason   string    `json:"reason,omitempty"`
}

type closedTradeRecord struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	AssetID      string    `json:"asset_id"`
	MarketKey    string    `json:"market_key"`
	Label        string    `json:"label"`
	Side         string    `json:"side"`
	Goal         string    `json:"goal"`
	EntryPrice   float64   `json:"entry_price"`
	EntryToken   float64   `json:"entry_token_price"`
	ExitPrice    float64   `json:"exit_token_price"`
	Shares       float64   `json:"shares"`
	Committed    float64   `json:"committed"`
	PnL          float64   `json:"pnl"`
	ExitReason   string    `json:"exit_reason"`
	ExitAttempts int       `json:"exit_attempts"`
	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
}

type redemptionRecord struct {
	AssetID     string    `json:"asset_id"`
	ConditionID string    `json:"condition_id"`
	Title       string    `json:"title"`
	Path        string    `json:"path"`
	Success     bool      `json:"success"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Error       string    `json:"error,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
}

func (p *Publisher) RecordActivity(ctx context.Context, a domain.GoalActivity) error {
	return p.publish(ctx, KindActivity, a.EventID, a.At, activityRecord{
		At: a.At, EventID: a.EventID, Label: a.Label, Source: a.Source, Score: a.Score,
		Goal: string(a.Goal), Decision: string(a.Decision), Reason: a.Reason,
	})
}

func (p *Publisher) RecordClosedTrade(ctx context.Context, t domain.ManagedPosition) error {
	return p.publish(ctx, KindClosedTrade, t.EventID, t.ExitTime, closedTradeRecord{
		ID: t.ID, EventID: t.EventID, AssetID: t.AssetID, MarketKey: t.MarketKey, Label: t.Label,
		Side: string(t.Side), Goal: string(t.Goal), EntryPrice: t.EntryPrice, EntryToken: t.EntryTokenPrice,
		ExitPrice: t.ExitPrice, Shares: t.Shares, Committed: t.Committed, PnL: t.PnL,
		ExitReason: string(t.ExitReason), ExitAttempts: t.ExitAttempts, EntryTime: t.EntryTime, ExitTime: t.ExitTime,
	})
}

func (p *Publisher) RecordRedemption(ctx context.Context, o domain.RedeemOutcome) error {
	return p.publish(ctx, KindRedemption, o.ConditionID, o.ExecutedAt, redemptionRecord{
		AssetID: o.AssetID, ConditionID: o.ConditionID, Title: o.Title, Path: string(o.Path),
		Success: o.Success, TxHash: o.TxHash, Error: o.Error, ExecutedAt: o.ExecutedAt,
	})
}

func (p *Publisher) publish(ctx context.Context, kind, key string, at time.Time, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kafka.publish %s: marshal: %w", kind, err)
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   b,
		Time:    at,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(kind)}},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka.publish %s: %w", kind, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}
