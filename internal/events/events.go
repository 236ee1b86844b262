// Package events publishes payment domain events for downstream consumers
// such as fulfilment and analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/wichananm65/art-market-backend/internal/config"
)

const TypePaymentSucceeded = "payment.succeeded"

type PaymentSucceeded struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	OrderID          int64           `json:"orderId"`
	CustomerID       int64           `json:"customerId"`
	PaymentID        int64           `json:"paymentId"`
	TransactionID    string          `json:"transactionId"`
	PaymentReference string          `json:"paymentReference"`
	Provider         string          `json:"provider"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	ArtworkIDs       []int64         `json:"artworkIds"`
	OccurredAt       time.Time       `json:"occurredAt"`
}

type Publisher interface {
	PaymentSucceeded(ctx context.Context, e PaymentSucceeded) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys every message by order id so the events of one order
// stay on one partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) PaymentSucceeded(ctx context.Context, e PaymentSucceeded) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Type = TypePaymentSucceeded
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(e.OrderID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
		Time: e.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for order %d: %w", e.Type, e.OrderID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// NopPublisher drops events. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PaymentSucceeded(context.Context, PaymentSucceeded) error { return nil }
func (NopPublisher) Close() error                                              { return nil }
